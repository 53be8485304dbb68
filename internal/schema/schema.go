// Package schema validates event envelopes against the embedded JSON schema.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrMalformed is returned when a body is not JSON.
	ErrMalformed = errors.New("schema: malformed JSON")
	// ErrInvalidEvent is returned when a document does not match the envelope schema.
	ErrInvalidEvent = errors.New("schema: invalid event")
)

//go:embed envelope.json
var envelopeSchema string

// Validator checks documents against the envelope schema.
//
// Thread Safety: Safe for concurrent use.
type Validator struct {
	schema *gojsonschema.Schema
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
	defaultErr       error
)

// NewValidator compiles the embedded envelope schema.
func NewValidator() (*Validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling envelope schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// Default returns a shared validator, compiling it on first use.
func Default() (*Validator, error) {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = NewValidator()
	})
	return defaultValidator, defaultErr
}

// ValidateBytes validates a raw request body.
func (v *Validator) ValidateBytes(body []byte) error {
	return v.validate(gojsonschema.NewBytesLoader(body))
}

// ValidateValue validates a Go value as it would be marshaled.
func (v *Validator) ValidateValue(doc any) error {
	return v.validate(gojsonschema.NewGoLoader(doc))
}

func (v *Validator) validate(loader gojsonschema.JSONLoader) error {
	result, err := v.schema.Validate(loader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidEvent, strings.Join(msgs, "; "))
	}
	return nil
}
