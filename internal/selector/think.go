package selector

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidThinkTime is returned by ThinkTimeConfig.Validate.
var ErrInvalidThinkTime = errors.New("selector: invalid think time")

// Think time distributions.
const (
	DistributionUniform     = "uniform"
	DistributionExponential = "exponential"
	DistributionConstant    = "constant"
)

// ThinkTimeConfig configures the pause between two behaviors of a user.
type ThinkTimeConfig struct {
	// Min is the shortest pause.
	Min time.Duration `yaml:"min" json:"min"`

	// Max is the longest pause.
	Max time.Duration `yaml:"max" json:"max"`

	// Distribution is one of "uniform", "exponential" or "constant".
	// Default: "uniform"
	Distribution string `yaml:"distribution,omitempty" json:"distribution,omitempty"`
}

// Between returns a uniform think time in [min, max].
func Between(min, max time.Duration) ThinkTimeConfig {
	return ThinkTimeConfig{Min: min, Max: max, Distribution: DistributionUniform}
}

// IsZero reports whether no think time is configured.
func (c ThinkTimeConfig) IsZero() bool {
	return c.Min == 0 && c.Max == 0
}

// Validate checks bounds and distribution name.
func (c ThinkTimeConfig) Validate() error {
	if c.Min < 0 || c.Max < 0 {
		return fmt.Errorf("%w: must be non-negative", ErrInvalidThinkTime)
	}
	if c.Min > c.Max {
		return fmt.Errorf("%w: min %s > max %s", ErrInvalidThinkTime, c.Min, c.Max)
	}
	switch c.Distribution {
	case "", DistributionUniform, DistributionExponential, DistributionConstant:
		return nil
	default:
		return fmt.Errorf("%w: unknown distribution %q", ErrInvalidThinkTime, c.Distribution)
	}
}

// Next samples a think time in [Min, Max].
func (c ThinkTimeConfig) Next(src Source) time.Duration {
	if c.Min >= c.Max || c.Distribution == DistributionConstant {
		return c.Min
	}

	u := src.Float64Range(0, 1)
	span := float64(c.Max - c.Min)

	var offset float64
	switch c.Distribution {
	case DistributionExponential:
		// Inverse transform with mean span/2, clamped to the range.
		offset = -math.Log(1-u) * span / 2
		if offset > span {
			offset = span
		}
	default:
		offset = u * span
	}
	return c.Min + time.Duration(offset)
}
