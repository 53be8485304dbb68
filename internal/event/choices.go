package event

// Fixed value sets the payload builders draw from.
var (
	PlaybackEvents = []Name{Playing, Paused, Buffering, Buffered, Seeking, Seeked}
	LoadingEvents  = []Name{Loading, Loaded}

	DeviceModels = []string{"iPhone 14", "Samsung Galaxy S23", "iPad Pro", "MacBook Pro"}
	DeviceTypes  = []string{"mobile", "tablet", "desktop"}

	Bitrates      = []int{500000, 1000000, 2000000, 4000000, 8000000}
	Widths        = []int{1280, 1920, 3840}
	Heights       = []int{720, 1080, 2160}
	VideoBitrates = []int{400000, 800000, 2000000, 6000000}
	AudioBitrates = []int{128000, 256000, 320000}

	ErrorCategories = []string{"NETWORK", "DECODER", "PLAYER", "DRM"}
	ErrorCodes      = []string{"404", "500", "503", "1001", "1002"}
	ErrorMessages   = []string{"Network error", "Playback failed", "Server error", "Decoder error"}

	WarningCategories = []string{"NETWORK", "PLAYER", "QUALITY"}
	WarningCodes      = []string{"100", "200", "300", "2001", "2002"}
	WarningMessages   = []string{"Low bandwidth", "Buffer underrun", "Quality degraded"}

	StopReasons = []string{"ended", "aborted", "error", "user_action"}

	// InvalidPaths are probed to check the endpoint rejects unknown routes.
	InvalidPaths = []string{"/invalid", "/test", "/health"}
)

// ContentURL is the fixed content location reported in metadata.
const ContentURL = "https://example.com/content.mp4"

// IsSeek reports whether n moves the playhead.
func IsSeek(n Name) bool {
	return n == Seeking || n == Seeked
}
