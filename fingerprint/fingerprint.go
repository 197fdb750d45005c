package fingerprint

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Prefix marks the fingerprint format version.
const Prefix = "fp1_"

// Request headers carrying client-collected signals.
const (
	HeaderScreen      = "X-Device-Screen"
	HeaderTimezone    = "X-Device-Timezone-Offset"
	HeaderCanvas      = "X-Device-Canvas"
	HeaderConcurrency = "X-Device-Concurrency"
	HeaderMemory      = "X-Device-Memory"
	HeaderLocale      = "X-Device-Locale"
)

// Signals are the client environment properties a fingerprint is derived from.
type Signals struct {
	UserAgent           string  `json:"user_agent"`
	Locale              string  `json:"locale"`
	ScreenSize          string  `json:"screen_size"`
	TimezoneOffset      int     `json:"timezone_offset"`
	CanvasHash          string  `json:"canvas_hash"`
	HardwareConcurrency int     `json:"hardware_concurrency"`
	DeviceMemory        float64 `json:"device_memory"`
}

// Derive returns a deterministic, opaque identifier for s.
//
// Fields are hashed in a fixed order with zero-byte separators using xxhash64. This is a soft
// binding: collisions are tolerated and it is never a substitute for session revocation.
func Derive(s Signals) string {
	h := xxhash.New()
	write := func(v string) {
		_, _ = h.WriteString(v)
		_, _ = h.Write([]byte{0})
	}

	write(Prefix)
	write(strings.TrimSpace(s.UserAgent))
	write(strings.ToLower(strings.TrimSpace(s.Locale)))
	write(strings.TrimSpace(s.ScreenSize))
	write(strconv.Itoa(s.TimezoneOffset))
	write(strings.TrimSpace(s.CanvasHash))
	write(strconv.Itoa(s.HardwareConcurrency))
	write(strconv.FormatFloat(s.DeviceMemory, 'g', -1, 64))

	var buf [16]byte
	sum := strconv.AppendUint(buf[:0], h.Sum64(), 16)
	return Prefix + strings.Repeat("0", 16-len(sum)) + string(sum)
}

// FromRequest collects Signals from r's headers. Missing or malformed numeric headers read as zero.
func FromRequest(r *http.Request) Signals {
	if r == nil {
		return Signals{}
	}
	locale := r.Header.Get(HeaderLocale)
	if locale == "" {
		locale = primaryLanguage(r.Header.Get("Accept-Language"))
	}
	tz, _ := strconv.Atoi(strings.TrimSpace(r.Header.Get(HeaderTimezone)))
	cores, _ := strconv.Atoi(strings.TrimSpace(r.Header.Get(HeaderConcurrency)))
	mem, _ := strconv.ParseFloat(strings.TrimSpace(r.Header.Get(HeaderMemory)), 64)

	return Signals{
		UserAgent:           r.UserAgent(),
		Locale:              locale,
		ScreenSize:          r.Header.Get(HeaderScreen),
		TimezoneOffset:      tz,
		CanvasHash:          r.Header.Get(HeaderCanvas),
		HardwareConcurrency: cores,
		DeviceMemory:        mem,
	}
}

// Equal compares two fingerprints in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func primaryLanguage(acceptLanguage string) string {
	first, _, _ := strings.Cut(acceptLanguage, ",")
	tag, _, _ := strings.Cut(first, ";")
	return strings.TrimSpace(tag)
}
