package fingerprint

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func sampleSignals() Signals {
	return Signals{
		UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) Firefox/124.0",
		Locale:              "en-US",
		ScreenSize:          "1920x1080",
		TimezoneOffset:      -60,
		CanvasHash:          "c4n7a5",
		HardwareConcurrency: 8,
		DeviceMemory:        8,
	}
}

func TestDeriveDeterministic(t *testing.T) {
	a := Derive(sampleSignals())
	b := Derive(sampleSignals())
	if a != b {
		t.Fatalf("expected stable fingerprint, got %q and %q", a, b)
	}
	if !strings.HasPrefix(a, Prefix) || len(a) != len(Prefix)+16 {
		t.Fatalf("unexpected format %q", a)
	}
}

func TestDeriveSensitiveToEachSignal(t *testing.T) {
	base := Derive(sampleSignals())
	mutations := map[string]func(*Signals){
		"ua":     func(s *Signals) { s.UserAgent = "curl/8.0" },
		"locale": func(s *Signals) { s.Locale = "de-DE" },
		"screen": func(s *Signals) { s.ScreenSize = "1280x720" },
		"tz":     func(s *Signals) { s.TimezoneOffset = 0 },
		"canvas": func(s *Signals) { s.CanvasHash = "other" },
		"cores":  func(s *Signals) { s.HardwareConcurrency = 4 },
		"memory": func(s *Signals) { s.DeviceMemory = 0.5 },
	}
	for name, mutate := range mutations {
		s := sampleSignals()
		mutate(&s)
		if Derive(s) == base {
			t.Fatalf("changing %s did not change the fingerprint", name)
		}
	}
}

func TestDeriveSeparatorsPreventShifting(t *testing.T) {
	a := Signals{UserAgent: "ab", Locale: "c"}
	b := Signals{UserAgent: "a", Locale: "bc"}
	if Derive(a) == Derive(b) {
		t.Fatal("field boundaries must be part of the hash input")
	}
}

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/admin", nil)
	r.Header.Set("User-Agent", sampleSignals().UserAgent)
	r.Header.Set("Accept-Language", "en-US,en;q=0.9")
	r.Header.Set(HeaderScreen, "1920x1080")
	r.Header.Set(HeaderTimezone, "-60")
	r.Header.Set(HeaderCanvas, "c4n7a5")
	r.Header.Set(HeaderConcurrency, "8")
	r.Header.Set(HeaderMemory, "8")

	got := FromRequest(r)
	if got != sampleSignals() {
		t.Fatalf("signals mismatch: %+v", got)
	}
	if Derive(got) != Derive(sampleSignals()) {
		t.Fatal("request-derived fingerprint differs")
	}
}

func TestEqual(t *testing.T) {
	fp := Derive(sampleSignals())
	if !Equal(fp, fp) {
		t.Fatal("expected equal")
	}
	if Equal(fp, Derive(Signals{})) {
		t.Fatal("expected different")
	}
}
