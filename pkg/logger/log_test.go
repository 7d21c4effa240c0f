package logger

import (
	"strings"
	"testing"

	"portico/pkg/platform"
)

func TestSafeHeadersRedaction(t *testing.T) {
	h := platform.Header{
		"authorization": {"Bearer secret-token"},
		"x-api-key":     {"k-123"},
		"content-type":  {"application/json"},
		"empty":         {},
	}
	out := SafeHeaders(h)

	if strings.Contains(out, "secret-token") || strings.Contains(out, "k-123") {
		t.Fatalf("sensitive values leaked: %s", out)
	}
	if !strings.Contains(out, "authorization=<redacted>") {
		t.Fatalf("expected redaction marker: %s", out)
	}
	if !strings.Contains(out, "content-type=application/json") {
		t.Fatalf("expected plain header preserved: %s", out)
	}
	if strings.Contains(out, "empty=") {
		t.Fatalf("expected value-less header skipped: %s", out)
	}
}

func TestLevelParsing(t *testing.T) {
	t.Setenv("PORTICO_LOG_LEVEL", "")
	for in, want := range map[string]string{
		"debug": "DEBUG", "info": "INFO", "warning": "WARN", "error": "ERROR", "junk": "INFO", "": "INFO",
	} {
		if got := parseLevel(in).Level().String(); got != want {
			t.Fatalf("level %q parsed to %s, want %s", in, got, want)
		}
	}
}
