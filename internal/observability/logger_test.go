package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"INFO":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
		"bogus": zerolog.InfoLevel,
		"":      zerolog.InfoLevel,
	}
	for in, expected := range cases {
		if got := ParseLevel(in); got != expected {
			t.Errorf("ParseLevel(%q): expected %v, got %v", in, expected, got)
		}
	}
}

func TestInitLoggerWithWriter(t *testing.T) {
	var buf bytes.Buffer
	InitLoggerWithWriter("warn", false, &buf)
	defer InitLogger("info", false)

	logger := GetLogger()
	logger.Info().Msg("hidden")
	tagged := WithCorrelationID("abc")
	tagged.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Expected info message to be filtered at warn level")
	}
	if !strings.Contains(out, `"correlation_id":"abc"`) || !strings.Contains(out, "shown") {
		t.Errorf("Expected warn message with correlation id, got %s", out)
	}
}

func TestNewCorrelationID(t *testing.T) {
	a, b := NewCorrelationID(), NewCorrelationID()
	if len(a) != 36 || a == b {
		t.Errorf("Expected distinct UUIDs, got %q and %q", a, b)
	}
}
