package dblog

import (
	"bytes"
	"strings"
	"testing"
)

func TestInitJSONOutputWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: LevelDebug, JSONOutput: true, Output: &buf})

	WithComponent("buffer").Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"component":"buffer"`) {
		t.Errorf("log output = %q, want a component field", out)
	}
	if !strings.Contains(out, `"message":"hello"`) {
		t.Errorf("log output = %q, want the logged message", out)
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if got := parseLevel(Level("nonsense")); got != parseLevel(LevelInfo) {
		t.Errorf("parseLevel(nonsense) = %v, want the same as LevelInfo", got)
	}
}

func TestWithConnTagsConnectionID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: LevelInfo, JSONOutput: true, Output: &buf})

	WithConn("abc-123").Info().Msg("connected")

	if !strings.Contains(buf.String(), `"conn":"abc-123"`) {
		t.Errorf("log output = %q, want a conn field", buf.String())
	}
}
