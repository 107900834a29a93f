package obslog_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/lookbusy1344/sbrace/internal/obslog"
)

func TestDisabledLevelEmitsNothing(t *testing.T) {
	var buf bytes.Buffer
	log := obslog.New(&buf, obslog.LevelInfo)
	log.Debug().Str("tid", "0").Msg("should not appear")
	if buf.Len() != 0 {
		t.Errorf("expected no output below the configured level, got %q", buf.String())
	}
}

func TestEnabledLevelWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := obslog.New(&buf, obslog.LevelDebug)
	log.Debug().Int("tid", 3).Str("op", "store").Msg("stepped")
	out := buf.String()
	if !strings.Contains(out, `"tid":3`) || !strings.Contains(out, `"op":"store"`) {
		t.Errorf("expected structured fields in output, got %q", out)
	}
	if !strings.Contains(out, "stepped") {
		t.Errorf("expected message in output, got %q", out)
	}
}

func TestDiscardNeverPanics(t *testing.T) {
	obslog.Discard.Error().Err(nil).Int("x", 1).Msg("dropped")
}

func TestNilWriterFallsBackToDiscard(t *testing.T) {
	log := obslog.New(nil, obslog.LevelTrace)
	log.Trace().Msg("no panic expected")
}
