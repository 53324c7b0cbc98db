package logx

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want zerolog.Level
	}{
		{raw: "debug", want: zerolog.DebugLevel},
		{raw: " WARNING ", want: zerolog.WarnLevel},
		{raw: "error", want: zerolog.ErrorLevel},
		{raw: "", want: zerolog.InfoLevel},
		{raw: "nope", want: zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.raw, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestWithFieldsAreApplied(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := FromZerolog(zerolog.New(&buf)).With(String("group", "g1"))
	l.Info("hello", String("task", "t1"))

	out := buf.String()
	for _, want := range []string{`"group":"g1"`, `"task":"t1"`, `"message":"hello"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %s", out, want)
		}
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Error("must not panic")
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := FromZerolog(zerolog.New(&buf)).With(String("group", "tenant-a"))
	ctx := NewContext(context.Background(), l)
	FromContext(ctx).Info("from ctx")
	if !strings.Contains(buf.String(), "tenant-a") {
		t.Fatalf("expected logger from context to keep fields, got %q", buf.String())
	}

	if FromContext(context.Background()).IsZero() {
		t.Fatal("FromContext without logger should return Nop, not the zero value")
	}
}

func TestThrottleWriterDropsChattyLevels(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	var dropped atomic.Uint64
	w := newThrottleWriter(zerolog.MultiLevelWriter(&buf), 1, &dropped)

	for i := 0; i < 5; i++ {
		if _, err := w.WriteLevel(zerolog.DebugLevel, []byte("debug\n")); err != nil {
			t.Fatalf("WriteLevel: %v", err)
		}
	}
	if _, err := w.WriteLevel(zerolog.ErrorLevel, []byte("error\n")); err != nil {
		t.Fatalf("WriteLevel: %v", err)
	}

	if got := strings.Count(buf.String(), "debug"); got != 1 {
		t.Fatalf("debug lines = %d, want 1", got)
	}
	if !strings.Contains(buf.String(), "error") {
		t.Fatal("error line must bypass throttle")
	}
	if dropped.Load() != 4 {
		t.Fatalf("dropped = %d, want 4", dropped.Load())
	}
}
