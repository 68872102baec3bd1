package sound

import (
	"bytes"
	"testing"
	"time"
)

func TestBell_Play(t *testing.T) {
	var buf bytes.Buffer
	b := NewBell(&buf, time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	if err := b.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	now = now.Add(500 * time.Millisecond)
	b.Play()
	now = now.Add(time.Second)
	b.Play()

	if got := buf.String(); got != "\a\a" {
		t.Errorf("output = %q, want two bells", got)
	}
}
