// Package sound plays the audible cue for new alerts.
package sound

import (
	"io"
	"os"
	"sync"
	"time"
)

const bell = "\a"

// Bell rings the terminal bell. Rings closer together than MinGap collapse
// into one.
type Bell struct {
	mu     sync.Mutex
	w      io.Writer
	last   time.Time
	minGap time.Duration
	now    func() time.Time
}

// NewBell writes to w, or stderr when w is nil.
func NewBell(w io.Writer, minGap time.Duration) *Bell {
	if w == nil {
		w = os.Stderr
	}
	return &Bell{w: w, minGap: minGap, now: time.Now}
}

// Play rings the terminal bell, skipping plays within minGap of the last one.
func (b *Bell) Play() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if !b.last.IsZero() && now.Sub(b.last) < b.minGap {
		return nil
	}
	b.last = now
	_, err := io.WriteString(b.w, bell)
	return err
}
