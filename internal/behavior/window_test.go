package behavior

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecord_CountsWithinWindow(t *testing.T) {
	w := NewWindow(50, 300, 0, 0)
	base := time.Now()

	w.Record("s1", "TAB_SWITCH", base)
	w.Record("s1", "TAB_SWITCH", base.Add(1*time.Second))
	f := w.Record("s1", "COPY_PASTE", base.Add(2*time.Second))

	assert.Equal(t, 2, f.TabSwitches)
	assert.Equal(t, 1, f.CopyPasteCount)
}

func TestRecord_EventsOutsideWindowExcluded(t *testing.T) {
	w := NewWindow(50, 300, 0, 0)
	base := time.Now()

	w.Record("s1", "TAB_SWITCH", base)
	f := w.Record("s1", "TAB_SWITCH", base.Add(400*time.Second))

	assert.Equal(t, 1, f.TabSwitches)
}

func TestRecord_CapacityBounded(t *testing.T) {
	w := NewWindow(5, 300, 0, 0)
	base := time.Now()

	for i := 0; i < 20; i++ {
		w.Record("s1", "TAB_SWITCH", base.Add(time.Duration(i)*time.Millisecond))
	}

	w.mu.Lock()
	n := len(w.sessions["s1"].events)
	w.mu.Unlock()
	assert.LessOrEqual(t, n, 5)
}

func TestRecord_SeparateSessionsIndependent(t *testing.T) {
	w := NewWindow(50, 300, 0, 0)
	base := time.Now()

	w.Record("s1", "TAB_SWITCH", base)
	f2 := w.Record("s2", "COPY_PASTE", base)

	assert.Equal(t, 0, f2.TabSwitches)
	assert.Equal(t, 1, f2.CopyPasteCount)
}

func TestEvictStale_RemovesExpiredSessions(t *testing.T) {
	w := NewWindow(50, 300, 1*time.Second, 0)
	base := time.Now()

	w.Record("s1", "TAB_SWITCH", base)
	assert.Equal(t, 1, w.SessionCount())

	w.evictStale(base.Add(2 * time.Second))
	assert.Equal(t, 0, w.SessionCount())
}

func TestEvictStale_KeepsActiveSessions(t *testing.T) {
	w := NewWindow(50, 300, 1*time.Hour, 0)
	base := time.Now()

	w.Record("s1", "TAB_SWITCH", base)
	w.evictStale(base.Add(5 * time.Second))
	assert.Equal(t, 1, w.SessionCount())
}
