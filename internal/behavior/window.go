// Package behavior maintains the per-session rolling window of discrete
// client-side events (TAB_SWITCH, COPY_PASTE, CONTEXT_MENU,
// FULLSCREEN_EXIT, FOCUS_LOSS, …) used to compute risk.BehaviorFeatures
// (spec.md §4.4). State lives only in process memory for the lifetime of
// a session — there is no cross-instance sharing (spec.md §1, Non-goals:
// "horizontal scale-out of per-session state").
package behavior

import (
	"sync"
	"time"

	"github.com/ocx/proctoring-ai/internal/risk"
)

type event struct {
	eventType string
	at        time.Time
}

type sessionHistory struct {
	events   []event // ring-like bounded slice, oldest first
	lastSeen time.Time
}

// Window tracks every active session's event history and evicts sessions
// that have gone quiet for longer than the configured TTL (SPEC_FULL.md
// Open Question ii — the Python original never bounded this map).
type Window struct {
	mu            sync.Mutex
	sessions      map[string]*sessionHistory
	capacity      int
	windowSeconds float64
	sessionTTL    time.Duration

	stop chan struct{}
	once sync.Once
}

func NewWindow(capacity, windowSeconds int, sessionTTL, sweepInterval time.Duration) *Window {
	w := &Window{
		sessions:      make(map[string]*sessionHistory),
		capacity:      capacity,
		windowSeconds: float64(windowSeconds),
		sessionTTL:    sessionTTL,
		stop:          make(chan struct{}),
	}
	if sweepInterval > 0 {
		go w.sweepLoop(sweepInterval)
	}
	return w
}

// Record appends one event to session's history and returns the feature
// vector computed over the trailing window as of now.
func (w *Window) Record(sessionID, eventType string, now time.Time) risk.BehaviorFeatures {
	w.mu.Lock()
	defer w.mu.Unlock()

	h, ok := w.sessions[sessionID]
	if !ok {
		h = &sessionHistory{}
		w.sessions[sessionID] = h
	}

	h.events = append(h.events, event{eventType: eventType, at: now})
	if len(h.events) > w.capacity {
		h.events = h.events[len(h.events)-w.capacity:]
	}
	h.lastSeen = now

	return w.features(h, now)
}

func (w *Window) features(h *sessionHistory, now time.Time) risk.BehaviorFeatures {
	cutoff := now.Add(-time.Duration(w.windowSeconds) * time.Second)

	var tabSwitches, copyPaste, contextMenu, fullscreenExits, focusLoss, total int
	for _, e := range h.events {
		if e.at.Before(cutoff) {
			continue
		}
		total++
		switch e.eventType {
		case "TAB_SWITCH":
			tabSwitches++
		case "COPY_PASTE":
			copyPaste++
		case "CONTEXT_MENU":
			contextMenu++
		case "FULLSCREEN_EXIT":
			fullscreenExits++
		case "FOCUS_LOSS":
			focusLoss++
		}
	}

	rate := 0.0
	if total > 0 && w.windowSeconds > 0 {
		rate = float64(total) / (w.windowSeconds / 60.0)
	}

	return risk.BehaviorFeatures{
		TabSwitches:      tabSwitches,
		CopyPasteCount:   copyPaste,
		ContextMenuCount: contextMenu,
		FullscreenExits:  fullscreenExits,
		FocusLossCount:   focusLoss,
		EventRatePerMin:  rate,
	}
}

// SessionCount reports how many sessions currently have tracked state.
// Exposed for tests and metrics, not part of the scoring path.
func (w *Window) SessionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

// Stop halts the background eviction sweep. Safe to call multiple times.
func (w *Window) Stop() {
	w.once.Do(func() { close(w.stop) })
}

func (w *Window) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.evictStale(time.Now())
		case <-w.stop:
			return
		}
	}
}

func (w *Window) evictStale(now time.Time) {
	if w.sessionTTL <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, h := range w.sessions {
		if now.Sub(h.lastSeen) > w.sessionTTL {
			delete(w.sessions, id)
		}
	}
}
