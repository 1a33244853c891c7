package chatclient

import (
	"sync"
	"time"
)

// typingMonitor is the sender-side debounce state machine: Idle -> Typing
// fires one start signal and arms the inactivity timer; further keystrokes
// only reset the timer; expiry, send, or a cleared input returns to Idle
// and fires stop. It never spams start events.
type typingMonitor struct {
	window time.Duration
	signal func(started bool)

	mu     sync.Mutex
	typing bool
	timer  *time.Timer
}

func newTypingMonitor(window time.Duration, signal func(started bool)) *typingMonitor {
	return &typingMonitor{
		window: window,
		signal: signal,
	}
}

// Keystroke reports input activity.
func (t *typingMonitor) Keystroke() {
	t.mu.Lock()

	if t.typing {
		t.timer.Reset(t.window)
		t.mu.Unlock()
		return
	}

	t.typing = true
	t.timer = time.AfterFunc(t.window, t.expire)
	t.mu.Unlock()

	t.signal(true)
}

// Stop transitions to Idle immediately, bypassing the timer. Used when the
// input is cleared or a message is sent.
func (t *typingMonitor) Stop() {
	t.mu.Lock()
	if !t.typing {
		t.mu.Unlock()
		return
	}
	t.typing = false
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()

	t.signal(false)
}

func (t *typingMonitor) expire() {
	t.mu.Lock()
	if !t.typing {
		t.mu.Unlock()
		return
	}
	t.typing = false
	t.mu.Unlock()

	t.signal(false)
}

// indicator is the receiver side: shown on typing-started, hidden on
// typing-stopped or after its own inactivity window, because the peer may
// have disconnected without ever sending stop.
type indicator struct {
	window time.Duration

	mu      sync.Mutex
	visible bool
	timer   *time.Timer
}

func newIndicator(window time.Duration) *indicator {
	return &indicator{window: window}
}

func (i *indicator) Show() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.visible = true
	if i.timer != nil {
		i.timer.Stop()
	}
	i.timer = time.AfterFunc(i.window, i.hide)
}

func (i *indicator) Hide() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.visible = false
	if i.timer != nil {
		i.timer.Stop()
	}
}

func (i *indicator) hide() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.visible = false
}

func (i *indicator) Visible() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.visible
}
