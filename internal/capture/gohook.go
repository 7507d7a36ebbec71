package capture

import (
	"sync"
	"time"
	"unicode"

	hook "github.com/robotn/gohook"
)

// HookSource adapts the global gohook listener to the EventSource interface.
// Only one HookSource may be active per process; the underlying hook is a
// process-wide singleton.
type HookSource struct {
	out  chan Event
	mu   sync.Mutex
	open bool
}

func NewHookSource() *HookSource {
	return &HookSource{}
}

func (h *HookSource) Start() (<-chan Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.out = make(chan Event, 256)
	h.open = true

	raw := hook.Start()
	go h.translate(raw)
	return h.out, nil
}

func (h *HookSource) translate(raw chan hook.Event) {
	defer close(h.out)

	for ev := range raw {
		var out Event
		switch ev.Kind {
		case hook.MouseMove, hook.MouseDrag:
			out = Event{Kind: EventMouseMove, X: int(ev.X), Y: int(ev.Y)}
		case hook.MouseDown:
			out = Event{Kind: EventMouseClick, X: int(ev.X), Y: int(ev.Y)}
		case hook.MouseWheel:
			out = Event{Kind: EventMouseScroll, X: int(ev.X), Y: int(ev.Y)}
		case hook.KeyDown, hook.KeyHold:
			out = Event{Kind: EventKeyDown, Key: keyName(ev)}
		default:
			continue
		}
		out.Time = time.Now()

		select {
		case h.out <- out:
		default:
			// Consumer fell behind, dropping is better than blocking the
			// OS hook thread.
		}
	}
}

// keyName returns the printable character verbatim and falls back to the
// hook's symbolic name for everything else.
func keyName(ev hook.Event) string {
	if ev.Keychar != 0 && unicode.IsPrint(ev.Keychar) {
		return string(ev.Keychar)
	}
	return hook.RawcodetoKeychar(ev.Rawcode)
}

func (h *HookSource) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.open {
		h.open = false
		hook.End()
	}
}
