package syncloop

import (
	"sync"

	"ChatLink/internal/session"
)

// View is the on-screen message list.
type View interface {
	// Replace redraws the whole list.
	Replace(msgs []session.Message)
	// Append adds one entry after the existing ones.
	Append(msg session.Message)
	// ScrollToEnd brings the newest entry into view.
	ScrollToEnd()
}

// Feed is the rendered list shared by the push and pull channels. It
// mirrors every change into the View. Entries are never deduplicated.
type Feed struct {
	mu   sync.Mutex
	msgs []session.Message
	view View
}

// NewFeed creates an empty Feed. view may be nil.
func NewFeed(view View) *Feed {
	return &Feed{view: view}
}

// Replace discards the current list and renders msgs in its place.
func (f *Feed) Replace(msgs []session.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.msgs = append([]session.Message(nil), msgs...)
	if f.view != nil {
		f.view.Replace(f.snapshot())
	}
}

// Append adds msg after the existing entries and scrolls to it.
func (f *Feed) Append(msg session.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.msgs = append(f.msgs, msg)
	if f.view != nil {
		f.view.Append(msg)
		f.view.ScrollToEnd()
	}
}

// Messages returns a copy of the rendered list.
func (f *Feed) Messages() []session.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot()
}

func (f *Feed) snapshot() []session.Message {
	out := make([]session.Message, len(f.msgs))
	copy(out, f.msgs)
	return out
}
