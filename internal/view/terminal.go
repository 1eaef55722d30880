package view

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"ChatLink/internal/cache"
	"ChatLink/internal/session"
)

const (
	sentMarker     = ">"
	receivedMarker = "<"
	unknownName    = "Unknown"

	resolveTimeout = 10 * time.Second
)

// Resolver looks up a username by user id. *api.Client satisfies it.
type Resolver interface {
	Username(ctx context.Context, id string) (string, error)
}

// Terminal renders the message list as plain lines:
//
//	> hello            sent by the current user
//	< (alice) hi       received in a group chat
//
// Group senders are resolved in the background; until a name is known the
// line shows Unknown.
type Terminal struct {
	mu       sync.Mutex
	out      io.Writer
	self     func() string
	names    *cache.Names
	resolver Resolver
	prompt   string
	logger   *slog.Logger
	lines    []string
	wg       sync.WaitGroup
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithSelf supplies the current user's id, used to mark sent lines.
func WithSelf(f func() string) Option {
	return func(t *Terminal) { t.self = f }
}

// WithResolver enables group sender names.
func WithResolver(names *cache.Names, r Resolver) Option {
	return func(t *Terminal) {
		t.names = names
		t.resolver = r
	}
}

// WithPrompt is reprinted by ScrollToEnd so input stays at the bottom.
func WithPrompt(prompt string) Option {
	return func(t *Terminal) { t.prompt = prompt }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Terminal) { t.logger = logger }
}

// NewTerminal creates a renderer writing to out.
func NewTerminal(out io.Writer, opts ...Option) *Terminal {
	t := &Terminal{
		out:  out,
		self: func() string { return "" },
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.names == nil {
		t.names = cache.NewNames()
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// Replace redraws the list. If every line renders the same as what is on
// screen already nothing is printed.
func (t *Terminal) Replace(msgs []session.Message) {
	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		lines = append(lines, t.render(msg))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if slices.Equal(lines, t.lines) {
		return
	}
	t.lines = lines
	if len(lines) == 0 {
		return
	}
	fmt.Fprintln(t.out)
	for _, line := range lines {
		fmt.Fprintln(t.out, line)
	}
}

// Append prints msg below the current lines.
func (t *Terminal) Append(msg session.Message) {
	line := t.render(msg)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	fmt.Fprintln(t.out, line)
}

// ScrollToEnd reprints the prompt below the newest line.
func (t *Terminal) ScrollToEnd() {
	if t.prompt == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprint(t.out, t.prompt)
}

// Dump prints msgs without touching what Replace compares against. Used
// for offline transcripts.
func (t *Terminal) Dump(msgs []session.Message) {
	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		lines = append(lines, t.render(msg))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, line := range lines {
		fmt.Fprintln(t.out, line)
	}
}

// Print writes a status line outside the message list.
func (t *Terminal) Print(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format+"\n", args...)
}

// Wait blocks until pending name lookups finish.
func (t *Terminal) Wait() {
	t.wg.Wait()
}

func (t *Terminal) render(msg session.Message) string {
	marker := receivedMarker
	if msg.SenderID != "" && msg.SenderID == t.self() {
		marker = sentMarker
	}
	if msg.ChatID == "" {
		return marker + " " + msg.Text
	}
	return fmt.Sprintf("%s (%s) %s", marker, t.name(msg.SenderID), msg.Text)
}

// name returns the cached username for id, starting a lookup if none is
// cached or in flight.
func (t *Terminal) name(id string) string {
	if name, ok := t.names.Load(id); ok {
		return name
	}
	if t.resolver != nil && t.names.Claim(id) {
		t.wg.Add(1)
		go t.resolve(id)
	}
	return unknownName
}

func (t *Terminal) resolve(id string) {
	defer t.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	name, err := t.resolver.Username(ctx, id)
	if err != nil || name == "" {
		t.names.Release(id)
		t.logger.Warn("failed to resolve username", "user_id", id, "error", err)
		return
	}
	t.names.Store(id, name)
}
