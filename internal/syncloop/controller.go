package syncloop

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ChatLink/internal/chaterr"
	"ChatLink/internal/session"
)

// DefaultInterval is the pull channel period.
const DefaultInterval = 1000 * time.Millisecond

// Backend is the HTTP side of a conversation. *api.Client satisfies it.
type Backend interface {
	History(ctx context.Context, path string) ([]session.Message, error)
	Post(ctx context.Context, path string, payload any) error
}

// Socket is one push channel. *push.Conn satisfies it.
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a push channel for a path such as /ws/{id}.
type Dialer interface {
	Dial(ctx context.Context, path string) (Socket, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, path string) (Socket, error)

func (f DialerFunc) Dial(ctx context.Context, path string) (Socket, error) { return f(ctx, path) }

// Ticker drives the pull channel.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates the pull ticker for a session.
type TickerFunc func(d time.Duration) Ticker

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker is the wall-clock Ticker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Controller owns the single active Session. Selecting a conversation tears
// the previous session down completely before the next one is built, so at
// most one push channel and one pull ticker are live at a time.
type Controller struct {
	mu       sync.Mutex
	active   *Session
	feed     *Feed
	backend  Backend
	dialer   Dialer
	dialects map[session.Kind]session.Dialect
	ticker   TickerFunc
	interval time.Duration
	self     func() string
	logger   *slog.Logger
	metrics  *loopMetrics
}

// Option configures a Controller.
type Option func(*Controller)

// WithInterval sets the pull period. The default is DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) { c.interval = d }
}

// WithTicker replaces NewTimeTicker.
func WithTicker(f TickerFunc) Option {
	return func(c *Controller) { c.ticker = f }
}

// WithDialect overrides the endpoint templates for d.Kind.
func WithDialect(d session.Dialect) Option {
	return func(c *Controller) { c.dialects[d.Kind] = d }
}

// WithSelf supplies the current user's id for locally appended messages.
func WithSelf(f func() string) Option {
	return func(c *Controller) { c.self = f }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// NewController creates an idle Controller rendering into view.
func NewController(backend Backend, dialer Dialer, view View, opts ...Option) *Controller {
	c := &Controller{
		feed:    NewFeed(view),
		backend: backend,
		dialer:  dialer,
		dialects: map[session.Kind]session.Dialect{
			session.KindDirect: session.DirectDialect(),
			session.KindGroup:  session.GroupDialect(),
		},
		ticker:   NewTimeTicker,
		interval: DefaultInterval,
		self:     func() string { return "" },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.metrics = newLoopMetrics(c.logger)
	return c
}

// Select makes conv the active conversation. The previous session's push
// channel is closed and its ticker stopped first. The rendered list is then
// cleared and filled with the fetched history, and a new push channel and
// ticker are started. History and dial failures are logged; the session
// still starts so the pull channel can recover.
func (c *Controller) Select(ctx context.Context, conv session.Conversation) error {
	conv.ID = strings.TrimSpace(conv.ID)
	if conv.ID == "" {
		return chaterr.Validation("conversation id is empty")
	}
	dialect, ok := c.dialects[conv.Kind]
	if !ok {
		return fmt.Errorf("no endpoints configured for %s conversations", conv.Kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeActive()
	c.feed.Replace(nil)
	c.active = c.start(ctx, conv, dialect)
	return nil
}

// Deselect returns to Idle. The rendered list is left as it was.
func (c *Controller) Deselect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeActive()
}

// Close is Deselect; the controller has no other resources.
func (c *Controller) Close() {
	c.Deselect()
}

// Active reports the selected conversation, if any.
func (c *Controller) Active() (session.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return session.Conversation{}, false
	}
	return c.active.conv, true
}

// Messages returns a copy of the rendered list.
func (c *Controller) Messages() []session.Message {
	return c.feed.Messages()
}

// Send persists text, publishes it on the push channel and appends it
// locally. A failed persist or publish is returned but the local entry stays.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return chaterr.Validation("message is empty")
	}
	s := c.current()
	if s == nil {
		return chaterr.Validation("select a conversation first")
	}

	payload := s.dialect.Outbound(s.conv.ID, text)
	return s.deliver(ctx, s.dialect.Send(s.conv.ID), payload, c.local(s, text))
}

// SendLater schedules text for delivery after delay minutes. delay must be
// a non-negative whole number; otherwise nothing is sent.
func (c *Controller) SendLater(ctx context.Context, text, delay string) error {
	minutes, err := ParseDelay(delay)
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return chaterr.Validation("message is empty")
	}
	s := c.current()
	if s == nil {
		return chaterr.Validation("select a conversation first")
	}

	payload := s.dialect.Scheduled(s.conv.ID, text, minutes)
	return s.deliver(ctx, s.dialect.Late(s.conv.ID), payload, c.local(s, text))
}

// ParseDelay validates a delay in whole minutes. The server only accepts
// integers, so fractions are rejected rather than rounded.
func ParseDelay(delay string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(delay))
	if err != nil || v < 0 {
		return 0, chaterr.Validation("enter a valid number of minutes")
	}
	return v, nil
}

func (c *Controller) local(s *Session, text string) session.Message {
	msg := session.Message{Text: text, SenderID: c.self()}
	if s.conv.Kind == session.KindGroup {
		msg.ChatID = s.conv.ID
	}
	return msg
}

func (c *Controller) current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// closeActive must be called with c.mu held.
func (c *Controller) closeActive() {
	if c.active == nil {
		return
	}
	c.active.Close()
	c.active = nil
}

// start must be called with c.mu held and no active session.
func (c *Controller) start(ctx context.Context, conv session.Conversation, dialect session.Dialect) *Session {
	id := uuid.New().String()
	logger := c.logger.With("sync_session", id, "conversation", conv.String())

	s := &Session{
		ID:      id,
		conv:    conv,
		dialect: dialect,
		backend: c.backend,
		feed:    c.feed,
		logger:  logger,
		metrics: c.metrics,
		done:    make(chan struct{}),
	}

	msgs, err := c.backend.History(ctx, dialect.History(conv.ID))
	if err != nil {
		logger.Error("failed to load messages", "error", err)
	} else {
		c.feed.Replace(msgs)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	sock, err := c.dialer.Dial(runCtx, dialect.Socket(conv.ID))
	if err != nil {
		logger.Warn("push channel unavailable, relying on polling", "error", err)
	} else {
		s.socket = sock
		s.inbound = make(chan session.Event)
		go s.readLoop(runCtx)
	}

	s.ticker = c.ticker(c.interval)
	go s.run(runCtx)

	c.metrics.sessions.Add(ctx, 1)
	logger.Info("conversation selected", "history", len(msgs), "push", s.socket != nil)
	return s
}
