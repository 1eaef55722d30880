package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"ChatLink/internal/api"
	"ChatLink/internal/authfetch"
	"ChatLink/internal/cache"
	"ChatLink/internal/chaterr"
	"ChatLink/internal/config"
	"ChatLink/internal/push"
	"ChatLink/internal/session"
	"ChatLink/internal/syncloop"
	"ChatLink/internal/transcript"
	"ChatLink/internal/view"
)

const (
	prompt       = "you: "
	userIDCookie = "user_id"
	nameTTL      = 10 * time.Minute
)

// App is the interactive chat client
type App struct {
	cfg    config.Config
	in     io.Reader
	out    io.Writer
	term   *view.Terminal
	fetch  *authfetch.Client
	api    *api.Client
	ctrl   *syncloop.Controller
	store  *transcript.Store
	logger *slog.Logger
	tracer trace.Tracer

	meter      metric.Meter
	commands   metric.Int64Counter
	httpClient *http.Client
	dialer     syncloop.Dialer
	ticker     syncloop.TickerFunc

	// navigations tracks deselects started by a login redirect. Once closing
	// is set no new ones are started.
	navMu       sync.Mutex
	closing     bool
	navigations sync.WaitGroup
}

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithHTTPClient sets the HTTP client used for every API call.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) { a.httpClient = hc }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d syncloop.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithTicker replaces the wall-clock poll ticker.
func WithTicker(f syncloop.TickerFunc) Option {
	return func(a *App) { a.ticker = f }
}

// WithTracer sets the tracer for command spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *App) { a.tracer = tracer }
}

// WithMeter sets the meter for the command counter.
func WithMeter(meter metric.Meter) Option {
	return func(a *App) { a.meter = meter }
}

// New wires the client for cfg. Input is read line by line from in and
// everything the user sees goes to out.
func New(cfg config.Config, in io.Reader, out io.Writer, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, in: in, out: out}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer("ChatLink/app")
	}
	if a.meter == nil {
		a.meter = otel.Meter("ChatLink/app")
	}
	commands, err := a.meter.Int64Counter("chatlink.app.commands",
		metric.WithDescription("Slash commands handled"))
	if err != nil {
		a.logger.Warn("failed to create counter", "name", "chatlink.app.commands", "error", err)
		commands = noop.Int64Counter{}
	}
	a.commands = commands

	fetchOpts := []authfetch.Option{
		authfetch.WithNavigator(authfetch.NavigatorFunc(a.navigate)),
		authfetch.WithLogger(a.logger),
		authfetch.WithRefreshPath(cfg.RefreshPath),
		authfetch.WithLoginPath(cfg.LoginPath),
	}
	if a.httpClient != nil {
		fetchOpts = append(fetchOpts, authfetch.WithHTTPClient(a.httpClient))
	}
	a.fetch, err = authfetch.New(cfg.BaseURL, fetchOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	names := cache.NewExpiringNames(nameTTL)
	a.api = api.New(a.fetch, names, a.logger)
	a.term = view.NewTerminal(out,
		view.WithSelf(a.self),
		view.WithResolver(names, a.api),
		view.WithPrompt(prompt),
		view.WithLogger(a.logger),
	)

	if a.dialer == nil {
		d, err := push.NewDialer(cfg.BaseURL, a.fetch.Jar(), a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create websocket dialer: %w", err)
		}
		a.dialer = pushDialer(d)
	}

	ctrlOpts := []syncloop.Option{
		syncloop.WithInterval(cfg.PollInterval()),
		syncloop.WithSelf(a.self),
		syncloop.WithLogger(a.logger),
	}
	for _, d := range cfg.Dialects() {
		ctrlOpts = append(ctrlOpts, syncloop.WithDialect(d))
	}
	if a.ticker != nil {
		ctrlOpts = append(ctrlOpts, syncloop.WithTicker(a.ticker))
	}
	a.ctrl = syncloop.NewController(a.api, a.dialer, a.term, ctrlOpts...)

	a.store, err = transcript.Open(cfg.DBPath, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return a, nil
}

func pushDialer(d *push.Dialer) syncloop.Dialer {
	return syncloop.DialerFunc(func(ctx context.Context, path string) (syncloop.Socket, error) {
		conn, err := d.Dial(ctx, path)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

func (a *App) self() string {
	return a.fetch.Cookie(userIDCookie)
}

// navigate is the login redirect. It may fire while the controller lock is
// held, so the conversation is left from a separate goroutine.
func (a *App) navigate(path string) {
	a.navMu.Lock()
	if a.closing {
		a.navMu.Unlock()
		a.logger.Debug("login redirect during shutdown ignored", "path", path)
		return
	}
	a.navigations.Add(1)
	a.navMu.Unlock()

	a.logger.Warn("login required", "path", path)
	a.term.Print("Session expired. Log in again with /login <username> <password>.")
	go func() {
		defer a.navigations.Done()
		a.leave(context.Background())
	}()
}

// Run reads commands and messages until /quit, end of input or ctx is
// cancelled. Input is read on a separate goroutine so cancellation does not
// wait for the next line.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	a.term.Print("=== ChatLink ===")
	a.term.Print("Server: %s", a.cfg.BaseURL)
	a.term.Print("Type /help for commands, /quit to exit")
	a.term.Print("")

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go readLines(readCtx, a.in, lines, readErr)

	var err error
loop:
	for {
		a.term.ScrollToEnd()

		var input string
		select {
		case <-ctx.Done():
			a.term.Print("")
			break loop
		case line, ok := <-lines:
			if !ok {
				err = <-readErr
				break loop
			}
			input = strings.TrimSpace(line)
		}
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := a.handleCommand(ctx, input)
			if err != nil {
				a.term.Print("Error: %s", chaterr.Reason(err))
				a.logger.Error("command error", "command", input, "error", err)
			}
			if shouldQuit {
				break loop
			}
			continue
		}

		if err := a.ctrl.Send(ctx, input); err != nil {
			a.term.Print("Error: %s", chaterr.Reason(err))
			a.logger.Error("failed to send message", "error", err)
		}
	}

	a.leave(ctx)
	a.term.Print("Goodbye!")
	return err
}

// readLines feeds lines from r until it ends or ctx is cancelled. lines is
// closed on end of input, after the scanner error is sent on errs.
func readLines(ctx context.Context, r io.Reader, lines chan<- string, errs chan<- error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
	errs <- scanner.Err()
	close(lines)
}

func (a *App) close() {
	a.navMu.Lock()
	a.closing = true
	a.navMu.Unlock()
	a.navigations.Wait()
	a.ctrl.Close()
	a.term.Wait()
	if err := a.store.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}

// leave saves the current conversation's transcript and deselects it.
func (a *App) leave(ctx context.Context) {
	conv, ok := a.ctrl.Active()
	if !ok {
		return
	}
	if err := a.store.Save(context.WithoutCancel(ctx), conv, a.ctrl.Messages()); err != nil {
		a.logger.Error("failed to save transcript", "conversation", conv.String(), "error", err)
	}
	a.ctrl.Deselect()
}

// handleCommand handles slash commands. It reports whether the loop should
// stop.
func (a *App) handleCommand(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return false, nil
	}
	name, args := parts[0], parts[1:]

	ctx, span := a.tracer.Start(ctx, "app.command",
		trace.WithAttributes(attribute.String("command", name)))
	defer span.End()
	a.commands.Add(ctx, 1, metric.WithAttributes(attribute.String("command", name)))

	quit, err := a.dispatch(ctx, name, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "command failed")
	}
	return quit, err
}

func (a *App) dispatch(ctx context.Context, name string, args []string) (bool, error) {
	switch name {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		a.printHelp()
		return false, nil

	case "/login":
		if len(args) != 2 {
			return false, usage("/login <username> <password>")
		}
		msg, err := a.api.Login(ctx, args[0], args[1])
		if err != nil {
			return false, err
		}
		if msg == "" {
			msg = "Logged in"
		}
		a.term.Print("%s as %s", msg, args[0])
		return false, nil

	case "/register":
		if len(args) != 4 {
			return false, usage("/register <username> <email> <password> <image-url>")
		}
		reg := api.Registration{Username: args[0], Email: args[1], Password: args[2], Img: args[3]}
		if err := a.api.Register(ctx, reg); err != nil {
			return false, err
		}
		a.term.Print("Registered %s. Log in with /login.", reg.Username)
		return false, nil

	case "/logout":
		a.leave(ctx)
		if err := a.api.Logout(ctx); err != nil {
			return false, err
		}
		a.term.Print("Logged out")
		return false, nil

	case "/chat":
		if len(args) != 1 {
			return false, usage("/chat <username>")
		}
		if err := a.api.CreateChat(ctx, args[0]); err != nil {
			return false, err
		}
		a.term.Print("Chat with %s created", args[0])
		return false, nil

	case "/group-create":
		if len(args) < 2 {
			return false, usage("/group-create <title> <member1,member2,...>")
		}
		title := strings.Join(args[:len(args)-1], " ")
		members := strings.Split(args[len(args)-1], ",")
		if err := a.api.CreateGroup(ctx, title, members); err != nil {
			return false, err
		}
		a.term.Print("Group %q created", title)
		return false, nil

	case "/user", "/group":
		if len(args) != 1 {
			return false, usage(name + " <id>")
		}
		kind := session.KindDirect
		if name == "/group" {
			kind = session.KindGroup
		}
		return false, a.open(ctx, session.Conversation{Kind: kind, ID: args[0]})

	case "/leave":
		a.leave(ctx)
		return false, nil

	case "/late":
		if len(args) < 1 {
			return false, usage("/late <minutes> <message>")
		}
		if err := a.ctrl.SendLater(ctx, strings.Join(args[1:], " "), args[0]); err != nil {
			return false, err
		}
		a.term.Print("Scheduled in %s minutes", args[0])
		return false, nil

	case "/members":
		conv, err := a.activeGroup()
		if err != nil {
			return false, err
		}
		return false, a.printMembers(ctx, conv.ID)

	case "/add":
		conv, err := a.activeGroup()
		if err != nil {
			return false, err
		}
		if len(args) != 1 {
			return false, usage("/add <username>")
		}
		if err := a.api.AddMember(ctx, conv.ID, args[0]); err != nil {
			return false, err
		}
		a.term.Print("Added %s", args[0])
		return false, nil

	case "/remove":
		conv, err := a.activeGroup()
		if err != nil {
			return false, err
		}
		if len(args) != 1 {
			return false, usage("/remove <username>")
		}
		if err := a.api.RemoveMember(ctx, conv.ID, args[0]); err != nil {
			return false, err
		}
		a.term.Print("Removed %s", args[0])
		return false, nil

	case "/exit-group":
		conv, err := a.activeGroup()
		if err != nil {
			return false, err
		}
		if err := a.api.ExitGroup(ctx, conv.ID); err != nil {
			return false, err
		}
		a.leave(ctx)
		a.term.Print("Left group %s", conv.ID)
		return false, nil

	case "/history":
		if len(args) != 2 {
			return false, usage("/history <user|group> <id>")
		}
		kind, err := session.ParseKind(args[0])
		if err != nil {
			return false, chaterr.Validation(err.Error())
		}
		return false, a.printTranscript(ctx, session.Conversation{Kind: kind, ID: args[1]})

	default:
		return false, chaterr.Validation(fmt.Sprintf("unknown command %s, type /help", name))
	}
}

func usage(form string) error {
	return chaterr.Validation("usage: " + form)
}

func (a *App) open(ctx context.Context, conv session.Conversation) error {
	a.leave(ctx)
	if err := a.ctrl.Select(ctx, conv); err != nil {
		return err
	}
	a.term.Print("Now chatting in %s", conv)
	return nil
}

func (a *App) activeGroup() (session.Conversation, error) {
	conv, ok := a.ctrl.Active()
	if !ok || conv.Kind != session.KindGroup {
		return session.Conversation{}, chaterr.Validation("open a group with /group <id> first")
	}
	return conv, nil
}

func (a *App) printMembers(ctx context.Context, chatID string) error {
	members, err := a.api.Members(ctx, chatID)
	if err != nil {
		return err
	}
	owner, err := a.api.Owner(ctx, chatID)
	if err != nil {
		a.logger.Warn("failed to load group owner", "chat_id", chatID, "error", err)
	}

	a.term.Print("Members of %s:", chatID)
	for i, m := range members {
		suffix := ""
		if m == owner {
			suffix = " (owner)"
		}
		a.term.Print("%d. %s%s", i+1, m, suffix)
	}
	return nil
}

func (a *App) printTranscript(ctx context.Context, conv session.Conversation) error {
	t, err := a.store.Load(ctx, conv)
	if errors.Is(err, transcript.ErrNotFound) {
		a.term.Print("No saved transcript for %s", conv)
		return nil
	}
	if err != nil {
		return err
	}

	a.term.Print("Transcript of %s saved %s:", conv, t.SavedAt.Local().Format("2006-01-02 15:04"))
	a.term.Dump(t.Messages)
	return nil
}

func (a *App) printHelp() {
	a.term.Print("Available commands:")
	a.term.Print("  /login <username> <password>          - Log in")
	a.term.Print("  /register <user> <email> <pass> <img> - Create an account")
	a.term.Print("  /logout                               - Log out")
	a.term.Print("  /chat <username>                      - Start a chat with a user")
	a.term.Print("  /group-create <title> <m1,m2,...>     - Create a group chat")
	a.term.Print("  /user <id>                            - Open the chat with a user")
	a.term.Print("  /group <id>                           - Open a group chat")
	a.term.Print("  /leave                                - Close the open conversation")
	a.term.Print("  /late <minutes> <message>             - Send a message later")
	a.term.Print("  /members                              - List group members")
	a.term.Print("  /add <username>                       - Add a group member")
	a.term.Print("  /remove <username>                    - Remove a group member")
	a.term.Print("  /exit-group                           - Leave the open group")
	a.term.Print("  /history <user|group> <id>            - Show the saved transcript")
	a.term.Print("  /help                                 - Show this help message")
	a.term.Print("  /quit, /exit                          - Exit")
	a.term.Print("Anything else is sent to the open conversation.")
}
