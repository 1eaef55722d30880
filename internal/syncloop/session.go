package syncloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"ChatLink/internal/session"
)

// Session is the live state of one selected conversation: its push
// channel, its pull ticker and the goroutine that applies both to the Feed.
// It is created on selection and discarded on switch.
type Session struct {
	ID      string
	conv    session.Conversation
	dialect session.Dialect
	backend Backend
	feed    *Feed
	socket  Socket
	ticker  Ticker
	logger  *slog.Logger
	metrics *loopMetrics

	inbound   chan session.Event
	cancel    context.CancelFunc
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// Conversation returns the conversation this session follows.
func (s *Session) Conversation() session.Conversation {
	return s.conv
}

// readLoop forwards decoded push frames to the run loop until the socket
// fails or the session ends.
func (s *Session) readLoop(ctx context.Context) {
	defer close(s.inbound)
	for {
		data, err := s.socket.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("push channel closed", "error", err)
			}
			return
		}

		var ev session.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Error("failed to decode push frame", "error", err)
			continue
		}

		select {
		case s.inbound <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// run owns every Feed mutation coming from the push and pull channels.
// Their relative order is whatever order the events arrive in.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	snapshots := make(chan []session.Message)
	var inbound <-chan session.Event
	if s.socket != nil {
		inbound = s.inbound
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.ticker.C():
			s.metrics.pollTicks.Add(ctx, 1)
			go s.poll(ctx, snapshots)

		case msgs := <-snapshots:
			if ctx.Err() != nil {
				return
			}
			s.feed.Replace(msgs)

		case ev, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if !s.dialect.Matches(ev, s.conv.ID) {
				s.metrics.pushDropped.Add(ctx, 1)
				s.logger.Debug("dropped push event for another conversation",
					"sender_id", ev.SenderID, "chat_id", ev.ChatID, "recipient_id", ev.RecipientID)
				continue
			}
			s.metrics.pushAppends.Add(ctx, 1)
			s.feed.Append(ev.Message())
		}
	}
}

// poll re-fetches the full history. Failures are logged and leave the
// rendered list as it was.
func (s *Session) poll(ctx context.Context, out chan<- []session.Message) {
	msgs, err := s.backend.History(ctx, s.dialect.History(s.conv.ID))
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to poll messages", "error", err)
		}
		return
	}
	select {
	case out <- msgs:
	case <-ctx.Done():
	}
}

// deliver runs the three send steps: persist, publish, append. The local
// append happens even if persist or publish failed; their errors are
// returned joined.
func (s *Session) deliver(ctx context.Context, path string, payload any, local session.Message) error {
	var errs []error

	if err := s.backend.Post(ctx, path, payload); err != nil {
		s.logger.Error("failed to persist message", "path", path, "error", err)
		errs = append(errs, fmt.Errorf("failed to send message: %w", err))
	}
	if err := s.publish(payload); err != nil {
		s.logger.Error("failed to publish message", "error", err)
		errs = append(errs, fmt.Errorf("failed to publish message: %w", err))
	}
	if !s.closed.Load() {
		s.feed.Append(local)
	}

	return errors.Join(errs...)
}

func (s *Session) publish(payload any) error {
	if s.socket == nil {
		return fmt.Errorf("push channel is not connected")
	}
	return s.socket.WriteJSON(payload)
}

// Close tears the session down: cancels in-flight polls, closes the push
// channel, stops the ticker and waits for the run loop to exit. Once Close
// returns the session no longer touches the Feed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		if s.socket != nil {
			if err := s.socket.Close(); err != nil {
				s.logger.Warn("failed to close push channel", "error", err)
			}
		}
		s.ticker.Stop()
		<-s.done
		s.metrics.sessions.Add(context.Background(), -1)
		s.logger.Info("conversation closed")
	})
}
