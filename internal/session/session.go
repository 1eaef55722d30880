package session

import (
	"fmt"
	"strings"
)

// Kind distinguishes one-to-one chats from group chats.
type Kind int

const (
	KindDirect Kind = iota
	KindGroup
)

// String returns "user" or "group".
func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "user"
	case KindGroup:
		return "group"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts the names produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "user", "direct":
		return KindDirect, nil
	case "group":
		return KindGroup, nil
	default:
		return 0, fmt.Errorf("unknown conversation kind: %s", s)
	}
}

// Conversation identifies the target of the current view: a peer user id or
// a group id.
type Conversation struct {
	Kind Kind
	ID   string
}

// String returns "kind:id", used as a log field and transcript key.
func (c Conversation) String() string {
	return c.Kind.String() + ":" + c.ID
}

// Message is one entry of a conversation history. Messages are never edited
// once received.
type Message struct {
	Text     string `json:"text"`
	SenderID string `json:"sender_id"`
	ChatID   string `json:"chat_id,omitempty"`
	SendTime string `json:"send_time,omitempty"`
}

// Event is an inbound push frame. Direct chats carry recipient_id and
// content, group chats carry chat_id and text.
type Event struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id,omitempty"`
	ChatID      string `json:"chat_id,omitempty"`
	Content     string `json:"content,omitempty"`
	Text        string `json:"text,omitempty"`
}

// Message normalises the event into a history entry.
func (e Event) Message() Message {
	text := e.Text
	if text == "" {
		text = e.Content
	}
	return Message{Text: text, SenderID: e.SenderID, ChatID: e.ChatID}
}

// Outbound is the payload persisted via the send endpoint and mirrored on
// the push channel.
type Outbound struct {
	RecipientID string `json:"recipient_id,omitempty"`
	Content     string `json:"content,omitempty"`
	ChatID      string `json:"chat_id,omitempty"`
	Text        string `json:"text,omitempty"`
}

// Scheduled is the delayed-send payload. Time is in whole minutes.
type Scheduled struct {
	Message Outbound `json:"message"`
	Time    int      `json:"time"`
}

const idPlaceholder = "{id}"

// Dialect binds a conversation kind to its endpoint templates. Templates
// may contain an {id} placeholder.
type Dialect struct {
	Kind        Kind
	HistoryPath string
	SendPath    string
	LatePath    string
	SocketPath  string
}

// DirectDialect is the stock endpoint set for one-to-one chats.
func DirectDialect() Dialect {
	return Dialect{
		Kind:        KindDirect,
		HistoryPath: "/messages/{id}",
		SendPath:    "/messages",
		LatePath:    "/messages_late",
		SocketPath:  "/ws/{id}",
	}
}

// GroupDialect is the stock endpoint set for group chats.
func GroupDialect() Dialect {
	return Dialect{
		Kind:        KindGroup,
		HistoryPath: "/group_chats/messages/{id}",
		SendPath:    "/group_chats/messages",
		LatePath:    "/group_chats/messages_late",
		SocketPath:  "/ws/{id}",
	}
}

func expand(template, id string) string {
	return strings.ReplaceAll(template, idPlaceholder, id)
}

// History, Send, Late and Socket expand the matching template for id.
func (d Dialect) History(id string) string { return expand(d.HistoryPath, id) }
func (d Dialect) Send(id string) string    { return expand(d.SendPath, id) }
func (d Dialect) Late(id string) string    { return expand(d.LatePath, id) }
func (d Dialect) Socket(id string) string  { return expand(d.SocketPath, id) }

// Outbound builds the send payload for conversation id.
func (d Dialect) Outbound(id, text string) Outbound {
	if d.Kind == KindGroup {
		return Outbound{ChatID: id, Text: text}
	}
	return Outbound{RecipientID: id, Content: text}
}

// Scheduled builds the delayed-send payload for conversation id.
func (d Dialect) Scheduled(id, text string, minutes int) Scheduled {
	return Scheduled{Message: d.Outbound(id, text), Time: minutes}
}

// Matches reports whether a push event belongs to conversation id.
func (d Dialect) Matches(ev Event, id string) bool {
	if d.Kind == KindGroup {
		return ev.ChatID == id
	}
	return ev.RecipientID == id || ev.SenderID == id
}

// Validate checks that every template is set.
func (d Dialect) Validate() error {
	for name, v := range map[string]string{
		"history": d.HistoryPath,
		"send":    d.SendPath,
		"late":    d.LatePath,
		"socket":  d.SocketPath,
	} {
		if v == "" {
			return fmt.Errorf("%s endpoint for %s conversations is empty", name, d.Kind)
		}
	}
	return nil
}
