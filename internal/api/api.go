package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"ChatLink/internal/authfetch"
	"ChatLink/internal/cache"
	"ChatLink/internal/chaterr"
	"ChatLink/internal/session"
)

const (
	PathLogin       = "/users/login"
	PathRegister    = "/users/register"
	PathLogout      = "/users/logout/"
	PathCreateChat  = "/create_chat"
	PathCreateGroup = "/group_chats/create"
	PathMembers     = "/group_chats/group_members"
	PathOwner       = "/group_chats/group_owner"
	PathAddMember   = "/group_chats/add_member"
	PathDelMember   = "/group_chats/delete_member"
	PathExitGroup   = "/group_chats/exit"
	PathUsername    = "/group_chats/get_username"
)

// Requester is satisfied by *authfetch.Client.
type Requester interface {
	Request(ctx context.Context, path string, opts authfetch.Options) (*authfetch.Response, error)
}

// Client wraps the chat service endpoints. Every call goes through the
// authenticated requester.
type Client struct {
	fetch  Requester
	names  *cache.Names
	logger *slog.Logger
}

// New creates a Client. A nil names or logger gets a default.
func New(fetch Requester, names *cache.Names, logger *slog.Logger) *Client {
	if names == nil {
		names = cache.NewNames()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{fetch: fetch, names: names, logger: logger}
}

// Names exposes the username cache shared with the renderer.
func (c *Client) Names() *cache.Names {
	return c.names
}

// History fetches the full message history at path.
func (c *Client) History(ctx context.Context, path string) ([]session.Message, error) {
	var msgs []session.Message
	if err := c.call(ctx, path, authfetch.Options{Method: http.MethodGet}, &msgs); err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	return msgs, nil
}

// Post sends payload as JSON to path and discards the response body.
func (c *Client) Post(ctx context.Context, path string, payload any) error {
	return c.send(ctx, http.MethodPost, path, payload, nil)
}

// Login authenticates and stores the session cookies. It returns the
// server's message.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	if !filled(username, password) {
		return "", chaterr.Validation("please fill in all fields")
	}
	var out struct {
		Message string `json:"message"`
	}
	err := c.send(ctx, http.MethodPost, PathLogin, map[string]string{
		"username": username,
		"password": password,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("failed to log in: %w", err)
	}
	return out.Message, nil
}

// Registration is the sign-up form.
type Registration struct {
	Img      string `json:"img"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account. Every field is required.
func (c *Client) Register(ctx context.Context, reg Registration) error {
	if !filled(reg.Img, reg.Username, reg.Email, reg.Password) {
		return chaterr.Validation("please fill in all fields")
	}
	if err := c.send(ctx, http.MethodPost, PathRegister, reg, nil); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}
	return nil
}

// Logout ends the server session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.send(ctx, http.MethodPost, PathLogout, nil, nil); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	return nil
}

// CreateChat opens a one-to-one chat with username. The server reads the
// name from the query string.
func (c *Client) CreateChat(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return chaterr.Validation("enter a username")
	}
	path := PathCreateChat + "?" + url.Values{"user2_username": {username}}.Encode()
	if err := c.send(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

// CreateGroup creates a group chat with title and the given member usernames.
func (c *Client) CreateGroup(ctx context.Context, title string, members []string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return chaterr.Validation("enter a chat title")
	}
	list := make([]string, 0, len(members))
	for _, m := range members {
		if m = strings.TrimSpace(m); m != "" {
			list = append(list, m)
		}
	}
	if len(list) == 0 {
		return chaterr.Validation("enter at least one member")
	}
	payload := map[string]any{"title": title, "members": list}
	if err := c.send(ctx, http.MethodPost, PathCreateGroup, payload, nil); err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// Members lists the usernames in group chatID.
func (c *Client) Members(ctx context.Context, chatID string) ([]string, error) {
	var members []string
	if err := c.send(ctx, http.MethodPost, PathMembers, map[string]string{"chat_id": chatID}, &members); err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	return members, nil
}

// Owner returns the username of the group's owner.
func (c *Client) Owner(ctx context.Context, chatID string) (string, error) {
	var owner string
	if err := c.send(ctx, http.MethodPost, PathOwner, map[string]string{"chat_id": chatID}, &owner); err != nil {
		return "", fmt.Errorf("failed to load owner: %w", err)
	}
	return owner, nil
}

// AddMember adds username to group chatID.
func (c *Client) AddMember(ctx context.Context, chatID, username string) error {
	if strings.TrimSpace(username) == "" {
		return chaterr.Validation("enter a username")
	}
	payload := map[string]string{"chat_id": chatID, "new_user": username}
	if err := c.send(ctx, http.MethodPost, PathAddMember, payload, nil); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// RemoveMember removes username from group chatID.
func (c *Client) RemoveMember(ctx context.Context, chatID, username string) error {
	payload := map[string]string{"chat_id": chatID, "member_name": username}
	if err := c.send(ctx, http.MethodDelete, PathDelMember, payload, nil); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

// ExitGroup removes the current user from group chatID.
func (c *Client) ExitGroup(ctx context.Context, chatID string) error {
	if err := c.send(ctx, http.MethodDelete, PathExitGroup, map[string]string{"chat_id": chatID}, nil); err != nil {
		return fmt.Errorf("failed to exit group: %w", err)
	}
	return nil
}

// Username resolves a user id, consulting the cache first.
func (c *Client) Username(ctx context.Context, id string) (string, error) {
	if name, ok := c.names.Load(id); ok {
		return name, nil
	}
	var out struct {
		Username string `json:"username"`
	}
	if err := c.send(ctx, http.MethodPost, PathUsername, map[string]string{"id": id}, &out); err != nil {
		return "", fmt.Errorf("failed to resolve username: %w", err)
	}
	c.names.Store(id, out.Username)
	return out.Username, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload, out any) error {
	opts := authfetch.Options{Method: method}
	if payload != nil {
		var err error
		opts, err = authfetch.JSON(method, payload)
		if err != nil {
			return err
		}
	}
	return c.call(ctx, path, opts, out)
}

func (c *Client) call(ctx context.Context, path string, opts authfetch.Options, out any) error {
	resp, err := c.fetch.Request(ctx, path, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return chaterr.Network("failed to read response", err)
	}

	if resp.Outcome == authfetch.Redirected {
		return chaterr.AuthExpired("session expired, log in again")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("request rejected", "path", path, "status", resp.StatusCode)
		return chaterr.Status(resp.StatusCode, detail(body))
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// detail extracts the server's error text from a FastAPI-style body.
func detail(body []byte) string {
	var e struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		var s string
		if len(e.Detail) > 0 && json.Unmarshal(e.Detail, &s) == nil && s != "" {
			return s
		}
		if e.Message != "" {
			return e.Message
		}
		if len(e.Detail) > 0 {
			return string(e.Detail)
		}
	}
	return strings.TrimSpace(string(body))
}

func filled(fields ...string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return false
		}
	}
	return true
}
