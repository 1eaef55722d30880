package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"ChatLink/internal/authfetch"
	"ChatLink/internal/chaterr"
	"ChatLink/internal/session"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func newTestAPI(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	fetch, err := authfetch.New(srv.URL, authfetch.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return New(fetch, nil, nil)
}

// countingRequester records calls and never reaches a server.
type countingRequester struct {
	calls atomic.Int32
}

func (r *countingRequester) Request(ctx context.Context, path string, opts authfetch.Options) (*authfetch.Response, error) {
	r.calls.Add(1)
	return nil, context.Canceled
}

// ---------------------------------------------------------------------------
// History / Post
// ---------------------------------------------------------------------------

func TestHistory_DecodesMessages(t *testing.T) {
	c := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/group_chats/messages/g1", r.URL.Path)
		io.WriteString(w, `[
			{"chat_id":"g1","sender_id":"u1","text":"hi","send_time":"2024-01-01T10:00:00","recipients":["u2"]},
			{"chat_id":"g1","sender_id":"u2","text":"yo","send_time":"2024-01-01T10:00:01","recipients":["u1"]}
		]`)
	})

	msgs, err := c.History(testContext(t), "/group_chats/messages/g1")
	require.NoError(t, err)
	require.Equal(t, []session.Message{
		{Text: "hi", SenderID: "u1", ChatID: "g1", SendTime: "2024-01-01T10:00:00"},
		{Text: "yo", SenderID: "u2", ChatID: "g1", SendTime: "2024-01-01T10:00:01"},
	}, msgs)
}

func TestHistory_RedirectedIsAuthExpired(t *testing.T) {
	c := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.History(testContext(t), "/messages/u1")
	require.True(t, chaterr.Is(err, chaterr.CodeAuthExpired))
}

func TestPost_StatusErrorCarriesDetail(t *testing.T) {
	c := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"detail":"not a member of this chat"}`)
	})

	err := c.Post(testContext(t), "/group_chats/messages", session.Outbound{ChatID: "g1", Text: "hi"})
	require.True(t, chaterr.Is(err, chaterr.CodeStatus))
	require.Equal(t, "422: not a member of this chat", chaterr.Reason(err))
}

func TestPost_SendsJSON(t *testing.T) {
	var (
		mu  sync.Mutex
		got map[string]string
	)
	c := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		mu.Lock()
		defer mu.Unlock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	})

	require.NoError(t, c.Post(testContext(t), "/messages", session.Outbound{RecipientID: "u1", Content: "hi"}))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, map[string]string{"recipient_id": "u1", "content": "hi"}, got)
}

// ---------------------------------------------------------------------------
// forms
// ---------------------------------------------------------------------------

func TestForms_ValidationMakesNoCalls(t *testing.T) {
	req := &countingRequester{}
	c := New(req, nil, nil)
	ctx := testContext(t)

	_, err := c.Login(ctx, "alice", "  ")
	require.True(t, chaterr.Is(err, chaterr.CodeValidation))
	require.True(t, chaterr.Is(c.Register(ctx, Registration{Username: "a", Email: "e", Password: "p"}), chaterr.CodeValidation))
	require.True(t, chaterr.Is(c.CreateChat(ctx, ""), chaterr.CodeValidation))
	require.True(t, chaterr.Is(c.CreateGroup(ctx, "", []string{"bob"}), chaterr.CodeValidation))
	require.True(t, chaterr.Is(c.CreateGroup(ctx, "team", []string{" ", ""}), chaterr.CodeValidation))
	require.True(t, chaterr.Is(c.AddMember(ctx, "g1", ""), chaterr.CodeValidation))
	require.Zero(t, req.calls.Load())
}

func TestLogin_ReturnsServerMessage(t *testing.T) {
	c := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, PathLogin, r.URL.Path)
		http.SetCookie(w, &http.Cookie{Name: "user_id", Value: "me", Path: "/"})
		io.WriteString(w, `{"message":"welcome"}`)
	})

	msg, err := c.Login(testContext(t), "alice", "Secret1!")
	require.NoError(t, err)
	require.Equal(t, "welcome", msg)
}

func TestCreateChat_UsesQueryParameter(t *testing.T) {
	var (
		mu    sync.Mutex
		query string
	)
	c := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		query = r.URL.Query().Get("user2_username")
		mu.Unlock()
		io.WriteString(w, `{"users":["a","b"]}`)
	})

	require.NoError(t, c.CreateChat(testContext(t), " bob "))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "bob", query)
}

func TestCreateGroup_TrimsMembers(t *testing.T) {
	var (
		mu   sync.Mutex
		body struct {
			Title   string   `json:"title"`
			Members []string `json:"members"`
		}
	)
	c := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	})

	require.NoError(t, c.CreateGroup(testContext(t), "team", strings.Split("bob, carol,,", ",")))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "team", body.Title)
	require.Equal(t, []string{"bob", "carol"}, body.Members)
}

// ---------------------------------------------------------------------------
// group administration
// ---------------------------------------------------------------------------

func TestMembersAndOwner(t *testing.T) {
	c := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathMembers:
			io.WriteString(w, `["alice","bob"]`)
		case PathOwner:
			io.WriteString(w, `"owner-id"`)
		}
	})

	members, err := c.Members(testContext(t), "g1")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, members)

	owner, err := c.Owner(testContext(t), "g1")
	require.NoError(t, err)
	require.Equal(t, "owner-id", owner)
}

func TestRemoveMemberAndExit_UseDelete(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	c := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method+" "+r.URL.Path)
		mu.Unlock()
		io.WriteString(w, `{}`)
	})

	require.NoError(t, c.RemoveMember(testContext(t), "g1", "bob"))
	require.NoError(t, c.ExitGroup(testContext(t), "g1"))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{
		"DELETE " + PathDelMember,
		"DELETE " + PathExitGroup,
	}, methods)
}

func TestUsername_Cached(t *testing.T) {
	var calls atomic.Int32
	c := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, `{"username":"alice"}`)
	})

	for i := 0; i < 3; i++ {
		name, err := c.Username(testContext(t), "u1")
		require.NoError(t, err)
		require.Equal(t, "alice", name)
	}
	require.Equal(t, int32(1), calls.Load())

	name, ok := c.Names().Load("u1")
	require.True(t, ok)
	require.Equal(t, "alice", name)
}

func TestDetail(t *testing.T) {
	require.Equal(t, "nope", detail([]byte(`{"detail":"nope"}`)))
	require.Equal(t, "done", detail([]byte(`{"message":"done"}`)))
	require.Equal(t, `[{"loc":["body"]}]`, detail([]byte(`{"detail":[{"loc":["body"]}]}`)))
	require.Equal(t, "Internal Server Error", detail([]byte("Internal Server Error\n")))
}
