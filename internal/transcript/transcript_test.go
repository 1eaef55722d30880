package transcript

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ChatLink/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chatlink.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SaveLoad(t *testing.T) {
	s := openTestStore(t)
	conv := session.Conversation{Kind: session.KindGroup, ID: "g1"}
	msgs := []session.Message{
		{Text: "hi", SenderID: "u1", ChatID: "g1", SendTime: "2024-01-01T10:00:00"},
		{Text: "yo", SenderID: "u2", ChatID: "g1"},
	}

	before := time.Now().Add(-time.Second)
	require.NoError(t, s.Save(testContext(t), conv, msgs))

	got, err := s.Load(testContext(t), conv)
	require.NoError(t, err)
	require.Equal(t, conv, got.Conversation)
	require.Equal(t, msgs, got.Messages)
	require.True(t, got.SavedAt.After(before), "saved_at %v", got.SavedAt)
}

func TestStore_SaveReplacesSnapshot(t *testing.T) {
	s := openTestStore(t)
	conv := session.Conversation{Kind: session.KindDirect, ID: "u1"}

	require.NoError(t, s.Save(testContext(t), conv, []session.Message{{Text: "old", SenderID: "u1"}}))
	require.NoError(t, s.Save(testContext(t), conv, []session.Message{{Text: "a", SenderID: "me"}, {Text: "b", SenderID: "u1"}}))

	got, err := s.Load(testContext(t), conv)
	require.NoError(t, err)
	require.Equal(t, []session.Message{{Text: "a", SenderID: "me"}, {Text: "b", SenderID: "u1"}}, got.Messages)
}

func TestStore_ConversationsAreSeparate(t *testing.T) {
	s := openTestStore(t)
	user := session.Conversation{Kind: session.KindDirect, ID: "42"}
	group := session.Conversation{Kind: session.KindGroup, ID: "42"}

	require.NoError(t, s.Save(testContext(t), user, []session.Message{{Text: "direct", SenderID: "42"}}))
	require.NoError(t, s.Save(testContext(t), group, []session.Message{{Text: "group", SenderID: "7", ChatID: "42"}}))

	got, err := s.Load(testContext(t), user)
	require.NoError(t, err)
	require.Equal(t, "direct", got.Messages[0].Text)

	got, err = s.Load(testContext(t), group)
	require.NoError(t, err)
	require.Equal(t, "group", got.Messages[0].Text)
}

func TestStore_EmptySnapshot(t *testing.T) {
	s := openTestStore(t)
	conv := session.Conversation{Kind: session.KindDirect, ID: "u1"}

	require.NoError(t, s.Save(testContext(t), conv, nil))
	got, err := s.Load(testContext(t), conv)
	require.NoError(t, err)
	require.Empty(t, got.Messages)
}

func TestStore_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load(testContext(t), session.Conversation{Kind: session.KindDirect, ID: "nobody"})
	require.ErrorIs(t, err, ErrNotFound)
}
