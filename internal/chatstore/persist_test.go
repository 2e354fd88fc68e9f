package chatstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ashureev/neurobot/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestEncodeWritesCurrentVersion(t *testing.T) {
	data, err := Encode(Snapshot{})
	require.NoError(t, err)

	var env struct {
		Version int `json:"version"`
		State   struct {
			Chats      []domain.Chat `json:"chats"`
			ActiveChat *string       `json:"activeChat"`
		} `json:"state"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, CurrentVersion, env.Version)
	require.NotNil(t, env.State.Chats)
	require.Nil(t, env.State.ActiveChat)
}

func TestDecodeEmptyInput(t *testing.T) {
	for _, in := range []string{"", "  ", "null"} {
		snap, err := Decode([]byte(in), nil)
		require.NoError(t, err)
		require.Empty(t, snap.Chats)
		require.Empty(t, snap.ActiveChat)
	}
}

func TestDecodeBareArrayAndNumericIDs(t *testing.T) {
	snap, err := Decode([]byte(`[{"id":1712345678901,"title":"","messages":[{"role":"user","content":"q"}]}]`), seqIDs())
	require.NoError(t, err)
	require.Len(t, snap.Chats, 1)

	c := snap.Chats[0]
	require.Equal(t, "id-1", c.ID)
	require.Equal(t, "Новый чат 1", c.Title)
	require.Equal(t, domain.ChatTypeChat, c.Type)
	require.Equal(t, "id-2", c.Messages[0].ID)
	require.Equal(t, c.ID, snap.ActiveChat, "dangling active pointer resets to the first chat")
}

func TestDecodeKeepsCurrentVersionIDs(t *testing.T) {
	// Numeric ids are only treated as legacy before version 1.
	snap, err := Decode([]byte(`{"version":1,"state":{"chats":[{"id":"42","title":"t","type":"smm","messages":[]}],"activeChat":"42"}}`), seqIDs())
	require.NoError(t, err)
	require.Equal(t, "42", snap.Chats[0].ID)
	require.Equal(t, "42", snap.ActiveChat)
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	_, err := Decode([]byte(`{"version":2,"state":{}}`), nil)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestEncodeDecodeKeepsActiveChat(t *testing.T) {
	in := Snapshot{
		Chats: []domain.Chat{
			{ID: "a", Title: "A", Type: domain.ChatTypeChat, Messages: []domain.Message{}},
			{ID: "b", Title: "B", Type: domain.ChatTypeAnalysis, Messages: []domain.Message{}},
		},
		ActiveChat: "b",
	}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data, nil)
	require.NoError(t, err)
	require.Equal(t, "b", out.ActiveChat)
	require.Equal(t, 1, out.ActiveIndex())
	require.Equal(t, domain.ChatTypeAnalysis, out.Chats[1].Type)
}

func TestFileStorage(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "chat-storage.json")
	fs := NewFileStorage(path)
	require.Equal(t, path, fs.Path())

	data, err := fs.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, data)

	require.NoError(t, fs.Save(ctx, []byte(`{"version":1}`)))
	require.NoError(t, fs.Save(ctx, []byte(`{"version":1,"state":null}`)))

	data, err = fs.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"version":1,"state":null}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestStoreOnFileStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat-storage.json")
	s := newTestStore(t, NewFileStorage(path))
	c := s.CreateNewChat(domain.ChatTypeSMM)

	reloaded := newTestStore(t, NewFileStorage(path))
	require.Equal(t, c.ID, reloaded.ActiveChatID())
	require.Equal(t, c.Title, reloaded.Chats()[0].Title)
}
