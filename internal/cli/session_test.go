package cli

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/neurobot/internal/chatstore"
	"github.com/ashureev/neurobot/internal/client"
	"github.com/ashureev/neurobot/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	reply    string
	chatErr  error
	gotChat  domain.Chat
	gotMsgs  []domain.Message
	image    string
	imageErr error
	gotImage client.ImageRequest
	remote   []byte
	// seenDuringImage captures the visible messages while the analysis is running.
	seenDuringImage []domain.Message
	store           *chatstore.Store
}

func (f *fakeAPI) Chat(_ context.Context, chat domain.Chat, messages []domain.Message) (string, error) {
	f.gotChat = chat
	f.gotMsgs = messages
	return f.reply, f.chatErr
}

func (f *fakeAPI) AnalyzeImage(_ context.Context, req client.ImageRequest) (string, error) {
	f.gotImage = req
	if f.store != nil {
		f.seenDuringImage = f.store.Messages()
	}
	return f.image, f.imageErr
}

func (f *fakeAPI) PullState(context.Context) ([]byte, error) {
	if f.remote == nil {
		return nil, client.ErrNoState
	}
	return f.remote, nil
}

func (f *fakeAPI) PushState(_ context.Context, blob []byte) (int, error) {
	f.remote = append([]byte(nil), blob...)
	snap, err := chatstore.Decode(blob, nil)
	if err != nil {
		return 0, err
	}
	return len(snap.Chats), nil
}

func newTestSession(t *testing.T, api *fakeAPI) (*Session, *chatstore.Store, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	toast := NewToaster(out)
	store := chatstore.New(nil, chatstore.WithNotifier(toast))
	api.store = store
	return NewSession(store, api, out, toast, &Renderer{}), store, out
}

func TestSendAppendsReply(t *testing.T) {
	api := &fakeAPI{reply: "Лови идеи для постов"}
	s, store, out := newTestSession(t, api)
	store.CreateNewChat(domain.ChatTypeSMM)

	require.True(t, s.Handle(context.Background(), "придумай пост"))

	msgs := store.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, domain.RoleAssistant, msgs[0].Role)
	require.Equal(t, domain.RoleUser, msgs[1].Role)
	require.Equal(t, "придумай пост", msgs[1].Content)
	require.Equal(t, "Лови идеи для постов", msgs[2].Content)

	require.Equal(t, domain.ChatTypeSMM, api.gotChat.Type)
	require.Len(t, api.gotMsgs, 2)
	require.Contains(t, out.String(), "Лови идеи для постов")

	chat, _ := store.ActiveChat()
	require.Len(t, chat.Messages, 3)
}

func TestSendCreatesChatWhenNoneActive(t *testing.T) {
	api := &fakeAPI{reply: "ok"}
	s, store, _ := newTestSession(t, api)

	s.Handle(context.Background(), "привет")

	require.Len(t, store.Chats(), 1)
	require.Equal(t, domain.ChatTypeChat, api.gotChat.Type)
	require.Len(t, store.Messages(), 2)
}

func TestSendErrorShowsToast(t *testing.T) {
	api := &fakeAPI{chatErr: &client.APIError{Status: http.StatusTooManyRequests, Code: "ALL_KEYS_RATE_LIMITED", Message: "All API keys are rate limited"}}
	s, store, out := newTestSession(t, api)
	store.CreateNewChat(domain.ChatTypeChat)

	s.Handle(context.Background(), "привет")

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, domain.RoleUser, msgs[0].Role)
	require.Contains(t, out.String(), "[Ошибка]")
	require.Contains(t, out.String(), "All API keys are rate limited")
}

func TestImageReplacesPlaceholder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cat.png")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0o600))

	api := &fakeAPI{image: "На фото кошка"}
	s, store, _ := newTestSession(t, api)
	store.CreateNewChat(domain.ChatTypeChat)

	s.Handle(context.Background(), "/image "+path+" что это?")

	require.Equal(t, base64.StdEncoding.EncodeToString([]byte("png-bytes")), api.gotImage.Data)
	require.Equal(t, "что это?", api.gotImage.Prompt)
	require.Empty(t, api.gotImage.URL)

	require.Len(t, api.seenDuringImage, 1)
	require.Equal(t, domain.RoleSystem, api.seenDuringImage[0].Role)
	require.Equal(t, ProcessingPlaceholder, api.seenDuringImage[0].Content)

	msgs := store.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, domain.RoleAssistant, msgs[0].Role)
	require.Equal(t, "На фото кошка", msgs[0].Content)
}

func TestImageURLWithoutDescription(t *testing.T) {
	api := &fakeAPI{}
	s, store, out := newTestSession(t, api)
	store.CreateNewChat(domain.ChatTypeChat)

	s.Handle(context.Background(), "/image https://example.com/cat.jpg")

	require.Equal(t, "https://example.com/cat.jpg", api.gotImage.URL)
	require.Empty(t, store.Messages())
	require.Contains(t, out.String(), "Анализ изображения")
	require.Contains(t, out.String(), "Не удалось получить описание изображения.")
}

func TestImageErrorRemovesPlaceholder(t *testing.T) {
	api := &fakeAPI{imageErr: errors.New("boom")}
	s, store, out := newTestSession(t, api)
	store.CreateNewChat(domain.ChatTypeChat)

	s.Handle(context.Background(), "/image https://example.com/cat.jpg")

	require.Empty(t, store.Messages())
	require.Contains(t, out.String(), "Ошибка анализа изображения")
}

func TestImageMissingFile(t *testing.T) {
	api := &fakeAPI{}
	s, store, out := newTestSession(t, api)
	store.CreateNewChat(domain.ChatTypeChat)

	s.Handle(context.Background(), "/image "+filepath.Join(t.TempDir(), "nope.png"))

	require.Empty(t, store.Messages())
	require.Contains(t, out.String(), "Ошибка чтения файла")
}

func TestChatManagementCommands(t *testing.T) {
	api := &fakeAPI{}
	s, store, out := newTestSession(t, api)
	ctx := context.Background()

	s.Handle(ctx, "/new")
	s.Handle(ctx, "/new smm")
	s.Handle(ctx, "/new analysis")
	chats := store.Chats()
	require.Len(t, chats, 3)
	require.Equal(t, chats[2].ID, store.ActiveChatID())

	s.Handle(ctx, "/switch 1")
	require.Equal(t, chats[0].ID, store.ActiveChatID())

	s.Handle(ctx, "/rename 2   Контент-план ")
	require.Equal(t, "Контент-план", store.Chats()[1].Title)

	s.Handle(ctx, "/switch "+chats[1].ID[:6])
	require.Equal(t, chats[1].ID, store.ActiveChatID())

	s.Handle(ctx, "/delete 2")
	require.Len(t, store.Chats(), 2)
	require.Equal(t, chats[2].ID, store.ActiveChatID())
	require.Contains(t, out.String(), "Чат удалён")

	out.Reset()
	s.Handle(ctx, "/list")
	require.Contains(t, out.String(), "Новый чат 1")
	require.Contains(t, out.String(), "Анализ данных 3")

	out.Reset()
	s.Handle(ctx, "/switch 42")
	require.Contains(t, out.String(), "chat not found")
}

func TestPushThenPull(t *testing.T) {
	api := &fakeAPI{}
	s, store, out := newTestSession(t, api)
	ctx := context.Background()

	s.Handle(ctx, "/pull")
	require.Contains(t, out.String(), "на сервере нет сохранённых чатов")

	store.CreateNewChat(domain.ChatTypeSMM)
	store.CreateNewChat(domain.ChatTypeChat)
	s.Handle(ctx, "/push")
	require.Contains(t, out.String(), "на сервере сохранено чатов: 2")

	for _, c := range store.Chats() {
		require.NoError(t, store.DeleteChat(c.ID))
	}
	require.Empty(t, store.Chats())

	s.Handle(ctx, "/pull")
	require.Len(t, store.Chats(), 2)
	require.Equal(t, store.Chats()[1].ID, store.ActiveChatID())
}

func TestQuitAndUnknownCommand(t *testing.T) {
	s, _, out := newTestSession(t, &fakeAPI{})

	require.True(t, s.Handle(context.Background(), "/bogus"))
	require.Contains(t, out.String(), "неизвестная команда /bogus")
	require.True(t, s.Handle(context.Background(), "   "))
	require.False(t, s.Handle(context.Background(), "/quit"))
}

func TestPromptFollowsActiveChat(t *testing.T) {
	s, store, _ := newTestSession(t, &fakeAPI{})
	require.Equal(t, "neurobot> ", s.Prompt())

	store.CreateNewChat(domain.ChatTypeSMM)
	require.True(t, strings.HasPrefix(s.Prompt(), "SMM ассистент 1"))
}

func TestCompleteCommands(t *testing.T) {
	require.Equal(t, []string{"/push", "/pull"}, complete("/pu"))
	require.Nil(t, complete("hello"))
	require.Nil(t, complete("/image foo"))
}
