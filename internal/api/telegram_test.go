package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashureev/neurobot/internal/identity"
	"github.com/ashureev/neurobot/internal/telegram"
	"github.com/go-chi/chi/v5"
)

type publishCall struct {
	token, chatID, text string
	messageID           int64
}

type fakePublisher struct {
	published []publishCall
	edited    []publishCall
	getMeErr  error
}

func (f *fakePublisher) GetMe(context.Context, string) (*telegram.Bot, error) {
	if f.getMeErr != nil {
		return nil, f.getMeErr
	}
	return &telegram.Bot{}, nil
}

func (f *fakePublisher) Publish(_ context.Context, token, chatID, text string) (int64, error) {
	f.published = append(f.published, publishCall{token: token, chatID: chatID, text: text})
	return 77, nil
}

func (f *fakePublisher) Edit(_ context.Context, token, chatID string, messageID int64, text string) error {
	f.edited = append(f.edited, publishCall{token: token, chatID: chatID, text: text, messageID: messageID})
	return nil
}

func telegramRouter(h *TelegramHandler, userID string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(identity.WithUser(req.Context(), userID, "tab")))
		})
	})
	h.RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var got map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, got
}

func TestTelegramChannelLifecycle(t *testing.T) {
	repo := newFakeRepo()
	bot := &fakePublisher{}
	h := NewTelegramHandler(newBase(repo), bot, false)
	owner := telegramRouter(h, "anon_owner")
	stranger := telegramRouter(h, "anon_stranger")

	status, got := do(t, owner, http.MethodPost, "/api/telegram/", `{"token":"123456:SECRET","channelName":"neurobot_news"}`)
	if status != http.StatusOK || got["success"] != true {
		t.Fatalf("create: %d %v", status, got)
	}
	channel := got["channel"].(map[string]any)
	if channel["token"] != "123456:***" {
		t.Fatalf("token must be masked, got %v", channel["token"])
	}

	status, got = do(t, owner, http.MethodGet, "/api/telegram/", "")
	if status != http.StatusOK || len(got["channels"].([]any)) != 1 {
		t.Fatalf("list: %d %v", status, got)
	}
	status, got = do(t, stranger, http.MethodGet, "/api/telegram/", "")
	if status != http.StatusOK || len(got["channels"].([]any)) != 0 {
		t.Fatalf("stranger list: %d %v", status, got)
	}

	status, got = do(t, owner, http.MethodPost, "/api/telegram/1/publish", `{"text":"<b>Новый пост</b>"}`)
	if status != http.StatusOK || got["messageId"] != float64(77) {
		t.Fatalf("publish: %d %v", status, got)
	}
	if len(bot.published) != 1 || bot.published[0].chatID != "@neurobot_news" || bot.published[0].token != "123456:SECRET" {
		t.Fatalf("published %+v", bot.published)
	}

	status, _ = do(t, owner, http.MethodPost, "/api/telegram/1/publish", `{"text":"правка","messageId":77}`)
	if status != http.StatusOK || len(bot.edited) != 1 || bot.edited[0].messageID != 77 {
		t.Fatalf("edit: %d %+v", status, bot.edited)
	}

	if status, _ := do(t, stranger, http.MethodPost, "/api/telegram/1/publish", `{"text":"spam"}`); status != http.StatusNotFound {
		t.Fatalf("stranger publish status = %d", status)
	}
	if status, _ := do(t, stranger, http.MethodDelete, "/api/telegram/1", ""); status != http.StatusNotFound {
		t.Fatalf("stranger delete status = %d", status)
	}
	if status, _ := do(t, owner, http.MethodDelete, "/api/telegram/1", ""); status != http.StatusOK {
		t.Fatalf("owner delete status = %d", status)
	}
}

func TestTelegramCreateValidation(t *testing.T) {
	h := NewTelegramHandler(newBase(newFakeRepo()), &fakePublisher{}, false)
	router := telegramRouter(h, "anon_owner")

	status, got := do(t, router, http.MethodPost, "/api/telegram/", `{"token":"  ","channelName":"x"}`)
	if status != http.StatusBadRequest || got["success"] != false {
		t.Fatalf("status=%d got=%v", status, got)
	}
}

func TestTelegramCreateVerifiesToken(t *testing.T) {
	bot := &fakePublisher{getMeErr: &telegram.APIError{ErrorCode: 401, Description: "Unauthorized"}}
	repo := newFakeRepo()
	h := NewTelegramHandler(newBase(repo), bot, true)

	status, _ := do(t, telegramRouter(h, "anon_owner"), http.MethodPost, "/api/telegram/", `{"token":"1:bad","channelName":"x"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}
	if len(repo.channels) != 0 {
		t.Fatal("rejected token must not be stored")
	}
}

func TestChatIDFor(t *testing.T) {
	cases := map[string]string{
		"news":                  "@news",
		"@news":                 "@news",
		"-1001234567890":        "-1001234567890",
		"https://t.me/neurobot": "@neurobot",
	}
	for in, want := range cases {
		if got := chatIDFor(in); got != want {
			t.Errorf("chatIDFor(%q) = %q, want %q", in, got, want)
		}
	}
}
