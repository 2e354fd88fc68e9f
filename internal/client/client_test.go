package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/neurobot/internal/domain"
	"github.com/ashureev/neurobot/internal/identity"
	"github.com/stretchr/testify/require"
)

const device = "anon_0123456789abcdef0123456789abcdef"

func TestChatSendsConversationAndIdentity(t *testing.T) {
	var got chatRequest
	var gotDevice, gotSession string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDevice = r.Header.Get(identity.AnonHeaderName)
		gotSession = r.Header.Get(identity.SessionHeaderName)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = io.WriteString(w, `{"success":true,"data":{"choices":[{"message":{"role":"assistant","content":"Привет!"}}],"usage":{}}}`)
	}))
	defer srv.Close()

	c := New(srv.URL, device, "cli-1", 5*time.Second)
	chat := domain.Chat{ID: "c1", Type: domain.ChatTypeSMM}
	reply, err := c.Chat(context.Background(), chat, []domain.Message{
		{Role: domain.RoleAssistant, Content: "greeting"},
		{Role: domain.RoleSystem, Content: "*уже смотрю...*"},
		{Role: domain.RoleBot, Content: "old reply"},
		{Role: domain.RoleUser, Content: "пост про кофе"},
	})

	require.NoError(t, err)
	require.Equal(t, "Привет!", reply)
	require.Equal(t, device, gotDevice)
	require.Equal(t, "cli-1", gotSession)
	require.Equal(t, "smm", got.ChatType)
	require.Equal(t, "c1", got.ChatID)
	require.Len(t, got.Messages, 3)
	require.Equal(t, domain.RoleAssistant, got.Messages[1].Role)
}

func TestChatSurfacesEnvelopeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"success":false,"error":{"message":"All API keys are rate limited","code":"ALL_KEYS_RATE_LIMITED"}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, device, "", time.Second).Chat(context.Background(), domain.Chat{}, nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	require.Equal(t, "ALL_KEYS_RATE_LIMITED", apiErr.Code)
}

func TestChatEmptyContentFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"data":{"choices":[{"message":{"content":""}}]}}`)
	}))
	defer srv.Close()

	reply, err := New(srv.URL, device, "", time.Second).Chat(context.Background(), domain.Chat{}, nil)
	require.NoError(t, err)
	require.Equal(t, EmptyReply, reply)
}

func TestAnalyzeImage(t *testing.T) {
	var got ImageRequest
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"На фото кошка"}}]}`)
	}))
	defer srv.Close()

	text, err := New(srv.URL, device, "", time.Second).AnalyzeImage(context.Background(), ImageRequest{Data: "aGk="})
	require.NoError(t, err)
	require.Equal(t, "На фото кошка", text)
	require.Equal(t, "/api/analyze-image", gotPath)
	require.Equal(t, "aGk=", got.Data)
	require.Empty(t, got.URL)
}

func TestAnalyzeImageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"Необходим параметр imageData"}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, device, "", time.Second).AnalyzeImage(context.Background(), ImageRequest{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "Необходим параметр imageData", apiErr.Message)
}

func TestPushAndPullState(t *testing.T) {
	var stored []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			stored, _ = io.ReadAll(r.Body)
			_, _ = io.WriteString(w, `{"version":1,"chats":2,"updatedAt":1700000000}`)
		case http.MethodGet:
			if stored == nil {
				w.WriteHeader(http.StatusNotFound)
				_, _ = io.WriteString(w, `{"error":"no state stored"}`)
				return
			}
			_, _ = w.Write(stored)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, device, "", time.Second)

	_, err := c.PullState(context.Background())
	require.ErrorIs(t, err, ErrNoState)

	blob := []byte(`{"version":1,"state":{"chats":[],"activeChat":null}}`)
	n, err := c.PushState(context.Background(), blob)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	pulled, err := c.PullState(context.Background())
	require.NoError(t, err)
	require.JSONEq(t, string(blob), string(pulled))
}
