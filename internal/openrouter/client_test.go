package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChatCompletionSendsHeadersAndBody(t *testing.T) {
	var (
		gotReq    ChatRequest
		gotPath   string
		gotHeader http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}],"usage":{"total_tokens":3}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL + "/", Referer: "http://localhost:3000", Title: "NEUROBOT"})
	temp := 0.7
	data, err := c.ChatCompletion(context.Background(), "key-1", ChatRequest{
		Model:       "openai/gpt-4o-mini",
		Messages:    []Message{{Role: "user", Content: "hi"}},
		Temperature: &temp,
		MaxTokens:   2000,
	})
	require.NoError(t, err)
	require.Equal(t, "/chat/completions", gotPath)
	require.Equal(t, "Bearer key-1", gotHeader.Get("Authorization"))
	require.Equal(t, "http://localhost:3000", gotHeader.Get("HTTP-Referer"))
	require.Equal(t, "NEUROBOT", gotHeader.Get("X-Title"))
	require.Equal(t, "openai/gpt-4o-mini", gotReq.Model)
	require.Equal(t, 2000, gotReq.MaxTokens)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	require.True(t, resp.HasMessage())
	require.Equal(t, "ok", resp.Content())
}

func TestChatCompletionStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"message":"Insufficient credits","code":402}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := c.ChatCompletion(context.Background(), "key-1", ChatRequest{})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusPaymentRequired, se.Status)
	require.False(t, se.RateLimited())
	require.Equal(t, "Insufficient credits", se.Message())
	require.JSONEq(t, `{"message":"Insufficient credits","code":402}`, string(se.Detail()))
}

func TestChatCompletionRequiresKey(t *testing.T) {
	c := NewClient(ClientConfig{})
	_, err := c.ChatCompletion(context.Background(), "", ChatRequest{})
	require.ErrorIs(t, err, ErrNoKeys)
}

func TestHasMessage(t *testing.T) {
	cases := map[string]bool{
		`{"choices":[{"message":{"content":"x"}}]}`: true,
		`{"choices":[]}`:                 false,
		`{"choices":[{"text":"x"}]}`:     false,
		`{"choices":[{"message":null}]}`: false,
		`{}`:                             false,
	}
	for body, want := range cases {
		var resp ChatResponse
		require.NoError(t, json.Unmarshal([]byte(body), &resp))
		require.Equal(t, want, resp.HasMessage(), body)
	}
}

func TestTruncate(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	require.Len(t, Truncate(long), maxLoggedBody+len("...(truncated)"))
	require.Equal(t, "short", Truncate([]byte("short")))
}
