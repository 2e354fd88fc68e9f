package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/neurobot/internal/domain"
	"github.com/ashureev/neurobot/internal/identity"
)

func TestGetMe(t *testing.T) {
	repo := newFakeRepo()
	repo.users["anon_a"] = &domain.User{UserID: "anon_a", Username: "guest-anon_a", CreatedAt: time.Unix(1_700_000_000, 0)}
	h := NewAccountHandler(newBase(repo), Features{})

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req = req.WithContext(identity.WithUser(req.Context(), "anon_a", "tab"))
	rec := httptest.NewRecorder()
	h.GetMe(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["user_id"] != "anon_a" {
		t.Fatalf("user_id = %v", got["user_id"])
	}
	if _, ok := got["state"]; ok {
		t.Fatal("state must be absent when nothing is stored")
	}
}

func TestGetMeUnknownUser(t *testing.T) {
	h := NewAccountHandler(newBase(newFakeRepo()), Features{})
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req = req.WithContext(identity.WithUser(req.Context(), "anon_missing", "tab"))
	rec := httptest.NewRecorder()
	h.GetMe(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetConfigListsChatTypes(t *testing.T) {
	h := NewAccountHandler(newBase(newFakeRepo()), Features{KeyPoolSize: 2, VisionEnabled: true})
	rec := httptest.NewRecorder()
	h.GetConfig(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["chat_enabled"] != true || got["key_pool_size"] != float64(2) {
		t.Fatalf("config = %v", got)
	}
	if n := len(got["chat_types"].([]any)); n != len(domain.AllChatTypes()) {
		t.Fatalf("chat_types has %d entries", n)
	}
}

func TestGetHealth(t *testing.T) {
	repo := newFakeRepo()
	h := NewAccountHandler(newBase(repo), Features{KeyPoolSize: 1})

	rec := httptest.NewRecorder()
	h.GetHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	repo.pingErr = errors.New("database is locked")
	rec = httptest.NewRecorder()
	h.GetHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}
