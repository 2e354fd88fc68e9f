package api

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/neurobot/internal/domain"
	"github.com/ashureev/neurobot/internal/statesync"
)

type fakeRepo struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	states   map[string]*domain.ChatState
	channels map[int64]*domain.TelegramChannel
	nextID   int64
	pingErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:    make(map[string]*domain.User),
		states:   make(map[string]*domain.ChatState),
		channels: make(map[int64]*domain.TelegramChannel),
	}
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	if user == nil {
		return nil, nil
	}
	copy := *user
	return &copy, nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *user
	f.users[user.UserID] = &copy
	return nil
}

func (f *fakeRepo) UpdateLastSeen(_ context.Context, _ string, _ time.Time) error { return nil }

func (f *fakeRepo) GetChatState(_ context.Context, userID string) (*domain.ChatState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.states[userID]
	if state == nil {
		return nil, nil
	}
	copy := *state
	return &copy, nil
}

func (f *fakeRepo) UpsertChatState(_ context.Context, state *domain.ChatState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *state
	f.states[state.UserID] = &copy
	return nil
}

func (f *fakeRepo) DeleteChatState(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, userID)
	return nil
}

func (f *fakeRepo) CleanupStaleChatStates(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) CreateTelegramChannel(_ context.Context, channel *domain.TelegramChannel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	channel.ID = f.nextID
	channel.CreatedAt = time.Unix(1_700_000_000+f.nextID, 0)
	copy := *channel
	f.channels[channel.ID] = &copy
	return nil
}

func (f *fakeRepo) ListTelegramChannels(_ context.Context, userID string) ([]*domain.TelegramChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.TelegramChannel
	for _, c := range f.channels {
		if c.UserID == userID {
			copy := *c
			out = append(out, &copy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeRepo) GetTelegramChannel(_ context.Context, userID string, id int64) (*domain.TelegramChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.channels[id]
	if c == nil || c.UserID != userID {
		return nil, nil
	}
	copy := *c
	return &copy, nil
}

func (f *fakeRepo) DeleteTelegramChannel(_ context.Context, userID string, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.channels[id]
	if c == nil || c.UserID != userID {
		return false, nil
	}
	delete(f.channels, id)
	return true, nil
}

func (f *fakeRepo) Ping(_ context.Context) error { return f.pingErr }

func (f *fakeRepo) Close() error { return nil }

type recordingHub struct {
	mu     sync.Mutex
	events []statesync.Event
	except []string
}

func (h *recordingHub) Broadcast(_ string, exceptSession string, ev statesync.Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	h.except = append(h.except, exceptSession)
	return 1
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBase(repo *fakeRepo) *Handler {
	return NewHandler(repo, discardLogger())
}
