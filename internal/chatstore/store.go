// Package chatstore owns the list of chat sessions a client holds, the active chat and
// the visible message list, and persists them as a single versioned blob.
package chatstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/neurobot/internal/domain"
	"github.com/google/uuid"
)

// ErrChatNotFound is returned by operations addressing a chat id the store does not hold.
var ErrChatNotFound = errors.New("chat not found")

// Storage is the key-value slot the store is persisted into.
type Storage interface {
	// Load returns the stored blob, or nil if nothing was stored yet.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the stored blob.
	Save(ctx context.Context, data []byte) error
}

// Notifier shows short user-facing confirmations.
type Notifier interface {
	Notify(title, description string)
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier sets the notifier receiving delete confirmations.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithIDGenerator overrides how chat and message ids are generated.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is the chat session registry. The visible message list always mirrors the
// active chat's messages; every mutation is written through to both and persisted.
type Store struct {
	mu       sync.Mutex
	storage  Storage
	notifier Notifier
	newID    func() string
	now      func() time.Time
	logger   *slog.Logger

	chats    []domain.Chat
	active   string
	messages []domain.Message
}

// New creates an empty store backed by storage. Call Load to restore persisted state.
func New(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage:  storage,
		newID:    newUUID,
		now:      time.Now,
		logger:   slog.Default(),
		chats:    []domain.Chat{},
		messages: []domain.Message{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newUUID() string {
	return uuid.NewString()
}

// Load restores the store from storage. A malformed blob is logged and the store
// falls back to empty state; only a failing storage read is returned.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()

	if s.storage == nil {
		return nil
	}

	data, err := s.storage.Load(ctx)
	if err != nil {
		return fmt.Errorf("load chat state: %w", err)
	}

	snap, err := Decode(data, s.newID)
	if err != nil {
		s.logger.Error("Failed to decode persisted chat state, starting empty", "error", err, "bytes", len(data))
		return nil
	}

	s.chats = snap.Chats
	s.active = snap.ActiveChat
	if idx := s.activeIndex(); idx >= 0 {
		s.messages = domain.CloneMessages(s.chats[idx].Messages)
	}
	return nil
}

// Reload is Load under another name, used when storage was changed by someone else.
func (s *Store) Reload(ctx context.Context) error {
	return s.Load(ctx)
}

func (s *Store) reset() {
	s.chats = []domain.Chat{}
	s.active = ""
	s.messages = []domain.Message{}
}

// CreateNewChat appends a chat of the given type, makes it active and shows its
// (possibly persona-seeded) messages.
func (s *Store) CreateNewChat(chatType domain.ChatType) domain.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat := s.newChat(chatType)
	s.chats = append(s.chats, chat)
	s.active = chat.ID
	s.messages = domain.CloneMessages(chat.Messages)
	s.persist()

	return chat.Clone()
}

// EnsureChat creates a chat of the given type when the store holds none, and makes
// sure one chat is active. It reports whether a chat was created.
func (s *Store) EnsureChat(chatType domain.ChatType) bool {
	s.mu.Lock()
	if len(s.chats) > 0 {
		if s.activeIndex() < 0 {
			last := s.chats[len(s.chats)-1]
			s.active = last.ID
			s.messages = domain.CloneMessages(last.Messages)
			s.persist()
		}
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	s.CreateNewChat(chatType)
	return true
}

func (s *Store) newChat(chatType domain.ChatType) domain.Chat {
	now := s.now().UTC()
	chat := domain.Chat{
		ID:        s.newID(),
		Title:     fmt.Sprintf("%s %d", chatType.Label(), len(s.chats)+1),
		Type:      chatType,
		Messages:  []domain.Message{},
		CreatedAt: now,
	}

	if p, ok := personas[chatType]; ok {
		chat.Subtitle = p.subtitle
		ts := now
		chat.Messages = append(chat.Messages, domain.Message{
			ID:        s.newID(),
			Role:      domain.RoleAssistant,
			Content:   p.greeting,
			CreatedAt: &ts,
		})
	}
	return chat
}

// SwitchChat makes chatID the active chat and shows its messages.
func (s *Store) SwitchChat(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(chatID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}

	s.active = chatID
	s.messages = domain.CloneMessages(s.chats[idx].Messages)
	s.persist()
	return nil
}

// DeleteChat removes a chat. Deleting the active chat activates the last remaining
// chat in list order, or clears the active chat and the visible messages.
func (s *Store) DeleteChat(chatID string) error {
	s.mu.Lock()

	idx := s.indexOf(chatID)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}

	removed := s.chats[idx]
	s.chats = append(s.chats[:idx:idx], s.chats[idx+1:]...)

	if s.active == chatID {
		if n := len(s.chats); n > 0 {
			s.active = s.chats[n-1].ID
			s.messages = domain.CloneMessages(s.chats[n-1].Messages)
		} else {
			s.active = ""
			s.messages = []domain.Message{}
		}
	}
	s.persist()
	notifier := s.notifier
	s.mu.Unlock()

	if notifier != nil {
		notifier.Notify("Чат удалён", fmt.Sprintf("%q был удалён", removed.Title))
	}
	return nil
}

// RenameChat sets a chat's title to the trimmed newTitle. A title that is empty after
// trimming leaves the chat unchanged.
func (s *Store) RenameChat(chatID, newTitle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(chatID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}

	title := strings.TrimSpace(newTitle)
	if title == "" || title == s.chats[idx].Title {
		return nil
	}

	s.chats[idx].Title = title
	s.persist()
	return nil
}

// SetMessages replaces the visible message list and writes it through to the active
// chat. Without an active chat only the visible list changes.
func (s *Store) SetMessages(messages []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setMessagesLocked(messages)
}

func (s *Store) setMessagesLocked(messages []domain.Message) {
	s.messages = domain.CloneMessages(messages)
	if idx := s.activeIndex(); idx >= 0 {
		s.chats[idx].Messages = domain.CloneMessages(messages)
	}
	s.persist()
}

// AppendMessage appends msg to the visible list, filling in a missing id and timestamp.
func (s *Store) AppendMessage(msg domain.Message) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = s.newID()
	}
	if msg.CreatedAt == nil {
		ts := s.now().UTC()
		msg.CreatedAt = &ts
	}

	next := make([]domain.Message, 0, len(s.messages)+1)
	next = append(next, s.messages...)
	next = append(next, msg)
	s.setMessagesLocked(next)
	return msg
}

// RemoveMessage drops the message with the given id from the visible list. It is how
// a processing placeholder is withdrawn before its replacement is appended.
func (s *Store) RemoveMessage(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]domain.Message, 0, len(s.messages))
	for _, m := range s.messages {
		if m.ID != messageID {
			next = append(next, m)
		}
	}
	if len(next) == len(s.messages) {
		return false
	}
	s.setMessagesLocked(next)
	return true
}

// Chats returns a copy of the chat list in creation order.
func (s *Store) Chats() []domain.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Chat, len(s.chats))
	for i, c := range s.chats {
		out[i] = c.Clone()
	}
	return out
}

// ActiveChatID returns the id of the active chat, or "" if none is active.
func (s *Store) ActiveChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ActiveChat returns a copy of the active chat.
func (s *Store) ActiveChat() (domain.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.activeIndex()
	if idx < 0 {
		return domain.Chat{}, false
	}
	return s.chats[idx].Clone(), true
}

// Messages returns a copy of the visible message list.
func (s *Store) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.CloneMessages(s.messages)
}

// Snapshot returns the persisted view of the store.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Replace swaps the whole store content for snap, e.g. after pulling a remote copy.
func (s *Store) Replace(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	repair(&snap, s.newID)
	s.chats = make([]domain.Chat, len(snap.Chats))
	for i, c := range snap.Chats {
		s.chats[i] = c.Clone()
	}
	s.active = snap.ActiveChat
	s.messages = []domain.Message{}
	if idx := s.activeIndex(); idx >= 0 {
		s.messages = domain.CloneMessages(s.chats[idx].Messages)
	}
	s.persist()
}

func (s *Store) snapshotLocked() Snapshot {
	chats := make([]domain.Chat, len(s.chats))
	for i, c := range s.chats {
		chats[i] = c.Clone()
	}
	return Snapshot{Chats: chats, ActiveChat: s.active}
}

func (s *Store) indexOf(chatID string) int {
	for i := range s.chats {
		if s.chats[i].ID == chatID {
			return i
		}
	}
	return -1
}

func (s *Store) activeIndex() int {
	if s.active == "" {
		return -1
	}
	return s.indexOf(s.active)
}

// persist writes the current state. Failures are logged; the in-memory state stays
// authoritative and the next mutation retries the write.
func (s *Store) persist() {
	if s.storage == nil {
		return
	}
	data, err := Encode(s.snapshotLocked())
	if err != nil {
		s.logger.Error("Failed to encode chat state", "error", err)
		return
	}
	if err := s.storage.Save(context.Background(), data); err != nil {
		s.logger.Error("Failed to persist chat state", "error", err, "bytes", len(data))
	}
}
