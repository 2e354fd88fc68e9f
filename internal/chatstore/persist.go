package chatstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/neurobot/internal/domain"
)

// CurrentVersion is the schema version written by Encode.
//
// Version 0 is the unversioned blob written by the web client (zustand persist, or a bare
// chat array). Its chat ids were Date.now() strings that collided when two chats were
// created in the same millisecond, and older chats carried no type.
const CurrentVersion = 1

// ErrUnsupportedVersion is returned for blobs written by a newer client.
var ErrUnsupportedVersion = errors.New("unsupported chat state version")

// Snapshot is the persisted part of the store: the chat list and the active chat id.
// An empty ActiveChat means no chat is active.
type Snapshot struct {
	Chats      []domain.Chat
	ActiveChat string
}

// ActiveIndex returns the index of the active chat, or -1.
func (s *Snapshot) ActiveIndex() int {
	if s.ActiveChat == "" {
		return -1
	}
	for i := range s.Chats {
		if s.Chats[i].ID == s.ActiveChat {
			return i
		}
	}
	return -1
}

type envelope struct {
	Version int             `json:"version"`
	State   json.RawMessage `json:"state"`
}

type persistedState struct {
	Chats      []domain.Chat `json:"chats"`
	ActiveChat *string       `json:"activeChat"`
}

// rawState tolerates every chat layout seen in the wild.
type rawState struct {
	Chats      []rawChat `json:"chats"`
	ActiveChat *string   `json:"activeChat"`
}

type rawChat struct {
	ID        json.RawMessage  `json:"id"`
	Title     string           `json:"title"`
	Subtitle  string           `json:"subtitle"`
	Type      string           `json:"type"`
	ChatType  string           `json:"chatType"`
	Messages  []domain.Message `json:"messages"`
	CreatedAt string           `json:"createdAt"`
}

type migration func(chats []domain.Chat, newID func() string) map[string]string

// migrations upgrade a decoded blob from the version used as key to key+1. Each
// returns a mapping of replaced chat ids so the active pointer can follow.
var migrations = map[int]migration{
	0: migrateLegacyIDs,
}

// Encode serializes a snapshot at CurrentVersion.
func Encode(s Snapshot) ([]byte, error) {
	state := persistedState{Chats: s.Chats}
	if state.Chats == nil {
		state.Chats = []domain.Chat{}
	}
	if s.ActiveChat != "" {
		active := s.ActiveChat
		state.ActiveChat = &active
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal chat state: %w", err)
	}
	data, err := json.Marshal(envelope{Version: CurrentVersion, State: stateJSON})
	if err != nil {
		return nil, fmt.Errorf("marshal chat state envelope: %w", err)
	}
	return data, nil
}

// Decode parses a persisted blob of any known version, runs the migrations from its
// version up to CurrentVersion, and repairs the store invariants. Empty input yields
// an empty snapshot. newID may be nil.
func Decode(data []byte, newID func() string) (Snapshot, error) {
	if newID == nil {
		newID = newUUID
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Snapshot{Chats: []domain.Chat{}}, nil
	}

	version, raw, err := unwrap(data)
	if err != nil {
		return Snapshot{}, err
	}
	if version > CurrentVersion || version < 0 {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	chats := make([]domain.Chat, len(raw.Chats))
	for i, rc := range raw.Chats {
		chats[i] = rc.toChat()
	}

	active := ""
	if raw.ActiveChat != nil {
		active = *raw.ActiveChat
	}

	for v := version; v < CurrentVersion; v++ {
		if m, ok := migrations[v]; ok {
			if remapped := m(chats, newID); remapped != nil {
				if next, moved := remapped[active]; moved {
					active = next
				}
			}
		}
	}

	snap := Snapshot{Chats: chats, ActiveChat: active}
	repair(&snap, newID)
	return snap, nil
}

func unwrap(data []byte) (int, rawState, error) {
	var raw rawState

	// A bare array is the chat list the web client mirrored into its own key.
	if data[0] == '[' {
		if err := json.Unmarshal(data, &raw.Chats); err != nil {
			return 0, rawState{}, fmt.Errorf("decode chat list: %w", err)
		}
		return 0, raw, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, rawState{}, fmt.Errorf("decode chat state envelope: %w", err)
	}
	if len(env.State) == 0 || bytes.Equal(env.State, []byte("null")) {
		return env.Version, raw, nil
	}
	if err := json.Unmarshal(env.State, &raw); err != nil {
		return 0, rawState{}, fmt.Errorf("decode chat state: %w", err)
	}
	return env.Version, raw, nil
}

func (rc rawChat) toChat() domain.Chat {
	typ := rc.Type
	if typ == "" {
		typ = rc.ChatType
	}

	created, err := time.Parse(time.RFC3339Nano, rc.CreatedAt)
	if err != nil {
		created = time.Time{}
	}

	msgs := rc.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}

	return domain.Chat{
		ID:        rawID(rc.ID),
		Title:     rc.Title,
		Subtitle:  rc.Subtitle,
		Type:      domain.ParseChatType(typ),
		Messages:  msgs,
		CreatedAt: created,
	}
}

// rawID accepts ids written as JSON strings or numbers.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// migrateLegacyIDs replaces bare numeric ids (Date.now() strings) with fresh ones.
func migrateLegacyIDs(chats []domain.Chat, newID func() string) map[string]string {
	remapped := make(map[string]string)
	for i := range chats {
		if !isLegacyID(chats[i].ID) {
			continue
		}
		old := chats[i].ID
		chats[i].ID = newID()
		if _, seen := remapped[old]; !seen {
			remapped[old] = chats[i].ID
		}
	}
	return remapped
}

func isLegacyID(id string) bool {
	if id == "" {
		return false
	}
	_, err := strconv.ParseUint(id, 10, 64)
	return err == nil
}

// repair enforces the invariants every loaded snapshot must satisfy, whatever its
// version: unique non-empty chat ids, titles, message ids, and an active pointer that
// resolves or is empty.
func repair(s *Snapshot, newID func() string) {
	seen := make(map[string]struct{}, len(s.Chats))
	for i := range s.Chats {
		c := &s.Chats[i]
		if _, dup := seen[c.ID]; dup || c.ID == "" {
			c.ID = newID()
		}
		seen[c.ID] = struct{}{}

		if strings.TrimSpace(c.Title) == "" {
			c.Title = fmt.Sprintf("%s %d", c.Type.Label(), i+1)
		}
		for j := range c.Messages {
			if c.Messages[j].ID == "" {
				c.Messages[j].ID = newID()
			}
		}
	}

	if s.ActiveIndex() < 0 {
		if len(s.Chats) > 0 {
			s.ActiveChat = s.Chats[0].ID
		} else {
			s.ActiveChat = ""
		}
	}
}
