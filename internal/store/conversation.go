// Package store keeps the per-user conversation history: an append-only
// ordered log with one allowed in-place update, the lazy audio attachment.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/emotifriend/backend/internal/model/chat"
	"github.com/emotifriend/backend/internal/store/kv"
)

// storageNamespace prefixes every persisted conversation key, scoping the
// snapshot to the authenticated identity.
const storageNamespace = "emotifriend-conversation"

// MessageMatch selects the message an audio attachment belongs to. When ID
// is set it wins; otherwise the most recent unattached AI message with
// identical text and sender is chosen.
type MessageMatch struct {
	ID     string
	Text   string
	Sender chat.Sender
}

// Conversation owns the ordered message logs, keyed by user identity. The
// in-memory log is authoritative for the session; every mutation is written
// through to the kv store, and a write failure is logged, not surfaced.
// An empty user id yields a transient, unpersisted conversation.
type Conversation struct {
	mu      sync.RWMutex
	kvStore kv.Store
	logs    map[string][]chat.Message
}

// NewConversation wires the store to its persistence backend.
func NewConversation(kvStore kv.Store) *Conversation {
	return &Conversation{
		kvStore: kvStore,
		logs:    make(map[string][]chat.Message),
	}
}

func storageKey(userID string) string {
	return storageNamespace + "-" + userID
}

// Load returns the conversation for a user, reading the persisted snapshot
// on first access and synthesizing the welcome message when none exists.
func (s *Conversation) Load(ctx context.Context, userID string) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLog(s.loadLocked(ctx, userID))
}

func (s *Conversation) loadLocked(ctx context.Context, userID string) []chat.Message {
	if messages, ok := s.logs[userID]; ok {
		return messages
	}

	var messages []chat.Message
	if userID != "" {
		if raw, err := s.kvStore.Get(ctx, storageKey(userID)); err == nil {
			if err := json.Unmarshal(raw, &messages); err != nil {
				log.Printf("[store] corrupt conversation snapshot for user=%s: %v", userID, err)
				messages = nil
			}
		} else if !errors.Is(err, kv.ErrNotFound) {
			log.Printf("[store] load conversation for user=%s: %v", userID, err)
		}
	}
	if len(messages) == 0 {
		messages = []chat.Message{chat.Welcome()}
	}

	s.logs[userID] = messages
	return messages
}

// Append adds a message to the user's log. It always succeeds locally.
func (s *Conversation) Append(ctx context.Context, userID string, message chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := append(s.loadLocked(ctx, userID), message)
	s.logs[userID] = messages
	s.persistLocked(ctx, userID, messages)
}

// AttachAudio updates the matched message in place with its synthesized
// audio. Attaching is idempotent: a message that already carries audio is
// never duplicated or re-attached. A predicate that matches nothing is
// silently ignored; it reports whether an attachment happened.
func (s *Conversation) AttachAudio(ctx context.Context, userID string, match MessageMatch, audioDataURI string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages := s.loadLocked(ctx, userID)
	idx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if match.ID != "" {
			if m.ID == match.ID {
				idx = i
				break
			}
			continue
		}
		if m.Sender == match.Sender && m.Text == match.Text && m.AudioDataURI == "" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	if messages[idx].AudioDataURI != "" {
		return false
	}

	messages[idx].AudioDataURI = audioDataURI
	s.persistLocked(ctx, userID, messages)
	return true
}

// Clear resets the user's conversation to a fresh welcome message and
// erases the persisted snapshot. It returns the new head message.
func (s *Conversation) Clear(ctx context.Context, userID string) chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	welcome := chat.Welcome()
	s.logs[userID] = []chat.Message{welcome}
	if userID != "" {
		if err := s.kvStore.Delete(ctx, storageKey(userID)); err != nil {
			log.Printf("[store] clear conversation for user=%s: %v", userID, err)
		}
	}
	return welcome
}

func (s *Conversation) persistLocked(ctx context.Context, userID string, messages []chat.Message) {
	if userID == "" {
		return
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		log.Printf("[store] encode conversation for user=%s: %v", userID, err)
		return
	}
	if err := s.kvStore.Set(ctx, storageKey(userID), raw); err != nil {
		log.Printf("[store] persist conversation for user=%s: %v", userID, err)
	}
}

func (s *Conversation) copyLog(messages []chat.Message) []chat.Message {
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied
}
