package conversation

import (
	"errors"
	"sync"
	"time"

	"expense-intake/internal/categories"
	"expense-intake/internal/models"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("conversation not found")

type session struct {
	mu       sync.Mutex
	conv     models.ConversationContext
	lastUsed time.Time
}

// Store keeps live conversations in memory. Each session has its own lock so
// turns of one conversation are serialized while others proceed. Sessions
// idle for longer than the TTL are evicted.
type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session
	ttl      time.Duration
	now      func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create starts a conversation for userID at the initial step.
func (s *Store) Create(userID uuid.UUID) models.ConversationContext {
	now := s.now()
	conv := models.ConversationContext{
		ID:         uuid.New(),
		UserID:     userID,
		Messages:   []models.Message{},
		Step:       models.StepInitial,
		Categories: categories.All(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	s.mu.Lock()
	s.sweepLocked(now)
	s.sessions[conv.ID] = &session{conv: conv, lastUsed: now}
	s.mu.Unlock()

	return conv
}

// Get returns a copy of the conversation. Conversations of other users are
// reported as not found.
func (s *Store) Get(id, userID uuid.UUID) (models.ConversationContext, error) {
	sess, err := s.lookup(id, userID)
	if err != nil {
		return models.ConversationContext{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return clone(sess.conv), nil
}

// Update runs fn on the conversation while holding its lock. Changes made by
// fn are kept only when it returns nil.
func (s *Store) Update(id, userID uuid.UUID, fn func(conv *models.ConversationContext) error) (models.ConversationContext, error) {
	sess, err := s.lookup(id, userID)
	if err != nil {
		return models.ConversationContext{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	work := clone(sess.conv)
	if err := fn(&work); err != nil {
		return models.ConversationContext{}, err
	}
	sess.conv = work
	sess.lastUsed = s.now()
	return clone(work), nil
}

func (s *Store) Delete(id uuid.UUID) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Len is the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) lookup(id, userID uuid.UUID) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(s.now())
	sess, ok := s.sessions[id]
	if !ok || sess.conv.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *Store) sweepLocked(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	for id, sess := range s.sessions {
		if sess.mu.TryLock() {
			expired := now.Sub(sess.lastUsed) > s.ttl
			sess.mu.Unlock()
			if expired {
				delete(s.sessions, id)
			}
		}
	}
}

func clone(c models.ConversationContext) models.ConversationContext {
	out := c
	out.Messages = make([]models.Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	out.Categories = make([]string, len(c.Categories))
	copy(out.Categories, c.Categories)
	return out
}
