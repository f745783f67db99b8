package users

import (
	"context"
	"sync"
	"time"

	"github.com/MrEthical07/linkauth"
	"github.com/google/uuid"
)

// Memory is a concurrency-safe in-process directory. Returned users are
// copies; mutating them does not affect the directory.
type Memory struct {
	mu      sync.RWMutex
	byID    map[string]*linkauth.User
	byEmail map[string]string
	now     func() time.Time
}

// NewMemory returns an empty in-process directory.
func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]*linkauth.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*linkauth.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[email]
	if !ok {
		return nil, linkauth.ErrUserNotFound
	}
	return cloneUser(m.byID[id]), nil
}

func (m *Memory) GetUserByID(_ context.Context, id string) (*linkauth.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return nil, linkauth.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) CreateUser(_ context.Context, email string) (*linkauth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[email]; ok {
		return nil, linkauth.ErrUserExists
	}

	now := m.now().UTC()
	u := &linkauth.User{
		ID:        uuid.NewString(),
		Email:     email,
		Metadata:  map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.byID[u.ID] = u
	m.byEmail[email] = u.ID

	return cloneUser(u), nil
}

// UpdateUserMetadata shallow-merges patch; nil values delete their key.
func (m *Memory) UpdateUserMetadata(_ context.Context, id string, patch map[string]any) (*linkauth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return nil, linkauth.ErrUserNotFound
	}

	for k, v := range patch {
		if v == nil {
			delete(u.Metadata, k)
			continue
		}
		u.Metadata[k] = v
	}
	u.UpdatedAt = m.now().UTC()

	return cloneUser(u), nil
}

// Len returns the number of users.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func cloneUser(u *linkauth.User) *linkauth.User {
	out := *u
	out.Metadata = make(map[string]any, len(u.Metadata))
	for k, v := range u.Metadata {
		out.Metadata[k] = v
	}
	return &out
}
