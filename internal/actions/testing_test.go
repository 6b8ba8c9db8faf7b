package actions

import (
	"context"
	"sync"

	"github.com/dmayes77/clientflow/pkg/clientflow/domain"
)

type MockMailer struct {
	mu       sync.Mutex
	Sent     []Message
	SendFunc func(ctx context.Context, msg Message) error
}

func (m *MockMailer) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, msg)
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	return nil
}

type tagCall struct {
	Op         string
	TenantID   string
	EntityType domain.EntityType
	EntityID   string
	TagID      string
}

type MockTagAssociator struct {
	Calls []tagCall
	Err   error
}

func (m *MockTagAssociator) Add(ctx context.Context, tenantID string, entityType domain.EntityType, entityID, tagID string) error {
	m.Calls = append(m.Calls, tagCall{"add", tenantID, entityType, entityID, tagID})
	return m.Err
}

func (m *MockTagAssociator) Remove(ctx context.Context, tenantID string, entityType domain.EntityType, entityID, tagID string) error {
	m.Calls = append(m.Calls, tagCall{"remove", tenantID, entityType, entityID, tagID})
	return m.Err
}
