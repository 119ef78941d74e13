package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

// MockNotificationAPI is a mock implementation of ports.NotificationAPI
type MockNotificationAPI struct {
	mock.Mock
}

func NewMockNotificationAPI() *MockNotificationAPI {
	return &MockNotificationAPI{}
}

func (m *MockNotificationAPI) FetchFeed(ctx context.Context) (json.RawMessage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockNotificationAPI) MarkRead(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockNotificationAPI) MarkAllRead(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockNotificationAPI) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockNotificationAPI) ClearAll(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockTicketAPI is a mock implementation of ports.TicketAPI
type MockTicketAPI struct {
	mock.Mock
}

func NewMockTicketAPI() *MockTicketAPI {
	return &MockTicketAPI{}
}

func (m *MockTicketAPI) OfferReassignment(ctx context.Context, params ports.OfferParams) (*domain.ReassignmentOffer, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReassignmentOffer), args.Error(1)
}

func (m *MockTicketAPI) AcceptReassignment(ctx context.Context, ticketID int64) (*domain.ReassignmentOffer, error) {
	args := m.Called(ctx, ticketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReassignmentOffer), args.Error(1)
}

func (m *MockTicketAPI) RejectReassignment(ctx context.Context, ticketID int64) (*domain.ReassignmentOffer, error) {
	args := m.Called(ctx, ticketID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ReassignmentOffer), args.Error(1)
}

func (m *MockTicketAPI) ListOffers(ctx context.Context) ([]*domain.ReassignmentOffer, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ReassignmentOffer), args.Error(1)
}

// MockSnapshotCache is a mock implementation of ports.SnapshotCache
type MockSnapshotCache struct {
	mock.Mock
}

func NewMockSnapshotCache() *MockSnapshotCache {
	return &MockSnapshotCache{}
}

func (m *MockSnapshotCache) Load() (*domain.FeedSnapshot, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FeedSnapshot), args.Error(1)
}

func (m *MockSnapshotCache) Save(snapshot *domain.FeedSnapshot) error {
	args := m.Called(snapshot)
	return args.Error(0)
}

// MockAlerter is a mock implementation of ports.Alerter
type MockAlerter struct {
	mock.Mock
}

func NewMockAlerter() *MockAlerter {
	return &MockAlerter{}
}

func (m *MockAlerter) Alert(toast ports.Toast) {
	m.Called(toast)
}

// MockResyncer is a mock implementation of ports.Resyncer
type MockResyncer struct {
	mock.Mock
}

func NewMockResyncer() *MockResyncer {
	return &MockResyncer{}
}

func (m *MockResyncer) PollNow() {
	m.Called()
}
