package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-gateway/internal/directory"
	"chat-gateway/internal/models"
	"chat-gateway/internal/rabbitmq"
)

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) StorePass(ctx context.Context, pass string, userID int, ttl time.Duration) error {
	args := m.Called(ctx, pass, userID, ttl)
	return args.Error(0)
}

func (m *DirectoryMock) RedeemPass(ctx context.Context, pass string) (int, error) {
	args := m.Called(ctx, pass)
	return args.Int(0), args.Error(1)
}

func (m *DirectoryMock) AddShard(ctx context.Context, userID int, processID string) error {
	args := m.Called(ctx, userID, processID)
	return args.Error(0)
}

func (m *DirectoryMock) RemoveShard(ctx context.Context, userID int, processID string) error {
	args := m.Called(ctx, userID, processID)
	return args.Error(0)
}

func (m *DirectoryMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

type BrokerMock struct {
	mock.Mock
}

func (m *BrokerMock) Consume(ctx context.Context, sink rabbitmq.Sink) error {
	args := m.Called(ctx, sink)
	return args.Error(0)
}

func (m *BrokerMock) Publish(ctx context.Context, msg models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *BrokerMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

type PassIssuerMock struct {
	mock.Mock
}

func (m *PassIssuerMock) IssuePass() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

type TokenVerifierMock struct {
	mock.Mock
}

func (m *TokenVerifierMock) VerifyToken(token string) (int, error) {
	args := m.Called(token)
	return args.Int(0), args.Error(1)
}

// BrokerMock's conformance to session.Broker is asserted in the handlers
// tests: importing session here would cycle through the session tests.
var _ directory.Directory = (*DirectoryMock)(nil)
