package sms

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Send(ctx context.Context, phone, message string) (Result, error) {
	args := m.Called(ctx, phone, message)
	return args.Get(0).(Result), args.Error(1)
}
