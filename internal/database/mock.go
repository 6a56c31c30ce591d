package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockChatRepository) GetUserById(ctx context.Context, id string) (User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockChatRepository) GetUserByPhone(ctx context.Context, phone string) (User, error) {
	args := m.Called(ctx, phone)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockChatRepository) UpdateProfile(ctx context.Context, params UpdateProfileParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockChatRepository) SearchUsers(ctx context.Context, query, excludeId string, limit int) ([]User, error) {
	args := m.Called(ctx, query, excludeId, limit)
	return args.Get(0).([]User), args.Error(1)
}

func (m *MockChatRepository) SetUserPresence(ctx context.Context, userId string, online bool, lastSeen time.Time) error {
	args := m.Called(ctx, userId, online, lastSeen)
	return args.Error(0)
}

func (m *MockChatRepository) ListChats(ctx context.Context, userId string) ([]Chat, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]Chat), args.Error(1)
}

func (m *MockChatRepository) GetChat(ctx context.Context, chatId string) (Chat, error) {
	args := m.Called(ctx, chatId)
	return args.Get(0).(Chat), args.Error(1)
}

func (m *MockChatRepository) GetOrCreatePrivateChat(ctx context.Context, userId, otherId string) (Chat, bool, error) {
	args := m.Called(ctx, userId, otherId)
	return args.Get(0).(Chat), args.Bool(1), args.Error(2)
}

func (m *MockChatRepository) CreateGroupChat(ctx context.Context, params CreateGroupChatParams) (Chat, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Chat), args.Error(1)
}

func (m *MockChatRepository) DeleteChat(ctx context.Context, chatId string) error {
	args := m.Called(ctx, chatId)
	return args.Error(0)
}

func (m *MockChatRepository) IsParticipant(ctx context.Context, chatId, userId string) (bool, error) {
	args := m.Called(ctx, chatId, userId)
	return args.Bool(0), args.Error(1)
}

func (m *MockChatRepository) GetParticipantIds(ctx context.Context, chatId string) ([]string, error) {
	args := m.Called(ctx, chatId)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	if fn, ok := args.Get(0).(func(context.Context, CreateMessageParams) Message); ok {
		return fn(ctx, params), args.Error(1)
	}
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockChatRepository) GetMessage(ctx context.Context, messageId string) (Message, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockChatRepository) ListMessages(ctx context.Context, chatId, cursor string, limit int) ([]Message, error) {
	args := m.Called(ctx, chatId, cursor, limit)
	return args.Get(0).([]Message), args.Error(1)
}

func (m *MockChatRepository) UpdateMessageContent(ctx context.Context, messageId, content string) (Message, error) {
	args := m.Called(ctx, messageId, content)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockChatRepository) SoftDeleteMessage(ctx context.Context, messageId string) (Message, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockChatRepository) TogglePin(ctx context.Context, messageId string) (Message, error) {
	args := m.Called(ctx, messageId)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockChatRepository) ListPinnedMessages(ctx context.Context, chatId string) ([]Message, error) {
	args := m.Called(ctx, chatId)
	return args.Get(0).([]Message), args.Error(1)
}

func (m *MockChatRepository) SearchMessages(ctx context.Context, chatId, query string, limit int) ([]Message, error) {
	args := m.Called(ctx, chatId, query, limit)
	return args.Get(0).([]Message), args.Error(1)
}

func (m *MockChatRepository) ToggleReaction(ctx context.Context, messageId, emoji, userId string) (Message, error) {
	args := m.Called(ctx, messageId, emoji, userId)
	return args.Get(0).(Message), args.Error(1)
}

func (m *MockChatRepository) MarkMessagesRead(ctx context.Context, chatId string, messageIds []string, readerId string) ([]string, error) {
	args := m.Called(ctx, chatId, messageIds, readerId)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockChatRepository) MarkChatRead(ctx context.Context, chatId, readerId string) (int64, error) {
	args := m.Called(ctx, chatId, readerId)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockChatRepository) SoftDeleteExpiredMessages(ctx context.Context, now time.Time) ([]MessageRef, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]MessageRef), args.Error(1)
}

func (m *MockChatRepository) BlockUser(ctx context.Context, blockerId, blockedId string) error {
	args := m.Called(ctx, blockerId, blockedId)
	return args.Error(0)
}

func (m *MockChatRepository) UnblockUser(ctx context.Context, blockerId, blockedId string) error {
	args := m.Called(ctx, blockerId, blockedId)
	return args.Error(0)
}

func (m *MockChatRepository) GetBlockStatus(ctx context.Context, userId, otherId string) (bool, bool, error) {
	args := m.Called(ctx, userId, otherId)
	return args.Bool(0), args.Bool(1), args.Error(2)
}

func (m *MockChatRepository) ListContacts(ctx context.Context, ownerId string) ([]Contact, error) {
	args := m.Called(ctx, ownerId)
	return args.Get(0).([]Contact), args.Error(1)
}

func (m *MockChatRepository) AddContact(ctx context.Context, ownerId, contactId, nickname string) (Contact, error) {
	args := m.Called(ctx, ownerId, contactId, nickname)
	return args.Get(0).(Contact), args.Error(1)
}

func (m *MockChatRepository) DeleteContact(ctx context.Context, ownerId, id string) error {
	args := m.Called(ctx, ownerId, id)
	return args.Error(0)
}

func (m *MockChatRepository) ListSMSChats(ctx context.Context, userId string) ([]SMSChat, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]SMSChat), args.Error(1)
}

func (m *MockChatRepository) GetSMSChat(ctx context.Context, id string) (SMSChat, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(SMSChat), args.Error(1)
}

func (m *MockChatRepository) CreateSMSChat(ctx context.Context, params CreateSMSChatParams) (SMSChat, bool, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(SMSChat), args.Bool(1), args.Error(2)
}

func (m *MockChatRepository) DeleteSMSChat(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockChatRepository) FindSMSChatsByPhone(ctx context.Context, phone string) ([]SMSChat, error) {
	args := m.Called(ctx, phone)
	return args.Get(0).([]SMSChat), args.Error(1)
}

func (m *MockChatRepository) ListSMSMessages(ctx context.Context, chatId string) ([]SMSMessage, error) {
	args := m.Called(ctx, chatId)
	return args.Get(0).([]SMSMessage), args.Error(1)
}

func (m *MockChatRepository) CreateSMSMessage(ctx context.Context, params CreateSMSMessageParams) (SMSMessage, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(SMSMessage), args.Error(1)
}

func (m *MockChatRepository) UpdateSMSMessageStatus(ctx context.Context, id, status, smsId string) (SMSMessage, error) {
	args := m.Called(ctx, id, status, smsId)
	return args.Get(0).(SMSMessage), args.Error(1)
}
