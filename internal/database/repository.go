package database

import (
	"context"
	"time"
)

type ChatRepository interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserById(ctx context.Context, id string) (User, error)
	GetUserByPhone(ctx context.Context, phone string) (User, error)
	UpdateProfile(ctx context.Context, params UpdateProfileParams) (User, error)
	SearchUsers(ctx context.Context, query, excludeId string, limit int) ([]User, error)
	SetUserPresence(ctx context.Context, userId string, online bool, lastSeen time.Time) error

	ListChats(ctx context.Context, userId string) ([]Chat, error)
	GetChat(ctx context.Context, chatId string) (Chat, error)
	GetOrCreatePrivateChat(ctx context.Context, userId, otherId string) (Chat, bool, error)
	CreateGroupChat(ctx context.Context, params CreateGroupChatParams) (Chat, error)
	DeleteChat(ctx context.Context, chatId string) error
	IsParticipant(ctx context.Context, chatId, userId string) (bool, error)
	GetParticipantIds(ctx context.Context, chatId string) ([]string, error)

	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessage(ctx context.Context, messageId string) (Message, error)
	ListMessages(ctx context.Context, chatId, cursor string, limit int) ([]Message, error)
	UpdateMessageContent(ctx context.Context, messageId, content string) (Message, error)
	SoftDeleteMessage(ctx context.Context, messageId string) (Message, error)
	TogglePin(ctx context.Context, messageId string) (Message, error)
	ListPinnedMessages(ctx context.Context, chatId string) ([]Message, error)
	SearchMessages(ctx context.Context, chatId, query string, limit int) ([]Message, error)
	ToggleReaction(ctx context.Context, messageId, emoji, userId string) (Message, error)
	MarkMessagesRead(ctx context.Context, chatId string, messageIds []string, readerId string) ([]string, error)
	MarkChatRead(ctx context.Context, chatId, readerId string) (int64, error)
	SoftDeleteExpiredMessages(ctx context.Context, now time.Time) ([]MessageRef, error)

	BlockUser(ctx context.Context, blockerId, blockedId string) error
	UnblockUser(ctx context.Context, blockerId, blockedId string) error
	GetBlockStatus(ctx context.Context, userId, otherId string) (blockedByMe bool, blockedByOther bool, err error)

	ListContacts(ctx context.Context, ownerId string) ([]Contact, error)
	AddContact(ctx context.Context, ownerId, contactId, nickname string) (Contact, error)
	DeleteContact(ctx context.Context, ownerId, id string) error

	ListSMSChats(ctx context.Context, userId string) ([]SMSChat, error)
	GetSMSChat(ctx context.Context, id string) (SMSChat, error)
	CreateSMSChat(ctx context.Context, params CreateSMSChatParams) (SMSChat, bool, error)
	DeleteSMSChat(ctx context.Context, id string) error
	FindSMSChatsByPhone(ctx context.Context, phone string) ([]SMSChat, error)
	ListSMSMessages(ctx context.Context, chatId string) ([]SMSMessage, error)
	CreateSMSMessage(ctx context.Context, params CreateSMSMessageParams) (SMSMessage, error)
	UpdateSMSMessageStatus(ctx context.Context, id, status, smsId string) (SMSMessage, error)
}
