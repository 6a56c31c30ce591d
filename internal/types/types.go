package types

import (
	"time"
)

type ChatType string

const (
	ChatTypePrivate ChatType = "PRIVATE"
	ChatTypeGroup   ChatType = "GROUP"
)

type ParticipantRole string

const (
	RoleAdmin  ParticipantRole = "ADMIN"
	RoleMember ParticipantRole = "MEMBER"
)

type MessageType string

const (
	MessageTypeText    MessageType = "TEXT"
	MessageTypeImage   MessageType = "IMAGE"
	MessageTypeFile    MessageType = "FILE"
	MessageTypeVoice   MessageType = "VOICE"
	MessageTypeVideo   MessageType = "VIDEO"
	MessageTypeGif     MessageType = "GIF"
	MessageTypeSticker MessageType = "STICKER"
)

type User struct {
	Id        string    `json:"id"`
	Phone     string    `json:"phone,omitempty"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	IsOnline  bool      `json:"isOnline"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

type Participant struct {
	UserId   string          `json:"userId"`
	Role     ParticipantRole `json:"role"`
	JoinedAt time.Time       `json:"joinedAt"`
	User     *User           `json:"user,omitempty"`
}

type Chat struct {
	Id           string        `json:"id"`
	Type         ChatType      `json:"type"`
	Name         string        `json:"name,omitempty"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"lastMessage,omitempty"`
	UnreadCount  int           `json:"unreadCount"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// ParticipantIds returns the user ids of the chat's participants in order.
func (c Chat) ParticipantIds() []string {
	ids := make([]string, len(c.Participants))
	for i, p := range c.Participants {
		ids[i] = p.UserId
	}
	return ids
}

type ReplyPreview struct {
	Id              string  `json:"id"`
	Content         *string `json:"content"`
	SenderFirstName string  `json:"senderFirstName"`
}

type Message struct {
	Id            string              `json:"id"`
	ChatId        string              `json:"chatId"`
	SenderId      string              `json:"senderId"`
	Sender        *User               `json:"sender,omitempty"`
	Content       *string             `json:"content"`
	Type          MessageType         `json:"type"`
	IsEdited      bool                `json:"isEdited"`
	IsDeleted     bool                `json:"isDeleted"`
	IsPinned      bool                `json:"isPinned"`
	ForwardedFrom string              `json:"forwardedFrom,omitempty"`
	Reactions     map[string][]string `json:"reactions"`
	ReadBy        []string            `json:"readBy"`
	ReplyToId     string              `json:"replyToId,omitempty"`
	ReplyTo       *ReplyPreview       `json:"replyTo,omitempty"`
	ScheduledAt   *time.Time          `json:"scheduledAt,omitempty"`
	ExpiresAt     *time.Time          `json:"expiresAt,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

type UserStatus struct {
	UserId   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

type Typing struct {
	ChatId   string `json:"chatId"`
	UserId   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type ReadReceipt struct {
	ChatId     string   `json:"chatId"`
	MessageIds []string `json:"messageIds"`
	ReadBy     string   `json:"readBy"`
}

type MessageDeleted struct {
	ChatId    string `json:"chatId"`
	MessageId string `json:"messageId"`
}

type BlockStatus struct {
	IsBlocked      bool `json:"isBlocked"`
	BlockedByMe    bool `json:"blockedByMe"`
	BlockedByOther bool `json:"blockedByOther"`
}

type Contact struct {
	Id        string    `json:"id"`
	Nickname  string    `json:"nickname,omitempty"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
}

type SMSDirection string

const (
	SMSIncoming SMSDirection = "INCOMING"
	SMSOutgoing SMSDirection = "OUTGOING"
)

type SMSStatus string

const (
	SMSPending   SMSStatus = "PENDING"
	SMSSent      SMSStatus = "SENT"
	SMSDelivered SMSStatus = "DELIVERED"
	SMSFailed    SMSStatus = "FAILED"
)

type SMSChat struct {
	Id          string      `json:"id"`
	UserId      string      `json:"userId"`
	Phone       string      `json:"phone"`
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName,omitempty"`
	LastMessage *SMSMessage `json:"lastMessage,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

type SMSMessage struct {
	Id        string       `json:"id"`
	ChatId    string       `json:"chatId"`
	Content   string       `json:"content"`
	Direction SMSDirection `json:"direction"`
	Status    SMSStatus    `json:"status"`
	SmsId     string       `json:"smsId,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}
