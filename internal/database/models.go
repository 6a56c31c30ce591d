package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/lib/pq"
)

type User struct {
	Id           string
	Phone        string
	Username     string
	FirstName    string
	LastName     string
	Bio          string
	Avatar       string
	PasswordHash string
	IsOnline     bool
	LastSeen     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Participant struct {
	ChatId   string
	UserId   string
	Role     string
	JoinedAt time.Time
	User     User
}

type Chat struct {
	Id           string
	Type         string
	Name         string
	UnreadCount  int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Participants []Participant
	LastMessage  *Message
}

// Reactions maps an emoji to the ids of the users who reacted with it.
// It is stored as a JSONB object.
type Reactions map[string][]string

func (r Reactions) Value() (driver.Value, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r)
}

func (r *Reactions) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*r = Reactions{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("reactions: unsupported type %T", src)
	}

	out := Reactions{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("reactions: %w", err)
	}
	*r = out
	return nil
}

// Toggle adds userId to the emoji's set, or removes it when already present.
// Emojis left without users are dropped. It reports whether the user was added.
func (r Reactions) Toggle(emoji, userId string) bool {
	users := r[emoji]
	if i := slices.Index(users, userId); i >= 0 {
		users = slices.Delete(users, i, i+1)
		if len(users) == 0 {
			delete(r, emoji)
		} else {
			r[emoji] = users
		}
		return false
	}

	r[emoji] = append(users, userId)
	return true
}

type Message struct {
	Id            string
	ChatId        string
	SenderId      string
	Content       sql.NullString
	Type          string
	IsEdited      bool
	IsDeleted     bool
	IsPinned      bool
	ForwardedFrom string
	Reactions     Reactions
	ReadBy        pq.StringArray
	ReplyToId     sql.NullString
	ScheduledAt   sql.NullTime
	ExpiresAt     sql.NullTime
	CreatedAt     time.Time
	UpdatedAt     time.Time

	SenderFirstName      string
	SenderLastName       string
	SenderAvatar         string
	ReplyContent         sql.NullString
	ReplySenderFirstName sql.NullString
}

type Contact struct {
	Id        string
	OwnerId   string
	Nickname  string
	User      User
	CreatedAt time.Time
}

type SMSChat struct {
	Id          string
	UserId      string
	Phone       string
	FirstName   string
	LastName    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastMessage *SMSMessage
}

type SMSMessage struct {
	Id        string
	ChatId    string
	Content   string
	Direction string
	Status    string
	SmsId     string
	CreatedAt time.Time
}

type CreateUserParams struct {
	Phone        string
	FirstName    string
	LastName     string
	PasswordHash string
}

type UpdateProfileParams struct {
	UserId    string
	FirstName string
	LastName  string
	Username  string
	Bio       string
	Avatar    string
}

type CreateGroupChatParams struct {
	Name      string
	CreatorId string
	MemberIds []string
}

type CreateMessageParams struct {
	ChatId        string
	SenderId      string
	Content       string
	Type          string
	ReplyToId     string
	ForwardedFrom string
	ScheduledAt   *time.Time
	ExpiresAt     *time.Time
	CreatedAt     time.Time
}

type CreateSMSChatParams struct {
	UserId    string
	Phone     string
	FirstName string
	LastName  string
}

type CreateSMSMessageParams struct {
	ChatId    string
	Content   string
	Direction string
	Status    string
}

// MessageRef identifies a message within its chat.
type MessageRef struct {
	Id     string
	ChatId string
}
