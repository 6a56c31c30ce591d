package database

import (
	"github.com/samber/lo"

	"github.com/npezzotti/go-messenger/internal/types"
)

// ToType returns the public view of the user. The password hash is never
// included.
func (u User) ToType() types.User {
	return types.User{
		Id:        u.Id,
		Phone:     u.Phone,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Bio:       u.Bio,
		Avatar:    u.Avatar,
		IsOnline:  u.IsOnline,
		LastSeen:  u.LastSeen,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (p Participant) ToType() types.Participant {
	u := p.User.ToType()
	return types.Participant{
		UserId:   p.UserId,
		Role:     types.ParticipantRole(p.Role),
		JoinedAt: p.JoinedAt,
		User:     &u,
	}
}

func (c Chat) ToType() types.Chat {
	chat := types.Chat{
		Id:          c.Id,
		Type:        types.ChatType(c.Type),
		Name:        c.Name,
		UnreadCount: c.UnreadCount,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		Participants: lo.Map(c.Participants, func(p Participant, _ int) types.Participant {
			return p.ToType()
		}),
	}
	if c.LastMessage != nil {
		m := c.LastMessage.ToType()
		chat.LastMessage = &m
	}
	return chat
}

func (m Message) ToType() types.Message {
	msg := types.Message{
		Id:       m.Id,
		ChatId:   m.ChatId,
		SenderId: m.SenderId,
		Sender: &types.User{
			Id:        m.SenderId,
			FirstName: m.SenderFirstName,
			LastName:  m.SenderLastName,
			Avatar:    m.SenderAvatar,
		},
		Type:          types.MessageType(m.Type),
		IsEdited:      m.IsEdited,
		IsDeleted:     m.IsDeleted,
		IsPinned:      m.IsPinned,
		ForwardedFrom: m.ForwardedFrom,
		Reactions:     map[string][]string(m.Reactions),
		ReadBy:        []string(m.ReadBy),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}

	if m.Content.Valid {
		msg.Content = lo.ToPtr(m.Content.String)
	}
	if msg.Reactions == nil {
		msg.Reactions = map[string][]string{}
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}
	if m.ScheduledAt.Valid {
		msg.ScheduledAt = lo.ToPtr(m.ScheduledAt.Time)
	}
	if m.ExpiresAt.Valid {
		msg.ExpiresAt = lo.ToPtr(m.ExpiresAt.Time)
	}
	if m.ReplyToId.Valid {
		msg.ReplyToId = m.ReplyToId.String
		reply := &types.ReplyPreview{
			Id:              m.ReplyToId.String,
			SenderFirstName: m.ReplySenderFirstName.String,
		}
		if m.ReplyContent.Valid {
			reply.Content = lo.ToPtr(m.ReplyContent.String)
		}
		msg.ReplyTo = reply
	}

	return msg
}

func (c Contact) ToType() types.Contact {
	return types.Contact{
		Id:        c.Id,
		Nickname:  c.Nickname,
		User:      c.User.ToType(),
		CreatedAt: c.CreatedAt,
	}
}

func (m SMSMessage) ToType() types.SMSMessage {
	return types.SMSMessage{
		Id:        m.Id,
		ChatId:    m.ChatId,
		Content:   m.Content,
		Direction: types.SMSDirection(m.Direction),
		Status:    types.SMSStatus(m.Status),
		SmsId:     m.SmsId,
		CreatedAt: m.CreatedAt,
	}
}

func (c SMSChat) ToType() types.SMSChat {
	chat := types.SMSChat{
		Id:        c.Id,
		UserId:    c.UserId,
		Phone:     c.Phone,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if c.LastMessage != nil {
		m := c.LastMessage.ToType()
		chat.LastMessage = &m
	}
	return chat
}
