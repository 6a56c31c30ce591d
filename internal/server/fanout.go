package server

import (
	"context"

	"github.com/samber/lo"

	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/types"
)

// Exclusion names the connections a fanout skips.
type Exclusion struct {
	UserId string
	ConnId string
}

// ExcludeUser skips every connection of the user.
func ExcludeUser(userId string) Exclusion {
	return Exclusion{UserId: userId}
}

// ExcludeConn skips a single connection.
func ExcludeConn(connId string) Exclusion {
	return Exclusion{ConnId: connId}
}

// Deliver pushes message:new for a stored message to the chat group and to
// the personal channel of every participant. The sender's personal channel
// is skipped only when the exclusion names the sender, so a socket send still
// reaches the sender's other connections. A connection reached both ways
// receives one copy.
func (cs *ChatServer) Deliver(msg *types.Message, participantIds []string, exclude Exclusion) {
	users := participantIds
	if exclude.UserId == msg.SenderId {
		users = lo.Without(participantIds, msg.SenderId)
	}

	cs.publish(&Envelope{
		Rooms:       []string{msg.ChatId},
		Users:       users,
		ExcludeUser: exclude.UserId,
		ExcludeConn: exclude.ConnId,
		Frame:       NewEvent(EventMessageNew, msg),
	})
}

// NotifyChat pushes an event to the chat group and to every participant's
// personal channel.
func (cs *ChatServer) NotifyChat(chatId string, participantIds []string, event string, data any, exclude Exclusion) {
	cs.publish(&Envelope{
		Rooms:       []string{chatId},
		Users:       participantIds,
		ExcludeUser: exclude.UserId,
		ExcludeConn: exclude.ConnId,
		Frame:       NewEvent(event, data),
	})
}

func (cs *ChatServer) NotifyMessageUpdated(msg types.Message, participantIds []string) {
	cs.NotifyChat(msg.ChatId, participantIds, EventMessageUpdate, msg, Exclusion{})
}

func (cs *ChatServer) NotifyMessageDeleted(chatId, messageId string, participantIds []string) {
	cs.NotifyChat(chatId, participantIds, EventMessageDelete, types.MessageDeleted{
		ChatId:    chatId,
		MessageId: messageId,
	}, Exclusion{})
}

// NotifyUser pushes an event to every connection of userId.
func (cs *ChatServer) NotifyUser(userId, event string, data any) {
	cs.publish(&Envelope{
		Users: []string{userId},
		Frame: NewEvent(event, data),
	})
}

// publish hands env to the bus. Transport failures are logged and dropped.
func (cs *ChatServer) publish(env *Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := cs.bus.Publish(ctx, env); err != nil {
		cs.log.Printf("publish %s: %v", env.Frame.Event, err)
	}
}

// deliverLocal queues the envelope's frame on every matching connection of
// this instance.
func (cs *ChatServer) deliverLocal(env *Envelope) {
	if env.Frame == nil {
		return
	}

	for _, c := range cs.router.Resolve(env) {
		if !c.queueMessage(env.Frame) {
			cs.stats.Incr(stats.FramesDropped)
		}
	}
}
