package server

import (
	"github.com/npezzotti/go-messenger/internal/types"
)

// StartTyping tells the chat group that userId started typing. Nothing is
// stored and repeated calls are broadcast each time.
func (cs *ChatServer) StartTyping(chatId, userId, userName string, exclude Exclusion) {
	cs.broadcastTyping(EventTypingStart, types.Typing{
		ChatId:   chatId,
		UserId:   userId,
		UserName: userName,
	}, exclude)
}

// StopTyping is StartTyping's counterpart. A stop without a preceding start
// is broadcast as well.
func (cs *ChatServer) StopTyping(chatId, userId string, exclude Exclusion) {
	cs.broadcastTyping(EventTypingStop, types.Typing{
		ChatId: chatId,
		UserId: userId,
	}, exclude)
}

func (cs *ChatServer) broadcastTyping(event string, t types.Typing, exclude Exclusion) {
	cs.publish(&Envelope{
		Rooms:       []string{t.ChatId},
		ExcludeUser: exclude.UserId,
		ExcludeConn: exclude.ConnId,
		Frame:       NewEvent(event, t),
	})
}
