package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/npezzotti/go-messenger/internal/types"
)

// MarkRead adds readerId to the readBy set of each message and broadcasts a
// single message:read to the chat group. Messages the reader had already
// read are unchanged, but the broadcast is sent regardless.
func (cs *ChatServer) MarkRead(ctx context.Context, chatId string, messageIds []string, readerId string, exclude Exclusion) error {
	if len(messageIds) == 0 {
		return errors.New("no message ids")
	}

	if _, err := cs.db.MarkMessagesRead(ctx, chatId, messageIds, readerId); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}

	cs.publish(&Envelope{
		Rooms:       []string{chatId},
		ExcludeUser: exclude.UserId,
		ExcludeConn: exclude.ConnId,
		Frame: NewEvent(EventMessageRead, types.ReadReceipt{
			ChatId:     chatId,
			MessageIds: messageIds,
			ReadBy:     readerId,
		}),
	})

	return nil
}
