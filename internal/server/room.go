package server

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/types"
)

const idleRoomTimeout = time.Minute * 5

type publishReq struct {
	params  database.CreateMessageParams
	exclude Exclusion
	reply   chan publishResult
}

type publishResult struct {
	msg types.Message
	err error
}

// Room serializes message writes and their fanout for one chat, so that
// delivery order matches the order messages were stored in.
type Room struct {
	id           string
	chatType     types.ChatType
	participants []string
	cs           *ChatServer
	log          *log.Logger
	publishChan  chan *publishReq
	// killTimer unloads the room after it has been idle for idleTimeout
	killTimer   *time.Timer
	idleTimeout time.Duration
	exit        chan struct{}
	exitOnce    sync.Once
	done        chan struct{}
}

func newRoom(cs *ChatServer, chat database.Chat) *Room {
	participants := make([]string, len(chat.Participants))
	for i, p := range chat.Participants {
		participants[i] = p.UserId
	}

	return &Room{
		id:           chat.Id,
		chatType:     types.ChatType(chat.Type),
		participants: participants,
		cs:           cs,
		log:          cs.log,
		publishChan:  make(chan *publishReq),
		idleTimeout:  idleRoomTimeout,
		exit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.id)
	r.killTimer = time.NewTimer(r.idleTimeout)
	defer func() {
		r.killTimer.Stop()
		close(r.done)
		r.log.Printf("room %q exited", r.id)
	}()

	for {
		select {
		case req := <-r.publishChan:
			r.killTimer.Stop()
			req.reply <- r.saveAndBroadcast(req)
			r.killTimer.Reset(r.idleTimeout)
		case <-r.killTimer.C:
			r.log.Printf("room %q timed out", r.id)
			select {
			case r.cs.unloadRoomChan <- r:
			case <-r.exit:
				return
			}
		case <-r.exit:
			return
		}
	}
}

func (r *Room) signalExit() {
	r.exitOnce.Do(func() {
		close(r.exit)
	})
}

func (r *Room) isParticipant(userId string) bool {
	return slices.Contains(r.participants, userId)
}

func (r *Room) peerOf(userId string) string {
	for _, p := range r.participants {
		if p != userId {
			return p
		}
	}
	return ""
}

func (r *Room) saveAndBroadcast(req *publishReq) publishResult {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	senderId := req.params.SenderId
	if !r.isParticipant(senderId) {
		return publishResult{err: ErrNotParticipant}
	}

	if r.chatType == types.ChatTypePrivate {
		if peer := r.peerOf(senderId); peer != "" {
			byMe, byOther, err := r.cs.db.GetBlockStatus(ctx, senderId, peer)
			if err != nil {
				return publishResult{err: fmt.Errorf("block status: %w", err)}
			}
			if byMe || byOther {
				return publishResult{err: ErrBlocked}
			}
		}
	}

	req.params.ChatId = r.id
	dbMsg, err := r.cs.db.CreateMessage(ctx, req.params)
	if err != nil {
		r.log.Printf("CreateMessage in %q: %v", r.id, err)
		return publishResult{err: err}
	}
	r.cs.stats.Incr(stats.MessagesSent)

	msg := dbMsg.ToType()
	r.cs.Deliver(&msg, r.participants, req.exclude)

	return publishResult{msg: msg}
}

// SendMessage stores the message through the chat's room actor and fans it
// out to the chat group and the participants' personal channels.
func (cs *ChatServer) SendMessage(ctx context.Context, params database.CreateMessageParams, exclude Exclusion) (types.Message, error) {
	req := &publishReq{
		params:  params,
		exclude: exclude,
		reply:   make(chan publishResult, 1),
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout+dbTimeout)
	defer cancel()

	for {
		r, err := cs.loadRoom(ctx, params.ChatId)
		if err != nil {
			return types.Message{}, err
		}

		select {
		case r.publishChan <- req:
			select {
			case res := <-req.reply:
				return res.msg, res.err
			case <-ctx.Done():
				return types.Message{}, ctx.Err()
			}
		case <-r.done:
			// the room unloaded before taking the request
			continue
		case <-ctx.Done():
			return types.Message{}, ctx.Err()
		}
	}
}
