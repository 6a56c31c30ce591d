package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
)

var validate = validator.New()

type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	// user is the identity proven by the connection's token
	user types.User
	send chan *ServerMessage

	mu        sync.RWMutex
	announced string

	stop     chan struct{}
	stopOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	id, err := shortid.Generate()
	if err != nil {
		id = uuid.NewString()
	}

	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerMessage, 256),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

// UserId returns the announced user, or the token identity before the
// connection announced itself.
func (c *Client) UserId() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.announced != "" {
		return c.announced
	}
	return c.user.Id
}

func (c *Client) setAnnounced(userId string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.announced = userId
}

func (c *Client) announcedUser() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.announced, c.announced != ""
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := c.serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}
		msg.Timestamp = Now()

		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *ClientMessage) {
	switch msg.Event {
	case EventUserOnline:
		c.handleAnnounce(msg)
	case EventChatJoin:
		c.handleJoin(msg)
	case EventChatLeave:
		c.handleLeave(msg)
	case EventMessageSend:
		c.handleSend(msg)
	case EventTypingStart, EventTypingStop:
		c.handleTyping(msg)
	case EventMessageRead:
		c.handleRead(msg)
	default:
		c.queueMessage(ErrUnknownEvent(msg.Id))
	}
}

func (c *Client) handleAnnounce(msg *ClientMessage) {
	userId, err := decodeIdPayload(msg.Data, "userId")
	if err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	if userId != c.user.Id {
		c.log.Printf("connection %s announced %q but authenticated as %q", c.id, userId, c.user.Id)
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	c.chatServer.Announce(c, userId)
	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (c *Client) handleJoin(msg *ClientMessage) {
	chatId, err := decodeIdPayload(msg.Data, "chatId")
	if err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	ok, err := c.chatServer.db.IsParticipant(ctx, chatId, c.user.Id)
	if err != nil {
		c.log.Println("IsParticipant:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}
	if !ok {
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	c.chatServer.router.Join(c, chatId)
	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (c *Client) handleLeave(msg *ClientMessage) {
	chatId, err := decodeIdPayload(msg.Data, "chatId")
	if err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	c.chatServer.router.Leave(c, chatId)
	c.queueMessage(NoErrOK(msg.Id, nil))
}

func (c *Client) handleSend(msg *ClientMessage) {
	userId, ok := c.announcedUser()
	if !ok {
		c.queueMessage(ErrNotAnnounced(msg.Id))
		return
	}

	var p SendPayload
	if err := c.decodePayload(msg.Data, &p); err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}
	if p.SenderId != "" && p.SenderId != userId {
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	params := database.CreateMessageParams{
		ChatId:    p.ChatId,
		SenderId:  userId,
		Content:   p.Content,
		Type:      string(p.Type),
		ReplyToId: p.ReplyToId,
		CreatedAt: msg.Timestamp,
	}
	if p.ExpiresIn > 0 {
		expiresAt := msg.Timestamp.Add(time.Duration(p.ExpiresIn) * time.Second)
		params.ExpiresAt = &expiresAt
	}

	stored, err := c.chatServer.SendMessage(context.Background(), params, ExcludeConn(c.id))
	if err != nil {
		if !errors.Is(err, ErrNotParticipant) && !errors.Is(err, ErrBlocked) {
			c.log.Printf("message:send from %s: %v", c.id, err)
		}
		c.queueMessage(errorResponse(msg.Id, err))
		return
	}

	c.queueMessage(NoErrCreated(msg.Id, stored))
}

func (c *Client) handleTyping(msg *ClientMessage) {
	userId, ok := c.announcedUser()
	if !ok {
		c.queueMessage(ErrNotAnnounced(msg.Id))
		return
	}

	var p TypingPayload
	if err := c.decodePayload(msg.Data, &p); err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	if !c.requireMember(msg.Id, p.ChatId) {
		return
	}

	if msg.Event == EventTypingStart {
		c.chatServer.StartTyping(p.ChatId, userId, p.UserName, ExcludeConn(c.id))
	} else {
		c.chatServer.StopTyping(p.ChatId, userId, ExcludeConn(c.id))
	}
}

func (c *Client) handleRead(msg *ClientMessage) {
	userId, ok := c.announcedUser()
	if !ok {
		c.queueMessage(ErrNotAnnounced(msg.Id))
		return
	}

	var p ReadPayload
	if err := c.decodePayload(msg.Data, &p); err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	if !c.requireMember(msg.Id, p.ChatId) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	if err := c.chatServer.MarkRead(ctx, p.ChatId, p.MessageIds, userId, ExcludeConn(c.id)); err != nil {
		c.log.Printf("message:read from %s: %v", c.id, err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
}

// requireMember reports whether the announced user may act in chatId. A
// joined group implies membership; otherwise the store decides. On refusal
// the error is queued for the caller.
func (c *Client) requireMember(id int, chatId string) bool {
	if c.chatServer.router.IsJoined(c, chatId) {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()

	userId, _ := c.announcedUser()
	ok, err := c.chatServer.db.IsParticipant(ctx, chatId, userId)
	if err != nil {
		c.log.Println("IsParticipant:", err)
		c.queueMessage(ErrInternalError(id))
		return false
	}
	if !ok {
		c.queueMessage(ErrForbidden(id))
		return false
	}
	return true
}

func (c *Client) decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return err
	}
	return validate.Struct(v)
}

// queueMessage hands msg to the write pump without blocking. It reports
// false when the connection is closed or its buffer is full.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.log.Printf("dropping frame for connection %s, send buffer is full", c.id)
		return false
	}

	return true
}

func (c *Client) serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	c.stopClient()
	c.chatServer.router.Unregister(c)
	c.chatServer.Disconnect(c)
	c.chatServer.deregisterClient(c)
}
