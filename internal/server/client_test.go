package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/testutil"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
			stop: make(chan struct{}),
		}

		assert.True(t, c.queueMessage(&ServerMessage{}), "expected queueMessage to succeed when channel is not full")
		assert.Len(t, c.send, 1)
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
			stop: make(chan struct{}),
		}

		c.send <- &ServerMessage{}
		assert.False(t, c.queueMessage(&ServerMessage{}), "expected queueMessage to fail when channel is full")
	})
	t.Run("stopped client", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
			stop: make(chan struct{}),
		}

		c.stopClient()
		c.stopClient()
		assert.False(t, c.queueMessage(&ServerMessage{}), "expected queueMessage to be a no-op after stop")
		assert.Empty(t, c.send)
	})
}

func TestClientUserId(t *testing.T) {
	c := &Client{user: types.User{Id: "token-user"}}
	assert.Equal(t, "token-user", c.UserId())

	_, ok := c.announcedUser()
	assert.False(t, ok)

	c.setAnnounced("token-user")
	userId, ok := c.announcedUser()
	assert.True(t, ok)
	assert.Equal(t, "token-user", userId)
}

type wireFrame struct {
	Id       int             `json:"id"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
	Response *struct {
		ResponseCode int             `json:"response_code"`
		Error        string          `json:"error"`
		Data         json.RawMessage `json:"data"`
	} `json:"response"`
}

func newWsTestServer(t *testing.T, cs *ChatServer) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		c := NewClient(types.User{Id: r.URL.Query().Get("user")}, conn, cs, cs.log)
		if err := cs.RegisterClient(c); err != nil {
			conn.Close()
			return
		}

		go c.Write()
		go c.Read()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, userId string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=" + userId
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, id int, event string, data any) {
	raw, err := json.Marshal(data)
	assert.NoError(t, err)
	err = conn.WriteJSON(map[string]any{"id": id, "event": event, "data": json.RawMessage(raw)})
	assert.NoError(t, err)
}

// readUntil reads frames until match returns true and returns the frames
// read before the match along with the match.
func readUntil(t *testing.T, conn *websocket.Conn, match func(wireFrame) bool) ([]wireFrame, wireFrame) {
	t.Helper()
	var before []wireFrame
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f wireFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v (frames so far: %+v)", err, before)
		}
		if match(f) {
			return before, f
		}
		before = append(before, f)
	}
}

func ackFor(id int) func(wireFrame) bool {
	return func(f wireFrame) bool { return f.Response != nil && f.Id == id }
}

func eventIs(event string) func(wireFrame) bool {
	return func(f wireFrame) bool { return f.Event == event }
}

func TestClientEndToEnd(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("SetUserPresence", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	db.On("IsParticipant", mock.Anything, "chat1", mock.Anything).Return(true, nil)
	db.On("IsParticipant", mock.Anything, "secret", mock.Anything).Return(false, nil)
	db.On("GetChat", mock.Anything, "chat1").Return(testChat("chat1", types.ChatTypeGroup, "alice", "bob"), nil)
	db.On("CreateMessage", mock.Anything, mock.Anything).Return(func(_ context.Context, p database.CreateMessageParams) database.Message {
		return storedMessage(p)
	}, nil)
	db.On("MarkMessagesRead", mock.Anything, "chat1", []string{"msg-hi"}, "bob").Return([]string{"msg-hi"}, nil)

	cs := newTestChatServer(t, db, stats.NewNoopStats())
	go cs.Run()
	defer cs.Shutdown(context.Background())

	srv := newWsTestServer(t, cs)
	alice := dial(t, srv, "alice")

	// sending before announcing is refused
	send(t, alice, 1, EventMessageSend, map[string]string{"chatId": "chat1", "content": "too early"})
	_, ack := readUntil(t, alice, ackFor(1))
	assert.Equal(t, http.StatusUnauthorized, ack.Response.ResponseCode)

	// announcing another identity is refused
	send(t, alice, 2, EventUserOnline, "bob")
	_, ack = readUntil(t, alice, ackFor(2))
	assert.Equal(t, http.StatusForbidden, ack.Response.ResponseCode)

	bob := dial(t, srv, "bob")
	send(t, bob, 1, EventChatJoin, map[string]string{"chatId": "chat1"})
	_, ack = readUntil(t, bob, ackFor(1))
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode)

	send(t, bob, 2, EventChatJoin, "secret")
	_, ack = readUntil(t, bob, ackFor(2))
	assert.Equal(t, http.StatusForbidden, ack.Response.ResponseCode, "expected join of a foreign chat to be refused")

	send(t, alice, 3, EventUserOnline, map[string]string{"userId": "alice"})
	_, ack = readUntil(t, alice, ackFor(3))
	assert.Equal(t, http.StatusOK, ack.Response.ResponseCode)

	_, status := readUntil(t, bob, eventIs(EventUserStatus))
	assert.JSONEq(t, `{"userId":"alice","isOnline":true}`, string(status.Data))

	send(t, bob, 3, EventUserOnline, "bob")
	readUntil(t, bob, ackFor(3))

	send(t, alice, 4, EventChatJoin, "chat1")
	readUntil(t, alice, ackFor(4))

	send(t, alice, 5, EventMessageSend, map[string]string{"chatId": "chat1", "content": "hi"})
	before, ack := readUntil(t, alice, ackFor(5))
	assert.Equal(t, http.StatusCreated, ack.Response.ResponseCode)
	var stored types.Message
	assert.NoError(t, json.Unmarshal(ack.Response.Data, &stored))
	assert.Equal(t, "msg-hi", stored.Id)
	for _, f := range before {
		assert.NotEqual(t, EventMessageNew, f.Event, "expected the sending connection not to receive its own message")
	}

	_, delivered := readUntil(t, bob, eventIs(EventMessageNew))
	var got types.Message
	assert.NoError(t, json.Unmarshal(delivered.Data, &got))
	assert.Equal(t, "msg-hi", got.Id)
	assert.Equal(t, "alice", got.SenderId)

	send(t, bob, 4, EventTypingStart, map[string]string{"chatId": "chat1"})
	_, typing := readUntil(t, alice, eventIs(EventTypingStart))
	assert.JSONEq(t, `{"chatId":"chat1","userId":"bob"}`, string(typing.Data))

	send(t, bob, 5, EventMessageRead, map[string]any{"chatId": "chat1", "messageIds": []string{"msg-hi"}})
	readUntil(t, bob, ackFor(5))
	_, receipt := readUntil(t, alice, eventIs(EventMessageRead))
	assert.JSONEq(t, `{"chatId":"chat1","messageIds":["msg-hi"],"readBy":"bob"}`, string(receipt.Data))

	send(t, bob, 6, "bogus:event", nil)
	_, ack = readUntil(t, bob, ackFor(6))
	assert.Equal(t, http.StatusBadRequest, ack.Response.ResponseCode)

	bob.Close()
	_, status = readUntil(t, alice, eventIs(EventUserStatus))
	assert.JSONEq(t, `{"userId":"bob","isOnline":false}`, string(status.Data))
}

func TestSocketSendReachesSendersOtherConnections(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("SetUserPresence", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	db.On("IsParticipant", mock.Anything, "chat1", mock.Anything).Return(true, nil)
	db.On("GetChat", mock.Anything, "chat1").Return(testChat("chat1", types.ChatTypeGroup, "alice", "bob"), nil)
	db.On("CreateMessage", mock.Anything, mock.Anything).Return(func(_ context.Context, p database.CreateMessageParams) database.Message {
		return storedMessage(p)
	}, nil)

	cs := newTestChatServer(t, db, stats.NewNoopStats())
	go cs.Run()
	defer cs.Shutdown(context.Background())

	srv := newWsTestServer(t, cs)
	phone := dial(t, srv, "alice")
	laptop := dial(t, srv, "alice")

	send(t, phone, 1, EventUserOnline, "alice")
	readUntil(t, phone, ackFor(1))
	send(t, phone, 2, EventChatJoin, "chat1")
	readUntil(t, phone, ackFor(2))

	// the laptop only announces, it never joins chat1
	send(t, laptop, 1, EventUserOnline, "alice")
	readUntil(t, laptop, ackFor(1))

	send(t, phone, 3, EventMessageSend, map[string]string{"chatId": "chat1", "content": "hi"})
	before, ack := readUntil(t, phone, ackFor(3))
	assert.Equal(t, http.StatusCreated, ack.Response.ResponseCode)
	assert.Empty(t, lo.Filter(before, func(f wireFrame, _ int) bool { return f.Event == EventMessageNew }),
		"expected the sending connection not to receive its own message")

	_, delivered := readUntil(t, laptop, eventIs(EventMessageNew))
	var got types.Message
	assert.NoError(t, json.Unmarshal(delivered.Data, &got))
	assert.Equal(t, "msg-hi", got.Id)

	// exactly one copy reaches the laptop
	send(t, laptop, 2, EventChatLeave, "chat1")
	before, _ = readUntil(t, laptop, ackFor(2))
	assert.Empty(t, lo.Filter(before, func(f wireFrame, _ int) bool { return f.Event == EventMessageNew }))
}

func TestNonParticipantCannotTypeOrRead(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertNotCalled(t, "MarkMessagesRead", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	db.On("SetUserPresence", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	db.On("IsParticipant", mock.Anything, "chat1", "mallory").Return(false, nil)
	db.On("IsParticipant", mock.Anything, "chat1", mock.Anything).Return(true, nil)

	cs := newTestChatServer(t, db, stats.NewNoopStats())
	go cs.Run()
	defer cs.Shutdown(context.Background())

	srv := newWsTestServer(t, cs)
	bob := dial(t, srv, "bob")
	send(t, bob, 1, EventUserOnline, "bob")
	readUntil(t, bob, ackFor(1))
	send(t, bob, 2, EventChatJoin, "chat1")
	readUntil(t, bob, ackFor(2))

	mallory := dial(t, srv, "mallory")
	send(t, mallory, 1, EventUserOnline, "mallory")
	readUntil(t, mallory, ackFor(1))

	send(t, mallory, 2, EventChatJoin, "chat1")
	_, ack := readUntil(t, mallory, ackFor(2))
	assert.Equal(t, http.StatusForbidden, ack.Response.ResponseCode)

	send(t, mallory, 3, EventTypingStart, map[string]string{"chatId": "chat1"})
	_, ack = readUntil(t, mallory, ackFor(3))
	assert.Equal(t, http.StatusForbidden, ack.Response.ResponseCode)

	send(t, mallory, 4, EventMessageRead, map[string]any{"chatId": "chat1", "messageIds": []string{"m1"}})
	_, ack = readUntil(t, mallory, ackFor(4))
	assert.Equal(t, http.StatusForbidden, ack.Response.ResponseCode)

	// bob's own typing arrives after anything mallory could have caused
	bobTwo := dial(t, srv, "bob")
	send(t, bobTwo, 1, EventUserOnline, "bob")
	readUntil(t, bobTwo, ackFor(1))
	send(t, bobTwo, 2, EventChatJoin, "chat1")
	readUntil(t, bobTwo, ackFor(2))
	send(t, bobTwo, 3, EventTypingStart, map[string]string{"chatId": "chat1"})

	before, typing := readUntil(t, bob, eventIs(EventTypingStart))
	assert.JSONEq(t, `{"chatId":"chat1","userId":"bob"}`, string(typing.Data))
	for _, f := range before {
		assert.NotEqual(t, EventTypingStart, f.Event)
		assert.NotEqual(t, EventMessageRead, f.Event)
	}
}
