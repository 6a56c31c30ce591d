package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/npezzotti/go-messenger/internal/types"
)

const (
	EventUserOnline    = "user:online"
	EventUserStatus    = "user:status"
	EventChatJoin      = "chat:join"
	EventChatLeave     = "chat:leave"
	EventMessageSend   = "message:send"
	EventMessageNew    = "message:new"
	EventMessageUpdate = "message:update"
	EventMessageDelete = "message:delete"
	EventMessageRead   = "message:read"
	EventTypingStart   = "typing:start"
	EventTypingStop    = "typing:stop"
	EventSMSNew        = "sms:new"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is a frame read from a websocket connection.
type ClientMessage struct {
	BaseMessage
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerMessage is a frame written to a websocket connection. Acknowledgements
// carry the id of the client frame they answer and a Response.
type ServerMessage struct {
	BaseMessage
	Event    string    `json:"event,omitempty"`
	Data     any       `json:"data,omitempty"`
	Response *Response `json:"response,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type SendPayload struct {
	ChatId    string            `json:"chatId" validate:"required"`
	Content   string            `json:"content" validate:"required,max=4096"`
	SenderId  string            `json:"senderId,omitempty"`
	Type      types.MessageType `json:"type,omitempty" validate:"omitempty,oneof=TEXT IMAGE FILE VOICE VIDEO GIF STICKER"`
	ReplyToId string            `json:"replyToId,omitempty"`
	ExpiresIn int               `json:"expiresIn,omitempty" validate:"gte=0"`
}

type TypingPayload struct {
	ChatId   string `json:"chatId" validate:"required"`
	UserId   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
}

type ReadPayload struct {
	ChatId     string   `json:"chatId" validate:"required"`
	MessageIds []string `json:"messageIds" validate:"required,min=1,dive,required"`
	UserId     string   `json:"userId,omitempty"`
}

var errEmptyId = errors.New("missing id")

// decodeIdPayload accepts either a bare JSON string or an object holding the
// id under key.
func decodeIdPayload(raw json.RawMessage, key string) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		if id = strings.TrimSpace(id); id == "" {
			return "", errEmptyId
		}
		return id, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", err
	}
	id, _ = obj[key].(string)
	if id = strings.TrimSpace(id); id == "" {
		return "", errEmptyId
	}
	return id, nil
}

// NewEvent builds a server-initiated frame.
func NewEvent(event string, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Event: event,
		Data:  data,
	}
}

func response(id int, code int, errMsg string, data any) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        errMsg,
			Data:         data,
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func NoErrOK(id int, data any) *ServerMessage {
	return response(id, http.StatusOK, "", data)
}

func NoErrCreated(id int, data any) *ServerMessage {
	return response(id, http.StatusCreated, "", data)
}

func ErrInvalidMessage(id int) *ServerMessage {
	return response(id, http.StatusBadRequest, "invalid message format", nil)
}

func ErrUnknownEvent(id int) *ServerMessage {
	return response(id, http.StatusBadRequest, "unknown event", nil)
}

func ErrNotAnnounced(id int) *ServerMessage {
	return response(id, http.StatusUnauthorized, "user not announced", nil)
}

func ErrForbidden(id int) *ServerMessage {
	return response(id, http.StatusForbidden, "forbidden", nil)
}

func ErrChatNotFound(id int) *ServerMessage {
	return response(id, http.StatusNotFound, "chat not found", nil)
}

func ErrInternalError(id int) *ServerMessage {
	return response(id, http.StatusInternalServerError, "internal server error", nil)
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return response(id, http.StatusServiceUnavailable, "service unavailable", nil)
}

// errorResponse maps an error returned by a server operation to an
// acknowledgement.
func errorResponse(id int, err error) *ServerMessage {
	switch {
	case errors.Is(err, ErrNoSuchChat):
		return ErrChatNotFound(id)
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrBlocked):
		return response(id, http.StatusForbidden, err.Error(), nil)
	case errors.Is(err, ErrShuttingDown):
		return ErrServiceUnavailable(id)
	default:
		return ErrInternalError(id)
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
