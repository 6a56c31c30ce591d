package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/server"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/types"
)

type CreateSMSChatRequest struct {
	Phone     string `json:"phone" validate:"required,phone"`
	FirstName string `json:"firstName" validate:"required,max=50"`
	LastName  string `json:"lastName" validate:"max=50"`
}

func (r *CreateSMSChatRequest) normalize() {
	r.Phone = stripSpaces(r.Phone)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
}

type SendSMSRequest struct {
	Content string `json:"content" validate:"required,max=918"`
}

// SMSWebhookRequest is the payload posted by the SMS provider for an
// incoming message.
type SMSWebhookRequest struct {
	From      string `json:"from" validate:"required"`
	Message   string `json:"message" validate:"required"`
	Timestamp string `json:"timestamp"`
}

func (r *SMSWebhookRequest) normalize() {
	r.From = stripSpaces(r.From)
}

type SMSWebhookResponse struct {
	Success   bool `json:"success"`
	Delivered int  `json:"delivered"`
}

// smsChatFor loads an SMS chat owned by userId. Chats of other users are
// reported as missing.
func (s *MessengerApp) smsChatFor(ctx context.Context, chatId, userId string) (database.SMSChat, *ApiError) {
	chat, err := s.db.GetSMSChat(ctx, chatId)
	if err != nil {
		return database.SMSChat{}, errorFromDb(err)
	}
	if chat.UserId != userId {
		return database.SMSChat{}, NewNotFoundError()
	}
	return chat, nil
}

func (s *MessengerApp) listSMSChats(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	chats, err := s.db.ListSMSChats(r.Context(), userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, lo.Map(chats, func(c database.SMSChat, _ int) types.SMSChat {
		return c.ToType()
	}))
}

func (s *MessengerApp) createSMSChat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req CreateSMSChatRequest
	if errResp := s.decodeRequest(w, r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	chat, created, err := s.db.CreateSMSChat(r.Context(), database.CreateSMSChatParams{
		UserId:    userId,
		Phone:     req.Phone,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJson(w, status, chat.ToType())
}

func (s *MessengerApp) deleteSMSChat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	chat, errResp := s.smsChatFor(r.Context(), r.PathValue("chatId"), userId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	if err := s.db.DeleteSMSChat(r.Context(), chat.Id); err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *MessengerApp) listSMSMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	chat, errResp := s.smsChatFor(r.Context(), r.PathValue("chatId"), userId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	messages, err := s.db.ListSMSMessages(r.Context(), chat.Id)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, lo.Map(messages, func(m database.SMSMessage, _ int) types.SMSMessage {
		return m.ToType()
	}))
}

// sendSMS stores an outgoing message as PENDING, hands it to the gateway and
// records whether the gateway accepted it.
func (s *MessengerApp) sendSMS(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req SendSMSRequest
	if errResp := s.decodeRequest(w, r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	chat, errResp := s.smsChatFor(r.Context(), r.PathValue("chatId"), userId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	msg, err := s.db.CreateSMSMessage(r.Context(), database.CreateSMSMessageParams{
		ChatId:    chat.Id,
		Content:   req.Content,
		Direction: string(types.SMSOutgoing),
		Status:    string(types.SMSPending),
	})
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	status := types.SMSSent
	res, err := s.sms.Send(r.Context(), chat.Phone, req.Content)
	if err != nil {
		s.log.Printf("send sms %s: %v", msg.Id, err)
		status = types.SMSFailed
		s.stats.Incr(stats.SMSFailed)
	} else {
		s.stats.Incr(stats.SMSSent)
	}

	msg, err = s.db.UpdateSMSMessageStatus(r.Context(), msg.Id, string(status), res.MessageId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, msg.ToType())
}

// smsWebhook stores an incoming SMS in every chat with the sender's number
// and pushes it to the chat owners.
func (s *MessengerApp) smsWebhook(w http.ResponseWriter, r *http.Request) {
	var req SMSWebhookRequest
	if errResp := s.decodeRequest(w, r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	chats, err := s.db.FindSMSChatsByPhone(r.Context(), req.From)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	for _, chat := range chats {
		msg, err := s.db.CreateSMSMessage(r.Context(), database.CreateSMSMessageParams{
			ChatId:    chat.Id,
			Content:   req.Message,
			Direction: string(types.SMSIncoming),
			Status:    string(types.SMSDelivered),
		})
		if err != nil {
			s.writeError(w, NewInternalServerError(err))
			return
		}

		s.cs.NotifyUser(chat.UserId, server.EventSMSNew, msg.ToType())
	}

	s.writeJson(w, http.StatusOK, SMSWebhookResponse{Success: true, Delivered: len(chats)})
}
