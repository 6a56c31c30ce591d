package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/server"
	"github.com/npezzotti/go-messenger/internal/types"
)

const messageSearchLimit = 50

type CreatePrivateChatRequest struct {
	ParticipantId string `json:"participantId" validate:"required"`
}

type CreateGroupChatRequest struct {
	Name           string   `json:"name" validate:"required,max=100"`
	ParticipantIds []string `json:"participantIds" validate:"required,min=1,dive,required"`
}

type SendMessageRequest struct {
	Content     string            `json:"content" validate:"required,max=4096"`
	Type        types.MessageType `json:"type" validate:"omitempty,oneof=TEXT IMAGE FILE VOICE VIDEO GIF STICKER"`
	ReplyToId   string            `json:"replyToId"`
	ScheduledAt *time.Time        `json:"scheduledAt"`
	ExpiresIn   int               `json:"expiresIn" validate:"gte=0,lte=604800"`
}

type EditMessageRequest struct {
	Content string `json:"content" validate:"required,max=4096"`
}

type ReactRequest struct {
	Emoji string `json:"emoji" validate:"required,max=32"`
}

type ForwardRequest struct {
	TargetChatIds []string `json:"targetChatIds" validate:"required,min=1,dive,required"`
}

type MarkReadResponse struct {
	Marked int64 `json:"marked"`
}

type BlockResponse struct {
	Blocked       bool   `json:"blocked"`
	BlockedUserId string `json:"blockedUserId"`
}

func toMessages(msgs []database.Message) []types.Message {
	return lo.Map(msgs, func(m database.Message, _ int) types.Message {
		return m.ToType()
	})
}

// requireParticipant fails with 403 unless userId belongs to the chat.
func (s *MessengerApp) requireParticipant(ctx context.Context, chatId, userId string) *ApiError {
	ok, err := s.db.IsParticipant(ctx, chatId, userId)
	if err != nil {
		return NewInternalServerError(err)
	}
	if !ok {
		return NewForbiddenError()
	}
	return nil
}

// messageInChat loads a message and checks it belongs to chatId.
func (s *MessengerApp) messageInChat(ctx context.Context, chatId, messageId string) (database.Message, *ApiError) {
	msg, err := s.db.GetMessage(ctx, messageId)
	if err != nil {
		return database.Message{}, errorFromDb(err)
	}
	if msg.ChatId != chatId {
		return database.Message{}, NewNotFoundError()
	}
	return msg, nil
}

// notifyUpdated broadcasts message:update for msg. Failures are logged.
func (s *MessengerApp) notifyUpdated(ctx context.Context, msg types.Message) {
	participantIds, err := s.db.GetParticipantIds(ctx, msg.ChatId)
	if err != nil {
		s.log.Printf("notify message update %s: %v", msg.Id, err)
		return
	}
	s.cs.NotifyMessageUpdated(msg, participantIds)
}

func (s *MessengerApp) listChats(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	chats, err := s.db.ListChats(r.Context(), userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, lo.Map(chats, func(c database.Chat, _ int) types.Chat {
		return c.ToType()
	}))
}

func (s *MessengerApp) createPrivateChat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req CreatePrivateChatRequest
	if errResp := s.decodeRequest(w, r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}
	if req.ParticipantId == userId {
		s.writeError(w, NewBadRequestError())
		return
	}

	if _, err := s.db.GetUserById(r.Context(), req.ParticipantId); err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	chat, created, err := s.db.GetOrCreatePrivateChat(r.Context(), userId, req.ParticipantId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJson(w, status, chat.ToType())
}

func (s *MessengerApp) createGroupChat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req CreateGroupChatRequest
	if errResp := s.decodeRequest(w, r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	memberIds := lo.Without(lo.Uniq(req.ParticipantIds), userId)
	if len(memberIds) == 0 {
		s.writeError(w, NewBadRequestError())
		return
	}

	chat, err := s.db.CreateGroupChat(r.Context(), database.CreateGroupChatParams{
		Name:      strings.TrimSpace(req.Name),
		CreatorId: userId,
		MemberIds: memberIds,
	})
	if err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	s.writeJson(w, http.StatusCreated, chat.ToType())
}

func (s *MessengerApp) deleteChat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	chatId := r.PathValue("chatId")
	if errResp := s.requireParticipant(r.Context(), chatId, userId); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	if err := s.db.DeleteChat(r.Context(), chatId); err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	s.cs.UnloadRoom(chatId)
	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *MessengerApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	chatId := r.PathValue("chatId")
	if errResp := s.requireParticipant(r.Context(), chatId, userId); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	limit := defaultPageLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			s.writeError(w, NewBadRequestError())
			return
		}
		limit = min(limit, maxPageLimit)
	}

	messages, err := s.db.ListMessages(r.Context(), chatId, r.URL.Query().Get("cursor"), limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, toMessages(messages))
}

// sendMessage stores a message and fans it out to every participant except
// the sender's own connections.
func (s *MessengerApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req SendMessageRequest
	if errResp := s.decodeRequest(w, r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	now := server.Now()
	params := database.CreateMessageParams{
		ChatId:      r.PathValue("chatId"),
		SenderId:    userId,
		Content:     req.Content,
		Type:        string(req.Type),
		ReplyToId:   req.ReplyToId,
		ScheduledAt: req.ScheduledAt,
		CreatedAt:   now,
	}
	if req.ExpiresIn > 0 {
		expiresAt := now.Add(time.Duration(req.ExpiresIn) * time.Second)
		params.ExpiresAt = &expiresAt
	}

	msg, err := s.cs.SendMessage(r.Context(), params, server.ExcludeUser(userId))
	if err != nil {
		s.writeError(w, errorFromChatServer(err))
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *MessengerApp) editMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req EditMessageRequest
	if errResp := s.decodeRequest(w, r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	msg, errResp := s.messageInChat(r.Context(), r.PathValue("chatId"), r.PathValue("messageId"))
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}
	if msg.SenderId != userId {
		s.writeError(w, NewForbiddenError())
		return
	}
	if msg.IsDeleted {
		s.writeError(w, NewNotFoundError())
		return
	}

	updated, err := s.db.UpdateMessageContent(r.Context(), msg.Id, req.Content)
	if err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	out := updated.ToType()
	s.notifyUpdated(r.Context(), out)
	s.writeJson(w, http.StatusOK, out)
}

func (s *MessengerApp) deleteMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	chatId := r.PathValue("chatId")
	msg, errResp := s.messageInChat(r.Context(), chatId, r.PathValue("messageId"))
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}
	if msg.SenderId != userId {
		s.writeError(w, NewForbiddenError())
		return
	}

	if _, err := s.db.SoftDeleteMessage(r.Context(), msg.Id); err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	participantIds, err := s.db.GetParticipantIds(r.Context(), chatId)
	if err != nil {
		s.log.Printf("notify message delete %s: %v", msg.Id, err)
	} else {
		s.cs.NotifyMessageDeleted(chatId, msg.Id, participantIds)
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *MessengerApp) pinMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	chatId := r.PathValue("chatId")
	if errResp := s.requireParticipant(r.Context(), chatId, userId); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	msg, errResp := s.messageInChat(r.Context(), chatId, r.PathValue("messageId"))
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	updated, err := s.db.TogglePin(r.Context(), msg.Id)
	if err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	out := updated.ToType()
	s.notifyUpdated(r.Context(), out)
	s.writeJson(w, http.StatusOK, out)
}

func (s *MessengerApp) reactToMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req ReactRequest
	if errResp := s.decodeRequest(w, r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	chatId := r.PathValue("chatId")
	if errResp := s.requireParticipant(r.Context(), chatId, userId); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	msg, errResp := s.messageInChat(r.Context(), chatId, r.PathValue("messageId"))
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	updated, err := s.db.ToggleReaction(r.Context(), msg.Id, req.Emoji, userId)
	if err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	out := updated.ToType()
	s.notifyUpdated(r.Context(), out)
	s.writeJson(w, http.StatusOK, out)
}

// forwardMessage copies a message into each target chat as a new message
// sent by the caller.
func (s *MessengerApp) forwardMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req ForwardRequest
	if errResp := s.decodeRequest(w, r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	chatId := r.PathValue("chatId")
	if errResp := s.requireParticipant(r.Context(), chatId, userId); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	orig, errResp := s.messageInChat(r.Context(), chatId, r.PathValue("messageId"))
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}
	if orig.IsDeleted {
		s.writeError(w, NewNotFoundError())
		return
	}

	targets := lo.Uniq(req.TargetChatIds)
	for _, target := range targets {
		if errResp := s.checkForwardTarget(r.Context(), target, userId); errResp != nil {
			s.writeError(w, errResp)
			return
		}
	}

	forwarded := make([]types.Message, 0, len(targets))
	for _, target := range targets {
		msg, err := s.cs.SendMessage(r.Context(), database.CreateMessageParams{
			ChatId:        target,
			SenderId:      userId,
			Content:       orig.Content.String,
			Type:          orig.Type,
			ForwardedFrom: orig.SenderFirstName,
			CreatedAt:     server.Now(),
		}, server.ExcludeUser(userId))
		if err != nil {
			s.writeError(w, errorFromChatServer(err))
			return
		}
		forwarded = append(forwarded, msg)
	}

	s.writeJson(w, http.StatusCreated, forwarded)
}

// checkForwardTarget reports why userId may not post into chatId, so that a
// forward is refused before any copy is stored.
func (s *MessengerApp) checkForwardTarget(ctx context.Context, chatId, userId string) *ApiError {
	chat, err := s.db.GetChat(ctx, chatId)
	if err != nil {
		return errorFromDb(err)
	}
	if !lo.ContainsBy(chat.Participants, func(p database.Participant) bool { return p.UserId == userId }) {
		return NewForbiddenError()
	}
	if types.ChatType(chat.Type) != types.ChatTypePrivate {
		return nil
	}

	for _, p := range chat.Participants {
		if p.UserId == userId {
			continue
		}
		byMe, byOther, err := s.db.GetBlockStatus(ctx, userId, p.UserId)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return NewInternalServerError(err)
		}
		if byMe || byOther {
			return NewForbiddenError()
		}
	}
	return nil
}

func (s *MessengerApp) markChatRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	chatId := r.PathValue("chatId")
	if errResp := s.requireParticipant(r.Context(), chatId, userId); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	marked, err := s.db.MarkChatRead(r.Context(), chatId, userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, MarkReadResponse{Marked: marked})
}

func (s *MessengerApp) getPinnedMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	chatId := r.PathValue("chatId")
	if errResp := s.requireParticipant(r.Context(), chatId, userId); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	messages, err := s.db.ListPinnedMessages(r.Context(), chatId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, toMessages(messages))
}

func (s *MessengerApp) searchMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	chatId := r.PathValue("chatId")
	if errResp := s.requireParticipant(r.Context(), chatId, userId); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	messages, err := s.db.SearchMessages(r.Context(), chatId, q, messageSearchLimit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, toMessages(messages))
}

// privatePeer returns the other participant of a private chat userId
// belongs to.
func (s *MessengerApp) privatePeer(ctx context.Context, chatId, userId string) (string, *ApiError) {
	chat, err := s.db.GetChat(ctx, chatId)
	if err != nil {
		return "", errorFromDb(err)
	}
	if chat.Type != string(types.ChatTypePrivate) {
		return "", NewBadRequestError()
	}

	var peer string
	member := false
	for _, p := range chat.Participants {
		if p.UserId == userId {
			member = true
		} else {
			peer = p.UserId
		}
	}
	if !member {
		return "", NewForbiddenError()
	}
	if peer == "" {
		return "", NewNotFoundError()
	}

	return peer, nil
}

func (s *MessengerApp) blockUser(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	peer, errResp := s.privatePeer(r.Context(), r.PathValue("chatId"), userId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	blockedByMe, _, err := s.db.GetBlockStatus(r.Context(), userId, peer)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}
	if blockedByMe {
		s.writeError(w, NewConflictError())
		return
	}

	if err := s.db.BlockUser(r.Context(), userId, peer); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, BlockResponse{Blocked: true, BlockedUserId: peer})
}

func (s *MessengerApp) unblockUser(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	peer, errResp := s.privatePeer(r.Context(), r.PathValue("chatId"), userId)
	if errResp != nil {
		s.writeError(w, errResp)
		return
	}

	if err := s.db.UnblockUser(r.Context(), userId, peer); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

// blockStatus reports no block for chats that are not private.
func (s *MessengerApp) blockStatus(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	peer, errResp := s.privatePeer(r.Context(), r.PathValue("chatId"), userId)
	if errResp != nil {
		if errResp.StatusCode == http.StatusInternalServerError {
			s.writeError(w, errResp)
		} else {
			s.writeJson(w, http.StatusOK, types.BlockStatus{})
		}
		return
	}

	byMe, byOther, err := s.db.GetBlockStatus(r.Context(), userId, peer)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, types.BlockStatus{
		IsBlocked:      byMe || byOther,
		BlockedByMe:    byMe,
		BlockedByOther: byOther,
	})
}
