package api

import (
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/types"
)

type AddContactRequest struct {
	UserId   string `json:"userId" validate:"required"`
	Nickname string `json:"nickname" validate:"max=64"`
}

func (s *MessengerApp) listContacts(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	contacts, err := s.db.ListContacts(r.Context(), userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, lo.Map(contacts, func(c database.Contact, _ int) types.Contact {
		return c.ToType()
	}))
}

func (s *MessengerApp) addContact(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req AddContactRequest
	if errResp := s.decodeRequest(w, r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}
	if req.UserId == userId {
		s.writeError(w, NewBadRequestError())
		return
	}

	if _, err := s.db.GetUserById(r.Context(), req.UserId); err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	contact, err := s.db.AddContact(r.Context(), userId, req.UserId, strings.TrimSpace(req.Nickname))
	if err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	s.writeJson(w, http.StatusCreated, contact.ToType())
}

func (s *MessengerApp) deleteContact(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	if err := s.db.DeleteContact(r.Context(), userId, r.PathValue("contactId")); err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}
