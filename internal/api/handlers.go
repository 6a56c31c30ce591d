package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/server"
	"github.com/npezzotti/go-messenger/internal/types"
)

const (
	maxBodySize      = 1 << 20
	userSearchLimit  = 20
	defaultPageLimit = 50
	maxPageLimit     = 100
)

type RegisterRequest struct {
	Phone     string `json:"phone" validate:"required,phone"`
	FirstName string `json:"firstName" validate:"required,max=50"`
	LastName  string `json:"lastName" validate:"max=50"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
}

func (r *RegisterRequest) normalize() {
	r.Phone = stripSpaces(r.Phone)
	r.FirstName = strings.TrimSpace(r.FirstName)
	r.LastName = strings.TrimSpace(r.LastName)
}

type LoginRequest struct {
	Phone    string `json:"phone" validate:"required,phone"`
	Password string `json:"password" validate:"required"`
}

func (r *LoginRequest) normalize() {
	r.Phone = stripSpaces(r.Phone)
}

type UpdateProfileRequest struct {
	FirstName string `json:"firstName" validate:"max=50"`
	LastName  string `json:"lastName" validate:"max=50"`
	Username  string `json:"username" validate:"omitempty,min=3,max=32"`
	Bio       string `json:"bio" validate:"max=500"`
	Avatar    string `json:"avatar" validate:"omitempty,url"`
}

type AuthResponse struct {
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

type normalizer interface {
	normalize()
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func (s *MessengerApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *MessengerApp) writeError(w http.ResponseWriter, apiErr *ApiError) {
	if apiErr.Err != nil && s.log != nil {
		s.log.Printf("%d: %v", apiErr.StatusCode, apiErr.Err)
	}
	s.writeJson(w, apiErr.StatusCode, apiErr)
}

// decodeRequest reads a JSON body into v and validates it.
func (s *MessengerApp) decodeRequest(w http.ResponseWriter, r *http.Request, v any) *ApiError {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return NewBadRequestError()
	}

	if n, ok := v.(normalizer); ok {
		n.normalize()
	}

	if err := s.validate.Struct(v); err != nil {
		return NewValidationError(err)
	}

	return nil
}

func (s *MessengerApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *MessengerApp) issueSession(w http.ResponseWriter, user database.User, statusCode int) {
	token, err := s.createJwtForSession(user.Id, s.tokenTTL)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, s.tokenTTL))

	s.writeJson(w, statusCode, AuthResponse{
		User:  user.ToType(),
		Token: token,
	})
}

// register creates an account. Registering an existing phone number with its
// correct password signs the user in instead.
func (s *MessengerApp) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if errResp := s.decodeRequest(w, r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	existing, err := s.db.GetUserByPhone(r.Context(), req.Phone)
	switch {
	case err == nil:
		if !verifyPassword(existing.PasswordHash, req.Password) {
			s.writeError(w, NewConflictError())
			return
		}
		s.issueSession(w, existing, http.StatusOK)
		return
	case !errors.Is(err, sql.ErrNoRows):
		s.writeError(w, NewInternalServerError(err))
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	newUser, err := s.db.CreateUser(r.Context(), database.CreateUserParams{
		Phone:        req.Phone,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: pwdHash,
	})
	if err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	s.issueSession(w, newUser, http.StatusCreated)
}

func (s *MessengerApp) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if errResp := s.decodeRequest(w, r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	dbUser, err := s.db.GetUserByPhone(r.Context(), req.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewUnauthorizedError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	if !verifyPassword(dbUser.PasswordHash, req.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	s.issueSession(w, dbUser, http.StatusOK)
}

func (s *MessengerApp) me(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetUserById(r.Context(), userId)
	if err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	s.writeJson(w, http.StatusOK, user.ToType())
}

func (s *MessengerApp) logout(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	// open sockets keep the user online until they disconnect
	if s.cs == nil || !s.cs.IsOnline(userId) {
		if err := s.db.SetUserPresence(r.Context(), userId, false, time.Now().UTC()); err != nil {
			s.log.Printf("logout %s: set presence: %v", userId, err)
		}
	}

	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

func (s *MessengerApp) searchUsers(w http.ResponseWriter, r *http.Request) {
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

	if strings.HasPrefix(q, "+") {
		u, err := s.db.GetUserByPhone(r.Context(), stripSpaces(q))
		if err == nil && u.Id != userId {
			s.writeJson(w, http.StatusOK, []types.User{u.ToType()})
			return
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewInternalServerError(err))
			return
		}
	}

	users, err := s.db.SearchUsers(r.Context(), q, userId, userSearchLimit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, lo.Map(users, func(u database.User, _ int) types.User {
		return u.ToType()
	}))
}

func (s *MessengerApp) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.db.GetUserById(r.Context(), r.PathValue("userId"))
	if err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	s.writeJson(w, http.StatusOK, user.ToType())
}

func (s *MessengerApp) updateProfile(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req UpdateProfileRequest
	if errResp := s.decodeRequest(w, r, &req); errResp != nil {
		s.writeError(w, errResp)
		return
	}

	user, err := s.db.UpdateProfile(r.Context(), database.UpdateProfileParams{
		UserId:    userId,
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Username:  strings.TrimSpace(req.Username),
		Bio:       req.Bio,
		Avatar:    req.Avatar,
	})
	if err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	s.writeJson(w, http.StatusOK, user.ToType())
}

func (s *MessengerApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetUserById(r.Context(), userId)
	if err != nil {
		s.writeError(w, errorFromDb(err))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(user.ToType(), conn, s.cs, s.log)
	if err := s.cs.RegisterClient(client); err != nil {
		s.log.Printf("register client: %v", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
