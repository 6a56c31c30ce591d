package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/server"
	"github.com/npezzotti/go-messenger/internal/sms"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/testutil"
	"github.com/npezzotti/go-messenger/internal/types"
)

func newTestApp(t *testing.T, db database.ChatRepository, cs *server.ChatServer, gw sms.Gateway) *MessengerApp {
	return NewMessengerApp(http.NewServeMux(), testutil.TestLogger(t), cs, db, stats.NewNoopStats(), gw, &config.Config{
		ServerAddr: "localhost:0",
		SigningKey: []byte("test-signing-key"),
		TokenTTL:   time.Hour,
	})
}

// newTestChatServer starts a chat server on an in-process bus and stops it
// when the test ends.
func newTestChatServer(t *testing.T, db database.ChatRepository) *server.ChatServer {
	cs, err := server.NewChatServer(testutil.TestLogger(t), db, stats.NewNoopStats(), server.NewLocalBus())
	if err != nil {
		t.Fatalf("failed to create chat server: %v", err)
	}
	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})
	return cs
}

// newRequest builds a request whose body is v encoded as JSON, or v itself
// when it is a string.
func newRequest(t *testing.T, method, target string, v any) *http.Request {
	t.Helper()
	var body []byte
	switch b := v.(type) {
	case nil:
	case string:
		body = []byte(b)
	default:
		var err error
		body, err = json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
	}
	return httptest.NewRequest(method, target, bytes.NewReader(body))
}

func asUser(req *http.Request, userId string) *http.Request {
	return req.WithContext(WithUserId(req.Context(), userId))
}

func decodeApiError(t *testing.T, rr *httptest.ResponseRecorder) ApiError {
	t.Helper()
	var apiErr ApiError
	err := json.NewDecoder(rr.Body).Decode(&apiErr)
	assert.NoError(t, err, "failed to decode error response")
	assert.Equal(t, apiErr.StatusCode, rr.Code, "expected status code to match body")
	return apiErr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	err := json.NewDecoder(rr.Body).Decode(&v)
	assert.NoError(t, err, "failed to decode response")
	return v
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name:    "successful health check",
			mockErr: nil,
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("Ping", mock.Anything).Return(tc.mockErr).Once()

			app := newTestApp(t, mockRepo, nil, nil)
			rr := httptest.NewRecorder()
			app.healthCheck(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code, "expected status code to be 200")
				assert.Equal(t, "OK", rr.Body.String(), "expected response body to be 'OK'")
			}
		})
	}
}

func Test_register(t *testing.T) {
	now := time.Now().UTC()
	existingHash, err := hashPassword("existing-password")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	existing := database.User{
		Id:           "u-1",
		Phone:        "+998901234567",
		FirstName:    "Ali",
		PasswordHash: existingHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	t.Run("creates a new account", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)

		created := database.User{Id: "u-2", Phone: "+998907654321", FirstName: "Vali", LastName: "Karimov", CreatedAt: now, UpdatedAt: now}
		mockRepo.On("GetUserByPhone", mock.Anything, "+998907654321").Return(database.User{}, sql.ErrNoRows).Once()
		mockRepo.On("CreateUser", mock.Anything, mock.MatchedBy(func(p database.CreateUserParams) bool {
			return p.Phone == "+998907654321" &&
				p.FirstName == "Vali" &&
				p.LastName == "Karimov" &&
				verifyPassword(p.PasswordHash, "password123")
		})).Return(created, nil).Once()

		app := newTestApp(t, mockRepo, nil, nil)
		rr := httptest.NewRecorder()
		app.register(rr, newRequest(t, http.MethodPost, "/api/auth/register", RegisterRequest{
			Phone:     "+998 90 765 43 21",
			FirstName: " Vali ",
			LastName:  "Karimov",
			Password:  "password123",
		}))

		assert.Equal(t, http.StatusCreated, rr.Code)
		resp := decodeBody[AuthResponse](t, rr)
		assert.Equal(t, "u-2", resp.User.Id)
		assert.NotEmpty(t, resp.Token)

		userId, err := app.extractUserIdFromToken(resp.Token)
		assert.NoError(t, err)
		assert.Equal(t, "u-2", userId)
		assert.NotNil(t, findCookie(rr, tokenCookieKey), "expected session cookie")
	})

	t.Run("signs in an existing user with the right password", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetUserByPhone", mock.Anything, existing.Phone).Return(existing, nil).Once()

		app := newTestApp(t, mockRepo, nil, nil)
		rr := httptest.NewRecorder()
		app.register(rr, newRequest(t, http.MethodPost, "/api/auth/register", RegisterRequest{
			Phone:     existing.Phone,
			FirstName: "Ali",
			Password:  "existing-password",
		}))

		assert.Equal(t, http.StatusOK, rr.Code)
		resp := decodeBody[AuthResponse](t, rr)
		assert.Equal(t, existing.Id, resp.User.Id)
		mockRepo.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
	})

	t.Run("conflicts on an existing phone with the wrong password", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetUserByPhone", mock.Anything, existing.Phone).Return(existing, nil).Once()

		app := newTestApp(t, mockRepo, nil, nil)
		rr := httptest.NewRecorder()
		app.register(rr, newRequest(t, http.MethodPost, "/api/auth/register", RegisterRequest{
			Phone:     existing.Phone,
			FirstName: "Ali",
			Password:  "wrong-password",
		}))

		assert.Equal(t, *NewConflictError(), decodeApiError(t, rr))
	})

	validationCases := []struct {
		name  string
		body  any
		field string
	}{
		{
			name:  "invalid phone",
			body:  RegisterRequest{Phone: "12345", FirstName: "Ali", Password: "password123"},
			field: "phone",
		},
		{
			name:  "short password",
			body:  RegisterRequest{Phone: "+998901234567", FirstName: "Ali", Password: "short"},
			field: "password",
		},
		{
			name:  "missing first name",
			body:  RegisterRequest{Phone: "+998901234567", Password: "password123"},
			field: "firstName",
		},
	}
	for _, tc := range validationCases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(t, &database.MockChatRepository{}, nil, nil)
			rr := httptest.NewRecorder()
			app.register(rr, newRequest(t, http.MethodPost, "/api/auth/register", tc.body))

			apiErr := decodeApiError(t, rr)
			assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
			assert.Contains(t, apiErr.Details, tc.field)
		})
	}

	t.Run("invalid json", func(t *testing.T) {
		app := newTestApp(t, &database.MockChatRepository{}, nil, nil)
		rr := httptest.NewRecorder()
		app.register(rr, newRequest(t, http.MethodPost, "/api/auth/register", "invalid json"))

		assert.Equal(t, *NewBadRequestError(), decodeApiError(t, rr))
	})

	t.Run("db error", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		mockRepo.On("GetUserByPhone", mock.Anything, existing.Phone).Return(database.User{}, errors.New("db error")).Once()

		app := newTestApp(t, mockRepo, nil, nil)
		rr := httptest.NewRecorder()
		app.register(rr, newRequest(t, http.MethodPost, "/api/auth/register", RegisterRequest{
			Phone:     existing.Phone,
			FirstName: "Ali",
			Password:  "password123",
		}))

		assert.Equal(t, *NewInternalServerError(nil), decodeApiError(t, rr))
	})
}

func Test_login(t *testing.T) {
	hash, err := hashPassword("password123")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := database.User{Id: "u-1", Phone: "+998901234567", FirstName: "Ali", PasswordHash: hash}

	tcases := []struct {
		name        string
		body        any
		mockUser    database.User
		mockErr     error
		expectedErr *ApiError
	}{
		{
			name:     "successful login",
			body:     LoginRequest{Phone: user.Phone, Password: "password123"},
			mockUser: user,
		},
		{
			name:        "unknown phone",
			body:        LoginRequest{Phone: user.Phone, Password: "password123"},
			mockErr:     sql.ErrNoRows,
			expectedErr: NewUnauthorizedError(),
		},
		{
			name:        "wrong password",
			body:        LoginRequest{Phone: user.Phone, Password: "nope"},
			mockUser:    user,
			expectedErr: NewUnauthorizedError(),
		},
		{
			name:        "db error",
			body:        LoginRequest{Phone: user.Phone, Password: "password123"},
			mockErr:     errors.New("db error"),
			expectedErr: NewInternalServerError(nil),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)
			mockRepo.On("GetUserByPhone", mock.Anything, user.Phone).Return(tc.mockUser, tc.mockErr).Once()

			app := newTestApp(t, mockRepo, nil, nil)
			rr := httptest.NewRecorder()
			app.login(rr, newRequest(t, http.MethodPost, "/api/auth/login", tc.body))

			if tc.expectedErr != nil {
				assert.Equal(t, *tc.expectedErr, decodeApiError(t, rr))
				assert.Nil(t, findCookie(rr, tokenCookieKey))
				return
			}

			assert.Equal(t, http.StatusOK, rr.Code)
			resp := decodeBody[AuthResponse](t, rr)
			assert.Equal(t, user.Id, resp.User.Id)
			assert.Equal(t, user.Phone, resp.User.Phone)
			assert.NotNil(t, findCookie(rr, tokenCookieKey))
		})
	}
}

func Test_me(t *testing.T) {
	user := database.User{Id: "u-1", Phone: "+998901234567", FirstName: "Ali"}

	t.Run("returns the signed in user", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetUserById", mock.Anything, "u-1").Return(user, nil).Once()

		app := newTestApp(t, mockRepo, nil, nil)
		rr := httptest.NewRecorder()
		app.me(rr, asUser(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), "u-1"))

		assert.Equal(t, http.StatusOK, rr.Code)
		got := decodeBody[types.User](t, rr)
		assert.Equal(t, user.ToType(), got)
	})

	t.Run("unauthorized", func(t *testing.T) {
		app := newTestApp(t, &database.MockChatRepository{}, nil, nil)
		rr := httptest.NewRecorder()
		app.me(rr, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))

		assert.Equal(t, *NewUnauthorizedError(), decodeApiError(t, rr))
	})

	t.Run("deleted user", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		mockRepo.On("GetUserById", mock.Anything, "u-1").Return(database.User{}, sql.ErrNoRows).Once()

		app := newTestApp(t, mockRepo, nil, nil)
		rr := httptest.NewRecorder()
		app.me(rr, asUser(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), "u-1"))

		assert.Equal(t, *NewNotFoundError(), decodeApiError(t, rr))
	})
}

func Test_logout(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("SetUserPresence", mock.Anything, "u-1", false, mock.AnythingOfType("time.Time")).Return(nil).Once()

	cs := newTestChatServer(t, mockRepo)
	app := newTestApp(t, mockRepo, cs, nil)

	rr := httptest.NewRecorder()
	app.logout(rr, asUser(httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil), "u-1"))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	cookie := findCookie(rr, tokenCookieKey)
	if assert.NotNil(t, cookie) {
		assert.Empty(t, cookie.Value)
		assert.False(t, cookie.Expires.After(time.Now()), "expected an expired cookie")
	}
}

func Test_searchUsers(t *testing.T) {
	other := database.User{Id: "u-2", Phone: "+998907654321", FirstName: "Vali"}

	t.Run("exact phone match", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetUserByPhone", mock.Anything, other.Phone).Return(other, nil).Once()

		app := newTestApp(t, mockRepo, nil, nil)
		rr := httptest.NewRecorder()
		app.searchUsers(rr, asUser(httptest.NewRequest(http.MethodGet, "/api/users/search?q=%2B998907654321", nil), "u-1"))

		assert.Equal(t, http.StatusOK, rr.Code)
		users := decodeBody[[]types.User](t, rr)
		assert.Equal(t, []types.User{other.ToType()}, users)
	})

	t.Run("phone of the caller falls back to text search", func(t *testing.T) {
		self := database.User{Id: "u-1", Phone: "+998901234567"}
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetUserByPhone", mock.Anything, self.Phone).Return(self, nil).Once()
		mockRepo.On("SearchUsers", mock.Anything, self.Phone, "u-1", userSearchLimit).Return([]database.User{}, nil).Once()

		app := newTestApp(t, mockRepo, nil, nil)
		rr := httptest.NewRecorder()
		app.searchUsers(rr, asUser(httptest.NewRequest(http.MethodGet, "/api/users/search?q=%2B998901234567", nil), "u-1"))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, decodeBody[[]types.User](t, rr))
	})

	t.Run("text search", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("SearchUsers", mock.Anything, "val", "u-1", userSearchLimit).Return([]database.User{other}, nil).Once()

		app := newTestApp(t, mockRepo, nil, nil)
		rr := httptest.NewRecorder()
		app.searchUsers(rr, asUser(httptest.NewRequest(http.MethodGet, "/api/users/search?q=+val+", nil), "u-1"))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, decodeBody[[]types.User](t, rr), 1)
	})

	t.Run("missing query", func(t *testing.T) {
		app := newTestApp(t, &database.MockChatRepository{}, nil, nil)
		rr := httptest.NewRecorder()
		app.searchUsers(rr, asUser(httptest.NewRequest(http.MethodGet, "/api/users/search", nil), "u-1"))

		assert.Equal(t, *NewBadRequestError(), decodeApiError(t, rr))
	})
}

func Test_getUser(t *testing.T) {
	mockRepo := &database.MockChatRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRepo.On("GetUserById", mock.Anything, "u-2").Return(database.User{Id: "u-2", FirstName: "Vali"}, nil).Once()
	mockRepo.On("GetUserById", mock.Anything, "missing").Return(database.User{}, sql.ErrNoRows).Once()

	app := newTestApp(t, mockRepo, nil, nil)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/users/u-2", nil), "u-1")
	req.SetPathValue("userId", "u-2")
	rr := httptest.NewRecorder()
	app.getUser(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Vali", decodeBody[types.User](t, rr).FirstName)

	req = asUser(httptest.NewRequest(http.MethodGet, "/api/users/missing", nil), "u-1")
	req.SetPathValue("userId", "missing")
	rr = httptest.NewRecorder()
	app.getUser(rr, req)
	assert.Equal(t, *NewNotFoundError(), decodeApiError(t, rr))
}

func Test_updateProfile(t *testing.T) {
	t.Run("updates the profile", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("UpdateProfile", mock.Anything, database.UpdateProfileParams{
			UserId:   "u-1",
			Username: "ali",
			Bio:      "hello",
		}).Return(database.User{Id: "u-1", Username: "ali", Bio: "hello"}, nil).Once()

		app := newTestApp(t, mockRepo, nil, nil)
		rr := httptest.NewRecorder()
		app.updateProfile(rr, asUser(newRequest(t, http.MethodPut, "/api/users/profile", UpdateProfileRequest{
			Username: " ali ",
			Bio:      "hello",
		}), "u-1"))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "ali", decodeBody[types.User](t, rr).Username)
	})

	t.Run("username taken", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		mockRepo.On("UpdateProfile", mock.Anything, mock.Anything).Return(database.User{}, database.ErrConflict).Once()

		app := newTestApp(t, mockRepo, nil, nil)
		rr := httptest.NewRecorder()
		app.updateProfile(rr, asUser(newRequest(t, http.MethodPut, "/api/users/profile", UpdateProfileRequest{
			Username: "taken",
		}), "u-1"))

		assert.Equal(t, *NewConflictError(), decodeApiError(t, rr))
	})

	t.Run("invalid avatar", func(t *testing.T) {
		app := newTestApp(t, &database.MockChatRepository{}, nil, nil)
		rr := httptest.NewRecorder()
		app.updateProfile(rr, asUser(newRequest(t, http.MethodPut, "/api/users/profile", UpdateProfileRequest{
			Avatar: "not a url",
		}), "u-1"))

		apiErr := decodeApiError(t, rr)
		assert.Equal(t, map[string]string{"avatar": "url"}, apiErr.Details)
	})
}

func Test_serveWs(t *testing.T) {
	mockUser := database.User{Id: "u-1", FirstName: "Ali"}

	t.Run("successful websocket upgrade and client registration", func(t *testing.T) {
		mockRepo := &database.MockChatRepository{}
		mockRepo.On("GetUserById", mock.Anything, mockUser.Id).Return(mockUser, nil).Once()

		cs := newTestChatServer(t, mockRepo)
		app := newTestApp(t, mockRepo, cs, nil)

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			app.serveWs(w, asUser(r, mockUser.Id))
		}))
		defer srv.Close()

		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		defer func() {
			if conn != nil {
				conn.Close()
			}
		}()
		assert.NoError(t, err)
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
		mockRepo.AssertExpectations(t)
	})

	errorTestCases := []struct {
		name        string
		userId      string
		mockErr     error
		expectedErr *ApiError
	}{
		{
			name:        "unauthorized user",
			expectedErr: NewUnauthorizedError(),
		},
		{
			name:        "user not found",
			userId:      mockUser.Id,
			mockErr:     sql.ErrNoRows,
			expectedErr: NewNotFoundError(),
		},
		{
			name:        "db error",
			userId:      mockUser.Id,
			mockErr:     errors.New("db error"),
			expectedErr: NewInternalServerError(nil),
		},
	}

	for _, tc := range errorTestCases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockChatRepository{}
			defer mockRepo.AssertExpectations(t)
			if tc.userId != "" {
				mockRepo.On("GetUserById", mock.Anything, tc.userId).Return(database.User{}, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo, nil, nil)
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.userId != "" {
				req = asUser(req, tc.userId)
			}

			rr := httptest.NewRecorder()
			app.serveWs(rr, req)

			assert.Equal(t, *tc.expectedErr, decodeApiError(t, rr), "expected ApiError to match")
		})
	}
}
