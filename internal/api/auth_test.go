package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   string
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "empty user ID",
			ctx:      WithUserId(context.Background(), ""),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), "u-42"),
			userId:   "u-42",
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %q", tc.userId)
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("correct horse")
	assert.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, verifyPassword(hash, "correct horse"))
	assert.False(t, verifyPassword(hash, "wrong horse"))
}

func TestSessionToken(t *testing.T) {
	app := &MessengerApp{signingKey: []byte("test-signing-key")}

	t.Run("round trip", func(t *testing.T) {
		token, err := app.createJwtForSession("u-1", time.Hour)
		assert.NoError(t, err)

		userId, err := app.extractUserIdFromToken(token)
		assert.NoError(t, err)
		assert.Equal(t, "u-1", userId)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := app.createJwtForSession("u-1", -time.Minute)
		assert.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.Error(t, err)
	})

	t.Run("signed with another key", func(t *testing.T) {
		other := &MessengerApp{signingKey: []byte("other-key")}
		token, err := other.createJwtForSession("u-1", time.Hour)
		assert.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.Error(t, err)
	})

	t.Run("missing user claim", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			expClaim: time.Now().Add(time.Hour).Unix(),
		}).SignedString(app.signingKey)
		assert.NoError(t, err)

		_, err = app.extractUserIdFromToken(token)
		assert.ErrorContains(t, err, "invalid user id claim")
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := app.extractUserIdFromToken("not-a-token")
		assert.Error(t, err)
	})
}

func TestTokenFromRequest(t *testing.T) {
	tcases := []struct {
		name     string
		setup    func(r *http.Request)
		target   string
		expected string
		ok       bool
	}{
		{
			name:     "bearer header",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") },
			target:   "/",
			expected: "abc",
			ok:       true,
		},
		{
			name:   "other scheme",
			setup:  func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
			target: "/",
		},
		{
			name:     "cookie",
			setup:    func(r *http.Request) { r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "from-cookie"}) },
			target:   "/",
			expected: "from-cookie",
			ok:       true,
		},
		{
			name:     "query",
			setup:    func(r *http.Request) {},
			target:   "/ws?token=from-query",
			expected: "from-query",
			ok:       true,
		},
		{
			name:   "none",
			setup:  func(r *http.Request) {},
			target: "/",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			tc.setup(req)

			token, ok := tokenFromRequest(req)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, token)
		})
	}
}
