package sms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const tokenLifetime = 29 * 24 * time.Hour

var ErrAuth = errors.New("sms gateway authentication failed")

// EskizGateway sends messages through the notify.eskiz.uz HTTP API.
type EskizGateway struct {
	client   *resty.Client
	email    string
	password string
	from     string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

func NewEskizGateway(baseURL, email, password, from string) *EskizGateway {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(15*time.Second).
		SetHeader("Accept", "application/json")

	return &EskizGateway{
		client:   client,
		email:    email,
		password: password,
		from:     from,
		now:      time.Now,
	}
}

type loginResponse struct {
	Message string `json:"message"`
	Data    struct {
		Token string `json:"token"`
	} `json:"data"`
}

type sendResponse struct {
	Id      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (g *EskizGateway) authToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.token != "" && g.now().Before(g.tokenExpiry) {
		return g.token, nil
	}

	var out loginResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"email":    g.email,
			"password": g.password,
		}).
		SetResult(&out).
		Post("/auth/login")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if resp.IsError() || out.Data.Token == "" {
		return "", fmt.Errorf("%w: status %d", ErrAuth, resp.StatusCode())
	}

	g.token = out.Data.Token
	g.tokenExpiry = g.now().Add(tokenLifetime)
	return g.token, nil
}

func (g *EskizGateway) invalidateToken() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.token = ""
}

func (g *EskizGateway) Send(ctx context.Context, phone, message string) (Result, error) {
	token, err := g.authToken(ctx)
	if err != nil {
		return Result{}, err
	}

	var out sendResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]string{
			"mobile_phone": strings.TrimPrefix(strings.Join(strings.Fields(phone), ""), "+"),
			"message":      message,
			"from":         g.from,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/message/sms/send")
	if err != nil {
		return Result{}, fmt.Errorf("send sms: %w", err)
	}

	if resp.StatusCode() == 401 {
		g.invalidateToken()
	}
	if resp.IsError() || out.Status != "success" {
		reason := out.Message
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode())
		}
		return Result{}, fmt.Errorf("send sms: %s", reason)
	}

	return Result{MessageId: out.Id}, nil
}
