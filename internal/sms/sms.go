package sms

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
)

// PhonePattern is the accepted phone number format.
var PhonePattern = regexp.MustCompile(`^\+998[0-9]{9}$`)

// NormalizePhone strips whitespace from phone and checks its format.
func NormalizePhone(phone string) (string, error) {
	phone = strings.Join(strings.Fields(phone), "")
	if !PhonePattern.MatchString(phone) {
		return "", fmt.Errorf("invalid phone format, use +998XXXXXXXXX")
	}
	return phone, nil
}

type Result struct {
	// MessageId is the gateway's id for the sent message.
	MessageId string
}

type Gateway interface {
	Send(ctx context.Context, phone, message string) (Result, error)
}

// LogGateway pretends to send messages and logs them instead.
type LogGateway struct {
	log *log.Logger
}

func NewLogGateway(logger *log.Logger) *LogGateway {
	return &LogGateway{log: logger}
}

func (g *LogGateway) Send(_ context.Context, phone, message string) (Result, error) {
	g.log.Printf("sms (not sent): to=%s message=%q", phone, message)
	return Result{MessageId: fmt.Sprintf("mock-%d", time.Now().UnixMilli())}, nil
}
