package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"

	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/server"
	"github.com/npezzotti/go-messenger/internal/sms"
	"github.com/npezzotti/go-messenger/internal/stats"
)

type MessengerApp struct {
	log            *log.Logger
	db             database.ChatRepository
	mux            *http.Server
	cs             *server.ChatServer
	stats          stats.StatsProvider
	sms            sms.Gateway
	validate       *validator.Validate
	signingKey     []byte
	tokenTTL       time.Duration
	allowedOrigins []string
}

func NewMessengerApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.ChatRepository, st stats.StatsProvider, gw sms.Gateway, cfg *config.Config) *MessengerApp {
	s := &MessengerApp{
		log:            logger,
		db:             db,
		cs:             cs,
		stats:          st,
		sms:            gw,
		validate:       newValidator(),
		signingKey:     cfg.SigningKey,
		tokenTTL:       cfg.TokenTTL,
		allowedOrigins: cfg.AllowedOrigins,
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = config.DefaultTokenTTL
	}

	mux.HandleFunc("GET /api/health", s.healthCheck)

	mux.HandleFunc("POST /api/auth/register", s.register)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/me", s.authMiddleware(s.me))
	mux.HandleFunc("POST /api/auth/logout", s.authMiddleware(s.logout))

	mux.HandleFunc("GET /api/users/search", s.authMiddleware(s.searchUsers))
	mux.HandleFunc("PUT /api/users/profile", s.authMiddleware(s.updateProfile))
	mux.HandleFunc("GET /api/users/{userId}", s.authMiddleware(s.getUser))

	mux.HandleFunc("GET /api/chats", s.authMiddleware(s.listChats))
	mux.HandleFunc("POST /api/chats", s.authMiddleware(s.createPrivateChat))
	mux.HandleFunc("POST /api/chats/group", s.authMiddleware(s.createGroupChat))
	mux.HandleFunc("DELETE /api/chats/{chatId}", s.authMiddleware(s.deleteChat))
	mux.HandleFunc("GET /api/chats/{chatId}/messages", s.authMiddleware(s.getMessages))
	mux.HandleFunc("POST /api/chats/{chatId}/messages", s.authMiddleware(s.sendMessage))
	mux.HandleFunc("PUT /api/chats/{chatId}/messages/{messageId}", s.authMiddleware(s.editMessage))
	mux.HandleFunc("DELETE /api/chats/{chatId}/messages/{messageId}", s.authMiddleware(s.deleteMessage))
	mux.HandleFunc("POST /api/chats/{chatId}/messages/{messageId}/pin", s.authMiddleware(s.pinMessage))
	mux.HandleFunc("POST /api/chats/{chatId}/messages/{messageId}/react", s.authMiddleware(s.reactToMessage))
	mux.HandleFunc("POST /api/chats/{chatId}/messages/{messageId}/forward", s.authMiddleware(s.forwardMessage))
	mux.HandleFunc("POST /api/chats/{chatId}/read", s.authMiddleware(s.markChatRead))
	mux.HandleFunc("GET /api/chats/{chatId}/pinned", s.authMiddleware(s.getPinnedMessages))
	mux.HandleFunc("GET /api/chats/{chatId}/search", s.authMiddleware(s.searchMessages))
	mux.HandleFunc("POST /api/chats/{chatId}/block", s.authMiddleware(s.blockUser))
	mux.HandleFunc("DELETE /api/chats/{chatId}/block", s.authMiddleware(s.unblockUser))
	mux.HandleFunc("GET /api/chats/{chatId}/block-status", s.authMiddleware(s.blockStatus))

	mux.HandleFunc("GET /api/contacts", s.authMiddleware(s.listContacts))
	mux.HandleFunc("POST /api/contacts", s.authMiddleware(s.addContact))
	mux.HandleFunc("DELETE /api/contacts/{contactId}", s.authMiddleware(s.deleteContact))

	mux.HandleFunc("GET /api/sms/chats", s.authMiddleware(s.listSMSChats))
	mux.HandleFunc("POST /api/sms/chats", s.authMiddleware(s.createSMSChat))
	mux.HandleFunc("DELETE /api/sms/chats/{chatId}", s.authMiddleware(s.deleteSMSChat))
	mux.HandleFunc("GET /api/sms/chats/{chatId}/messages", s.authMiddleware(s.listSMSMessages))
	mux.HandleFunc("POST /api/sms/chats/{chatId}/messages", s.authMiddleware(s.sendSMS))
	mux.HandleFunc("POST /api/sms/webhook", s.smsWebhook)

	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)
	if logger != nil {
		h = handlers.LoggingHandler(logger.Writer(), h)
	}

	s.mux = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return sms.PhonePattern.MatchString(fl.Field().String())
	})
	return v
}

func (s *MessengerApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *MessengerApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
