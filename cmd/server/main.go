package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/npezzotti/go-messenger/internal/api"
	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/jobs"
	"github.com/npezzotti/go-messenger/internal/server"
	"github.com/npezzotti/go-messenger/internal/sms"
	"github.com/npezzotti/go-messenger/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

var (
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
	tokenTTL       time.Duration
	redisAddr      string
	redisChannel   string
	smsApiURL      string
	smsEmail       string
	smsPassword    string
	smsFrom        string
	expirySpec     string
	migrate        bool
)

func main() {
	logger := log.New(os.Stderr, "[go-messenger] ", log.LstdFlags)

	// a missing .env file is fine, the environment may already be set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Println("load .env:", err)
	}

	defaultTTL, err := time.ParseDuration(envOr("TOKEN_TTL", config.DefaultTokenTTL.String()))
	if err != nil {
		logger.Fatal("TOKEN_TTL:", err)
	}

	flag.StringVar(&addr, "addr", envOr("SERVER_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", envOr("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", envOr("SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.DurationVar(&tokenTTL, "token-ttl", defaultTTL, "session token lifetime")
	flag.StringVar(&redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "redis address for cross-instance fanout, empty for a single instance")
	flag.StringVar(&redisChannel, "redis-channel", os.Getenv("REDIS_CHANNEL"), "redis pub/sub channel")
	flag.StringVar(&smsApiURL, "sms-api-url", os.Getenv("SMS_API_URL"), "SMS gateway base URL")
	flag.StringVar(&smsEmail, "sms-email", os.Getenv("SMS_EMAIL"), "SMS gateway account email")
	flag.StringVar(&smsPassword, "sms-password", os.Getenv("SMS_PASSWORD"), "SMS gateway account password")
	flag.StringVar(&smsFrom, "sms-from", os.Getenv("SMS_FROM"), "SMS sender id")
	flag.StringVar(&expirySpec, "expiry-schedule", envOr("EXPIRY_SCHEDULE", config.DefaultExpirySpec), "cron schedule of the expired message purge")
	flag.BoolVar(&migrate, "migrate", envBool("RUN_MIGRATIONS", true), "apply database migrations on startup")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
			allowedOrigins.Set(v)
		}
	}

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins,
		config.WithTokenTTL(tokenTTL),
		config.WithRedis(redisAddr, redisChannel),
		config.WithSMS(smsApiURL, smsEmail, smsPassword, smsFrom),
		config.WithExpirySpec(expirySpec),
		config.WithMigrations(migrate),
	)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	if cfg.RunMigrations {
		if err := dbConn.Migrate(); err != nil {
			logger.Fatal("db migrate:", err)
		}
	}

	var bus server.Bus = server.NewLocalBus()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("redis ping:", err)
		}
		defer rdb.Close()

		logger.Printf("fanout over redis channel %q", cfg.RedisChannel)
		bus = server.NewRedisBus(rdb, cfg.RedisChannel, logger)
	}
	defer bus.Close()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, dbConn, statsUpdater, bus)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	var gateway sms.Gateway = sms.NewLogGateway(logger)
	if cfg.SMSEnabled() {
		gateway = sms.NewEskizGateway(cfg.SMSApiURL, cfg.SMSEmail, cfg.SMSPassword, cfg.SMSFrom)
	} else {
		logger.Println("SMS credentials not set, outgoing SMS are only logged")
	}

	srv := api.NewMessengerApp(mux, logger, chatServer, dbConn, statsUpdater, gateway, cfg)

	scheduler := jobs.NewScheduler(logger)
	if err := scheduler.Register(cfg.ExpirySpec, jobs.NewExpiredMessageJob(logger, dbConn, chatServer, statsUpdater)); err != nil {
		logger.Fatal("schedule expired message purge:", err)
	}

	statsUpdater.Run()
	defer statsUpdater.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		chatServer.Run()
		return nil
	})

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	scheduler.Start()

	g.Go(func() error {
		<-gctx.Done()
		logger.Println("shutting down...")

		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		scheduler.Stop()

		var errs []error
		if err := srv.Shutdown(shutDownCtx); err != nil {
			errs = append(errs, err)
		}

		logger.Println("shutting down chat server...")
		if err := chatServer.Shutdown(shutDownCtx); err != nil {
			errs = append(errs, err)
		}

		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Println("shutdown:", err)
		return
	}

	logger.Println("shutdown complete")
}
