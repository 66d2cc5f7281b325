package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/xssnick/tonutils-go/tlb"

	"github.com/toncenter/jetton-lockup/cache"
	"github.com/toncenter/jetton-lockup/journal"
	"github.com/toncenter/jetton-lockup/lockup"
)

type Config struct {
	RedisURL       string
	PostgresDSN    string
	MinConns       int
	MaxConns       int
	JournalTimeout time.Duration
	ListenAddr     string
	LogLevel       string

	ClaimComputeFee string
	TransferFee     string
	InitStorageFee  string
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.RedisURL, "redis", "", "Redis connection URL")
	flag.StringVar(&cfg.PostgresDSN, "pg", "", "PostgreSQL connection DSN for the event journal (optional)")
	flag.IntVar(&cfg.MinConns, "min-conns", 1, "Minimum PostgreSQL connections")
	flag.IntVar(&cfg.MaxConns, "max-conns", 8, "Maximum PostgreSQL connections")
	flag.DurationVar(&cfg.JournalTimeout, "journal-timeout", 5*time.Second, "Timeout for journal queries")
	flag.StringVar(&cfg.ListenAddr, "listen", ":8000", "HTTP server listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.StringVar(&cfg.ClaimComputeFee, "claim-compute-fee", "0.01", "TON the lockup spends handling a claim")
	flag.StringVar(&cfg.TransferFee, "transfer-fee", "0.05", "TON needed by the jetton transfer chain")
	flag.StringVar(&cfg.InitStorageFee, "init-storage-fee", "0.05", "TON kept by the lockup for storage on initialization")

	flag.Parse()

	return cfg
}

func parseFees(cfg Config) (lockup.StaticFees, error) {
	var fees lockup.StaticFees
	var err error
	if fees.ClaimCompute, err = tlb.FromTON(cfg.ClaimComputeFee); err != nil {
		return fees, err
	}
	if fees.TransferChain, err = tlb.FromTON(cfg.TransferFee); err != nil {
		return fees, err
	}
	if fees.InitStorage, err = tlb.FromTON(cfg.InitStorageFee); err != nil {
		return fees, err
	}
	return fees, nil
}

func newApp(h *Handler, hub *Hub, health fiber.Handler) *fiber.App {
	app := fiber.New()
	h.Register(app)
	hub.Register(app)
	app.Get("/health", health)
	return app
}

//	@title			Jetton Lockup
//	@version		1.0.0
//	@description	Hosts jetton lockups: deploys them, delivers internal messages to them and serves their get-methods.

func main() {
	cfg := parseFlags()

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.WithError(err).Fatal("Invalid log level")
	}
	logger.SetLevel(level)

	if cfg.RedisURL == "" {
		logger.Fatal("Redis connection string is required. Use -redis flag")
	}
	fees, err := parseFees(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Invalid fee configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to parse Redis URL")
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	logger.Info("Connected to Redis")

	var db *journal.DbClient
	var jrnl *journal.Journal
	if cfg.PostgresDSN != "" {
		db, err = journal.NewDbClient(cfg.PostgresDSN, cfg.MinConns, cfg.MaxConns)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create PostgreSQL pool")
		}
		defer db.Close()

		if err := db.Pool.Ping(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to connect to PostgreSQL")
		}
		jrnl = journal.New(db, cfg.JournalTimeout)
		if err := jrnl.EnsureSchema(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to create journal schema")
		}
		logger.Info("Connected to PostgreSQL")
	} else {
		logger.Warn("No -pg given, events are kept in redis history only")
	}

	cacheManager := cache.NewManager(redisClient)
	handler := NewHandler(cacheManager, jrnl, fees, logger)

	hub := NewHub(logger)
	go hub.Run(ctx, cacheManager.Events.Subscribe(ctx))

	app := newApp(handler, hub, func(c *fiber.Ctx) error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			c.Status(fiber.StatusInternalServerError)
			return err
		}
		if db != nil {
			if err := db.Pool.Ping(pingCtx); err != nil {
				c.Status(fiber.StatusInternalServerError)
				return err
			}
		}
		return c.SendStatus(fiber.StatusOK)
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("Shutting down...")
		cancel()
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Error("Error shutting down server")
		}
	}()

	logger.WithFields(logrus.Fields{
		"listen":           cfg.ListenAddr,
		"min_claim_fee":    fees.MinClaimFee().String(),
		"init_storage_fee": fees.InitStorageFee().String(),
	}).Info("Starting server")
	if err := app.Listen(cfg.ListenAddr); err != nil {
		logger.WithError(err).Fatal("Server stopped")
	}
}
