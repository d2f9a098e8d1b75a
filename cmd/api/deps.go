package main

import (
	"context"
	"log"
	"time"

	"bankfeed/internal/domain/benefit"
	"bankfeed/internal/domain/connection"
	"bankfeed/internal/domain/sync"
	"bankfeed/internal/infrastructure/postgres"
	"bankfeed/internal/infrastructure/provider"
	"bankfeed/internal/infrastructure/vault"
	httphandlers "bankfeed/internal/interfaces/http"
	"bankfeed/internal/shared/auth"
	"bankfeed/internal/shared/config"
	"bankfeed/internal/shared/ratelimit"
	"bankfeed/internal/shared/tasks"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB   *postgres.DB
	Pool *tasks.Pool

	// Handlers
	SyncHandler       *httphandlers.SyncHandler
	LinkHandler       *httphandlers.LinkHandler
	ConnectionHandler *httphandlers.ConnectionHandler
	HealthHandler     *httphandlers.HealthHandler

	// Auth
	JWT *auth.JWT
}

// NewDependencies initializes all application dependencies.
func NewDependencies(cfg *config.Config) (*Dependencies, error) {
	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}
	log.Println("Connected to database")

	if cfg.Database.MigrationsAuto {
		if err := db.Migrate(); err != nil {
			return nil, err
		}
		log.Println("Migrations applied")
	}

	creds, err := vault.New(db, cfg.Vault.MasterKey)
	if err != nil {
		return nil, err
	}

	memberRepo := postgres.NewMemberRepository(db)
	connectionRepo := postgres.NewConnectionRepository(db)
	accountRepo := postgres.NewAccountRepository(db)
	transactionRepo := postgres.NewTransactionRepository(db)

	client := provider.NewClient(provider.Config{
		BaseURL:      cfg.Provider.BaseURL,
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		Timeout:      cfg.Provider.Timeout,
	})

	pool := tasks.NewPool(cfg.Tasks.WorkerCount, cfg.Tasks.QueueSize)
	pool.Start()

	var matcher benefit.Matcher = benefit.NoopMatcher{}
	if cfg.Benefits.WebhookURL != "" {
		matcher = benefit.NewWebhookMatcher(cfg.Benefits.WebhookURL)
	}

	engine := sync.NewEngine(client, creds, connectionRepo, transactionRepo, accountRepo, pool, matcher)
	lifecycle := connection.NewService(client, creds, connectionRepo, memberRepo, accountRepo, transactionRepo, pool,
		func(ctx context.Context, userID int64, connectionID string) error {
			_, err := engine.Sync(ctx, userID, connectionID)
			return err
		})

	guard := ratelimit.NewGuard()
	syncLimit := ratelimit.Limit{Events: cfg.RateLimit.SyncPerMinute, Per: time.Minute}
	linkLimit := ratelimit.Limit{Events: cfg.RateLimit.LinkPerMinute, Per: time.Minute}

	linkHandler, err := httphandlers.NewLinkHandler(lifecycle, guard, linkLimit, cfg.RateLimit.RetryAfter)
	if err != nil {
		return nil, err
	}

	return &Dependencies{
		DB:                db,
		Pool:              pool,
		SyncHandler:       httphandlers.NewSyncHandler(engine, guard, syncLimit, cfg.RateLimit.RetryAfter),
		LinkHandler:       linkHandler,
		ConnectionHandler: httphandlers.NewConnectionHandler(lifecycle),
		HealthHandler:     httphandlers.NewHealthHandler(db),
		JWT:               auth.NewJWT(cfg.JWT.Secret),
	}, nil
}
