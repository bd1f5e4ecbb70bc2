package main

import (
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/storefront/internal/config"
	"github.com/example/storefront/internal/database"
	"github.com/example/storefront/internal/logger"
	"github.com/example/storefront/internal/notify"
	"github.com/example/storefront/internal/provider"
	"github.com/example/storefront/internal/repository"
	"github.com/example/storefront/internal/services"
)

// runtime is the wired object graph shared by the subcommands.
type runtime struct {
	cfg            *config.Config
	log            *zap.Logger
	db             *gorm.DB
	initiation     *services.InitiationService
	reconciliation *services.ReconciliationService
	sweeper        *services.Sweeper
	audit          *services.AuditLog
}

func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	store := repository.NewGormStore(db)

	var adapters []provider.Adapter
	if cfg.MpesaEnabled() {
		adapters = append(adapters, provider.NewMpesaAdapter(provider.MpesaConfig{
			BaseURL:        cfg.MpesaBaseURL,
			ConsumerKey:    cfg.MpesaConsumerKey,
			ConsumerSecret: cfg.MpesaConsumerSecret,
			ShortCode:      cfg.MpesaShortCode,
			PassKey:        cfg.MpesaPassKey,
			CallbackURL:    cfg.MpesaCallbackURL,
			QueryRPS:       cfg.MpesaQueryRPS,
		}, &http.Client{Timeout: cfg.ProviderTimeout}, log))
	} else {
		log.Warn("mpesa disabled: consumer credentials not configured")
	}
	if cfg.StripeEnabled() {
		adapters = append(adapters, provider.NewStripeAdapter(cfg.StripeSecretKey, cfg.StripeCheckoutURL, log))
	} else {
		log.Warn("stripe disabled: secret key not configured")
	}
	registry := provider.NewRegistry(adapters...)

	notifier := notify.Multi{
		notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramAdminChat, log),
		notify.NewMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
		}, log),
	}

	return &runtime{
		cfg:            cfg,
		log:            log,
		db:             db,
		initiation:     services.NewInitiationService(store, registry, log, cfg.PaymentCurrency, cfg.ProviderTimeout),
		reconciliation: services.NewReconciliationService(store, registry, notifier, log, cfg.ProviderTimeout),
		sweeper:        services.NewSweeper(store, notifier, log),
		audit:          services.NewAuditLog(store, log),
	}, nil
}

// close drains pending notifications and releases the database.
func (r *runtime) close() {
	r.reconciliation.Wait()
	r.sweeper.Wait()
	if sqlDB, err := r.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = r.log.Sync()
}
