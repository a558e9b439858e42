package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"renewal_reminder/internal/app"
	"renewal_reminder/internal/domain/catalog"
	"renewal_reminder/internal/domain/notifier"
	"renewal_reminder/internal/infra/config"
	idb "renewal_reminder/internal/infra/database"
	"renewal_reminder/internal/infra/events"
	"renewal_reminder/internal/infra/httpapi"
	"renewal_reminder/internal/infra/logger"
	"renewal_reminder/internal/infra/metrics"
	"renewal_reminder/internal/infra/notify"
	"renewal_reminder/internal/infra/scheduler"
	"renewal_reminder/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const telegramPollTimeout = 10 * time.Second

// runtime holds the wired components shared by every command.
type runtime struct {
	db          *sql.DB
	catalog     *catalog.Catalog
	contacts    *idb.ContactRepository
	ledger      *app.LedgerService
	preferences *app.PreferenceServiceImpl
	stats       *app.StatsService
	reminders   *app.ReminderServiceImpl
	recorder    *metrics.Recorder
	bot         *telebot.Bot // nil when Telegram is disabled
}

func loadCatalog(cfg *config.AppConfig) (*catalog.Catalog, error) {
	if cfg.CatalogPath != "" {
		return catalog.LoadFile(cfg.CatalogPath)
	}
	return catalog.Default()
}

// bootstrap connects to the database, applies migrations and builds the
// service graph. The Telegram bot is created but only serve starts polling.
func bootstrap(cfg *config.AppConfig) (*runtime, error) {
	log := logger.Component("main")
	base := logrus.NewEntry(logger.Log)

	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("could not load catalog: %w", err)
	}
	log.WithField("catalog_version", cat.Version()).Info("Catalog loaded")

	db, err := idb.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	if err := idb.Migrate(db, cfg.DatabaseDriver, cfg.DatabaseURL, logger.Component("migrate")); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("Database connection established successfully.")

	items := idb.NewItemRepository(db)
	categories := idb.NewCategoryRepository(db)
	contacts := idb.NewContactRepository(db)
	prefRepo := idb.NewPreferenceRepository(db)
	ledgerRepo := idb.NewLedgerRepository(db)

	senders := []notifier.Sender{
		notify.NewLogSender(notifier.ChannelEmail, logger.Component("email_sender")),
		notify.NewLogSender(notifier.ChannelInApp, logger.Component("in_app_sender")),
	}

	var bot *telebot.Bot
	if cfg.TelegramEnabled() {
		settings := telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: telegramPollTimeout},
			// Sends and long polls share this client; a poll holds its request open.
			Client: &http.Client{Timeout: max(cfg.NotifierTimeout, telegramPollTimeout+5*time.Second)},
			OnError: func(err error, c telebot.Context) {
				entry := logger.Component("telebot").WithError(err)
				if c != nil && c.Chat() != nil {
					entry = entry.WithField("chat_id", c.Chat().ID)
				}
				entry.Error("Telegram handler failed")
			},
		}
		if bot, err = telebot.NewBot(settings); err != nil {
			db.Close()
			return nil, fmt.Errorf("could not create Telegram bot: %w", err)
		}
		senders = append(senders, telegram.NewReminderSender(telegram.NewTelebotAdapter(bot), logger.Component("telegram")))
	}

	router := notify.NewRouter(contacts, logger.Component("notify"), senders...)
	log.WithField("channels", router.Channels()).Info("Notification channels configured")

	recorder := metrics.NewRecorder()
	ledger := app.NewLedgerService(ledgerRepo, base)
	finder := app.NewFinder(items, prefRepo, categories, cat, base)

	return &runtime{
		db:          db,
		catalog:     cat,
		contacts:    contacts,
		ledger:      ledger,
		preferences: app.NewPreferenceServiceImpl(prefRepo, items, categories, cat, base),
		stats:       app.NewStatsService(ledgerRepo),
		reminders: app.NewReminderServiceImpl(
			finder, ledger, router, recorder, base,
			cfg.NotifierTimeout, cfg.TrackingBaseURL,
		),
		recorder: recorder,
		bot:      bot,
	}, nil
}

func (rt *runtime) Close() error {
	return rt.db.Close()
}

// serve runs every long-lived component until ctx is cancelled.
func serve(ctx context.Context, cfg *config.AppConfig) error {
	log := logger.Component("main")
	base := logrus.NewEntry(logger.Log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt, err := bootstrap(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	var consumer *events.InteractionConsumer
	if cfg.KafkaEnabled() {
		consumer, err = events.NewInteractionConsumer(events.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaInteractionsTopic,
			GroupID: cfg.KafkaGroupID,
		}, rt.ledger, base)
		if err != nil {
			return err
		}
	}

	notifScheduler := scheduler.NewReminderScheduler(rt.reminders, base, cfg.CronSpecTick, cfg.TickTimeout, cfg.Timezone)
	if err := notifScheduler.Start(); err != nil {
		return err
	}
	defer notifScheduler.Stop()

	var wg sync.WaitGroup

	if consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer consumer.Close()
			if err := consumer.Run(ctx); err != nil {
				log.WithError(err).Error("Interaction consumer stopped")
			}
		}()
	}

	if rt.bot != nil {
		admin := app.NewAdminService(rt.reminders, rt.contacts, cfg.TelegramAdminID)
		tgLogger := logger.Component("telegram")
		telegram.RegisterBotCommands(ctx, rt.bot, rt.contacts, rt.stats, admin, tgLogger)
		telegram.RegisterReminderResponseHandlers(ctx, rt.bot, rt.ledger, rt.contacts, tgLogger)
		telegram.RegisterAdminHandlers(ctx, rt.bot, admin, cfg.Timezone, tgLogger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.bot.Start()
		}()
		log.Info("Telegram bot started")
	}

	handler := httpapi.NewHandler(rt.reminders, rt.ledger, rt.preferences, rt.stats, rt.catalog, rt.db, cfg.Timezone, base)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(handler, rt.recorder.Handler(), cfg.CORSAllowedOrigins, base),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down application...")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("http server failed: %w", err)
		}
	}

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	if rt.bot != nil {
		rt.bot.Stop()
	}
	wg.Wait()

	log.Info("Application shut down gracefully.")
	return runErr
}
