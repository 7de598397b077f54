package main

import (
	"context"
	"database/sql"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata" // tenant timezones must resolve in minimal containers

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"pulse_tracker/internal/app"
	"pulse_tracker/internal/domain/pulse"
	"pulse_tracker/internal/domain/tenant"
	"pulse_tracker/internal/infra/collectionfeed"
	"pulse_tracker/internal/infra/config"
	idb "pulse_tracker/internal/infra/database"
	"pulse_tracker/internal/infra/database/dbfake"
	"pulse_tracker/internal/infra/httpapi"
	"pulse_tracker/internal/infra/logger"
	"pulse_tracker/internal/infra/metrics"
	"pulse_tracker/internal/infra/scheduler"
	"pulse_tracker/internal/infra/telegram"
)

// storage bundles whichever backend STORE_DRIVER selected.
type storage struct {
	store     pulse.Store
	directory tenant.Directory
	societies tenant.SocietyRegistry
	db        *sql.DB // nil for the memory driver
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("FATAL: Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"environment":  cfg.Environment,
		"store_driver": cfg.StoreDriver,
		"cron_spec":    cfg.CronSpecReconcile,
		"workers":      cfg.SchedulerWorkers,
	}).Info("Section pulse tracker starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := quartz.NewReal()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewMetrics(registry)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not register metrics")
	}
	logHook, err := logger.NewCountingHook(registry)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not register log metrics")
	}
	logger.Log.AddHook(logHook)

	st, err := openStorage(ctx, cfg, clock, mainLogger)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not initialize storage")
	}
	if st.db != nil {
		defer st.db.Close()
	}

	base := logger.Get().WithField("service", "pulse_tracker")
	writer := app.NewPulseWriter(st.store, base, m)
	reconciler := app.NewPulseReconciler(st.store, st.societies, base, m)
	queries := app.NewPulseQueryService(st.directory, st.store, clock)

	pulseScheduler := scheduler.NewPulseScheduler(
		st.directory,
		reconciler,
		clock,
		base,
		m,
		cfg.CronSpecReconcile,
		cfg.SchedulerWorkers,
		cfg.DefaultTimezone,
	)

	if st.db != nil {
		pulseScheduler.SetTenantLocker(idb.NewPostgresTenantLocker(st.db, base))
	}

	var wg sync.WaitGroup

	if cfg.BotEnabled() {
		bot, err := newBot(cfg, mainLogger)
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
		adminService := app.NewAdminService(queries, pulseScheduler, cfg.AdminTelegramID)
		botLogger := logger.Component("telegram")
		telegram.RegisterBotCommands(bot, cfg.AdminTelegramID, botLogger)
		telegram.RegisterAdminHandlers(ctx, bot, adminService, cfg.AdminTelegramID, botLogger)
		telegram.RegisterSweepCallbackHandlers(ctx, bot, adminService)
		pulseScheduler.SetAlertNotifier(telegram.NewAdminAlerter(telegram.NewTelebotAdapter(bot), cfg.AdminTelegramID, botLogger))
		mainLogger.Info("Telegram admin bot handlers registered.")

		go bot.Start()
		defer bot.Stop()
	}

	if err := pulseScheduler.Start(ctx); err != nil {
		mainLogger.WithError(err).Fatal("Could not start pulse scheduler")
	}

	if cfg.CollectionFeedChannel != "" {
		if st.db == nil {
			mainLogger.Warn("COLLECTION_FEED_CHANNEL needs the postgres store driver, feed disabled")
		} else {
			feed := collectionfeed.NewListener(cfg.DatabaseURL, cfg.CollectionFeedChannel, st.directory, writer, clock, base, m)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := feed.Run(ctx); err != nil {
					mainLogger.WithError(err).Error("Collection feed stopped")
				}
			}()
		}
	}

	var server *httpapi.Server
	if cfg.HTTPAddr != "" {
		deps := httpapi.Deps{
			Queries:  queries,
			Writer:   writer,
			Sweeper:  pulseScheduler,
			Gatherer: registry,
		}
		if st.db != nil {
			deps.Ping = st.db.PingContext
		}
		server = httpapi.NewServer(deps, base)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Listen(cfg.HTTPAddr); err != nil {
				mainLogger.WithError(err).Error("HTTP API stopped")
			}
		}()
	}

	mainLogger.Info("Application setup complete.")
	<-ctx.Done()

	mainLogger.Info("Shutting down application...")
	pulseScheduler.Stop()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			mainLogger.WithError(err).Warn("HTTP API did not shut down cleanly")
		}
		cancel()
	}
	wg.Wait()
	mainLogger.Info("Application shut down gracefully.")
}

func openStorage(ctx context.Context, cfg *config.AppConfig, clock quartz.Clock, log *logrus.Entry) (storage, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		tenants := make([]tenant.Tenant, 0, len(cfg.MemoryTenants))
		for _, mt := range cfg.MemoryTenants {
			tenants = append(tenants, tenant.Tenant{Schema: tenant.SchemaRef(mt.Schema), Location: mt.Timezone})
		}
		dir := dbfake.NewDirectory(tenants...)
		log.WithField("tenants", len(tenants)).Warn("Using the in-memory store; pulses are lost on restart")
		return storage{store: dbfake.NewStore(clock), directory: dir, societies: dir}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	db, err := idb.NewPostgresConnection(connectCtx, cfg.DatabaseURL, idb.PoolConfig{
		MaxOpenConns: cfg.SchedulerWorkers*2 + 10,
	})
	if err != nil {
		return storage{}, err
	}
	log.Info("Database connection established successfully.")

	store := idb.NewPostgresPulseRepository(db)
	directory := idb.NewPostgresTenantDirectory(db, cfg.TenantRegistryTable, cfg.DefaultTimezone)
	tenants, err := directory.ListActive(connectCtx)
	if err != nil {
		db.Close()
		return storage{}, err
	}
	for _, t := range tenants {
		if err := store.EnsureTable(connectCtx, t.Schema); err != nil {
			if errors.Is(err, idb.ErrTenantSchemaNotFound) {
				log.WithField("tenant", t.String()).Warn("Registered tenant has no schema, it will fail until created")
				continue
			}
			db.Close()
			return storage{}, err
		}
	}
	log.WithField("tenants", len(tenants)).Info("Section pulse tables ready.")

	return storage{
		store:     store,
		directory: directory,
		societies: idb.NewPostgresSocietyRegistry(db),
		db:        db,
	}, nil
}

func newBot(cfg *config.AppConfig, log *logrus.Entry) (*telebot.Bot, error) {
	return telebot.NewBot(telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) { // Global error handler
			entry := log.WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithFields(logrus.Fields{
					"message":   c.Text(),
					"sender_id": c.Sender().ID,
					"chat_id":   c.Chat().ID,
				})
			}
			entry.Error("Telegram handler error")
		},
	})
}
