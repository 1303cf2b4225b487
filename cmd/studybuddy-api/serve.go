package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/studybuddy/internal/access"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/ai"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/auth"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/comments"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/config"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/database"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/events"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/ids"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/logging"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/notes"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/plans"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/presence"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/progress"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/reminders"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/server"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/sharing"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/stats"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/study"
	"github.com/MarcoPoloResearchLab/studybuddy/internal/users"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// resources bundles the configuration, logger and database every command opens.
type resources struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
	close  func()
}

func openResources() (*resources, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(logging.Options{Level: appConfig.LogLevel, File: appConfig.LogFile})
	if err != nil {
		return nil, err
	}

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	return &resources{
		config: appConfig,
		logger: logger,
		db:     db,
		close: func() {
			_ = sqlDB.Close()
			_ = logger.Sync()
		},
	}, nil
}

func openPresenceStore(ctx context.Context, rt *resources) (presence.Store, func(), error) {
	if rt.config.PresenceBackend == config.PresenceRedis {
		store, err := presence.NewRedisStore(ctx, rt.config.PresenceRedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
	store, err := presence.NewGormStore(rt.db)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

func runServer(ctx context.Context) error {
	rt, err := openResources()
	if err != nil {
		return err
	}
	defer rt.close()
	appConfig := rt.config
	logger := rt.logger
	db := rt.db

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver, err := access.NewResolver(db)
	if err != nil {
		return err
	}
	idProvider := ids.NewUUIDProvider()
	bus := events.NewBus(logging.NewWatermillAdapter(logger))
	defer bus.Close() //nolint:errcheck

	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	noteService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Access:     resolver,
		Activity:   bus,
		DeleteCascades: []notes.CascadeFunc{
			sharing.DeleteForNote,
			comments.DeleteForNote,
			presence.DeleteForNote,
			reminders.DetachNote,
			study.DeleteForNote,
			plans.DeleteForNote,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	sharingService, err := sharing.NewService(sharing.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Access:     resolver,
		Directory:  userService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	presenceStore, closePresence, err := openPresenceStore(signalCtx, rt)
	if err != nil {
		return err
	}
	defer closePresence()
	presenceService, err := presence.NewService(presence.ServiceConfig{
		Store:     presenceStore,
		Access:    resolver,
		Directory: userService,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	commentService, err := comments.NewService(comments.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Access:     resolver,
		Directory:  userService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	progressService, err := progress.NewService(progress.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	aiClient := ai.NewClient(ai.Config{
		BaseURL: appConfig.AIBaseURL,
		APIKey:  appConfig.AIAPIKey,
		Model:   appConfig.AIModel,
		Timeout: appConfig.AITimeout,
		Logger:  logger,
	})
	if !aiClient.Configured() {
		logger.Warn("ai.api_key is empty; AI study features will answer 503")
	}
	studyService, err := study.NewService(study.ServiceConfig{
		Database:   db,
		AI:         aiClient,
		Notes:      noteService,
		Access:     resolver,
		IDProvider: idProvider,
		Progress:   progressService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	reminderService, err := reminders.NewService(reminders.ServiceConfig{
		Database:   db,
		Access:     resolver,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	planService, err := plans.NewService(plans.ServiceConfig{
		Database:   db,
		Access:     resolver,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	statsService, err := stats.NewService(stats.ServiceConfig{
		Notes:  noteService,
		Plans:  planService,
		Mentor: studyService,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.AuthCookieName,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessionValidator,
		Users:          userService,
		Notes:          noteService,
		Sharing:        sharingService,
		Presence:       presenceService,
		Comments:       commentService,
		Progress:       progressService,
		Study:          studyService,
		Reminders:      reminderService,
		Plans:          planService,
		Stats:          statsService,
		Realtime:       server.NewRealtimeDispatcher(),
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	activity, err := bus.Subscribe(signalCtx, events.TopicNoteActivity)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		return presence.NewSweeper(presenceService, appConfig.PresenceSweepInterval, logger).Run(groupCtx)
	})
	group.Go(func() error {
		return progress.NewSubscriber(progressService, logger).Run(groupCtx, activity)
	})
	return group.Wait()
}
