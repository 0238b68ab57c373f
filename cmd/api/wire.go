package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/afero"

	"docflow/internal/app"
	"docflow/internal/autocheck"
	"docflow/internal/config"
	"docflow/internal/directory"
	"docflow/internal/events"
	"docflow/internal/gitrepo"
	"docflow/internal/locker"
	"docflow/internal/notify"
	"docflow/internal/publish"
	"docflow/internal/redisconn"
	"docflow/internal/search"
	"docflow/internal/store"
)

// buildDeps connects every configured backend. Optional backends that are
// not configured fall back to in-process implementations.
func buildDeps(ctx context.Context, cfg config.Config) (app.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (app.Deps, func(), error) {
		cleanup()
		return app.Deps{}, func() {}, err
	}
	fs := afero.NewOsFs()

	var dataStore store.Store
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("database connection failed: %w", err))
		}
		closers = append(closers, func() { _ = db.Close() })
		applied, err := store.ApplyMigrations(ctx, db, fs, cfg.MigrationsDir)
		if err != nil {
			return fail(fmt.Errorf("migrations failed: %w", err))
		}
		if len(applied) > 0 {
			log.Printf("applied migrations %v", applied)
		}
		dataStore = store.NewPostgresStore(db)
	} else {
		log.Printf("DATABASE_URL not set, using in-memory store")
		dataStore = store.NewMemoryStore()
	}

	var actors *directory.Static
	if strings.TrimSpace(cfg.DirectoryFile) != "" {
		loaded, err := directory.LoadFile(fs, cfg.DirectoryFile, cfg.DefaultRole)
		if err != nil {
			return fail(err)
		}
		actors = loaded
	} else {
		actors = directory.NewStatic(cfg.DefaultRole)
	}

	sinks := events.Multi{events.LogSink{}}
	var entityLocker locker.Locker = locker.NewLocal()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := redisconn.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("redis connection failed: %w", err))
		}
		closers = append(closers, func() { _ = client.Close() })
		entityLocker = locker.NewRedis(client, cfg.LockTTL)
		sinks = append(sinks, events.NewRedisStream(client, cfg.EventStream, int64(cfg.EventStreamMaxLen)))
		log.Printf("using redis for entity locks and event stream %s", cfg.EventStream)
	}

	var archive app.Archive
	if strings.TrimSpace(cfg.ReposDir) != "" {
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			return fail(fmt.Errorf("create repos dir: %w", err))
		}
		archive = gitrepo.New(cfg.ReposDir)
	}

	var publisher publish.Publisher
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioPublisher, err := publish.NewMinio(ctx, publish.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Secure:    cfg.MinioSecure,
		})
		if err != nil {
			return fail(err)
		}
		publisher = minioPublisher
	}

	var checker autocheck.Checker = autocheck.NewHeuristic()
	if strings.TrimSpace(cfg.AutoCheckURL) != "" {
		checker = autocheck.NewHTTPChecker(cfg.AutoCheckURL, cfg.AutoCheckTimeout)
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meili, dataStore)
	closers = append(closers, searchService.Close)
	if err := searchService.ReindexAll(ctx); err != nil {
		log.Printf("search: initial reindex failed: %v", err)
	}
	sinks = append(sinks, searchService)

	mailer := notify.NewMailer(notify.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.Configured() {
		notifier := notify.New(actors, mailer)
		closers = append(closers, notifier.Close)
		sinks = append(sinks, notifier)
		log.Printf("mailing notifications via %s", cfg.SMTPHost)
	}

	return app.Deps{
		Store:     dataStore,
		Directory: actors,
		Locker:    entityLocker,
		Checker:   checker,
		Archive:   archive,
		Publisher: publisher,
		Events:    sinks,
		Search:    searchService,
		LockWait:  cfg.LockWait,
	}, cleanup, nil
}
