package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"triage/api/internal/activity"
	"triage/api/internal/archive"
	"triage/api/internal/attendance"
	"triage/api/internal/auth"
	"triage/api/internal/conversation"
	"triage/api/internal/credential"
	"triage/api/internal/email"
	"triage/api/internal/export"
	"triage/api/internal/message"
	"triage/api/internal/metrics"
	"triage/api/internal/objectstore"
	"triage/api/internal/search"
	"triage/api/internal/session"
	"triage/api/internal/stats"
	"triage/api/internal/store"
	"triage/api/internal/syscheck"
	"triage/api/internal/tasks"
)

// runtime holds every wired service plus the resources to release on exit.
type runtime struct {
	db       *sql.DB
	store    *store.PostgresStore
	redis    *redis.Client
	metrics  *metrics.Metrics
	meili    *search.Meili
	minio    *objectstore.Minio
	enqueuer tasks.Enqueuer
	asynq    *tasks.AsynqClient

	exports       *export.Service
	archive       *archive.Service
	archiver      *objectstore.Archiver
	search        *search.Service
	activity      *activity.Aggregator
	sessions      *session.Manager
	credentials   *credential.Service
	conversations *conversation.Service
	messages      *message.Service
	attendances   *attendance.Service
	stats         *stats.Service
	checker       *syscheck.Checker
	tokens        *auth.Issuer
	handlers      tasks.Handlers
}

// openStore connects to Postgres. Commands that only need the database stop here.
func openStore(ctx context.Context, m *metrics.Metrics) (*sql.DB, *store.PostgresStore, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	var observer store.Observer
	if m != nil {
		observer = m
	}
	return db, store.NewPostgresStore(db, cfg.DBTimeout, observer), nil
}

func newExportService(pg *store.PostgresStore, m *metrics.Metrics) *export.Service {
	opts := []export.Option{export.WithPDFRenderer(export.NewChromeRenderer(cfg.ChromePath))}
	if m != nil {
		opts = append(opts, export.WithMetrics(m))
	}
	return export.NewService(pg, opts...)
}

func newSearch(db *sql.DB) (*search.Service, *search.Meili) {
	pgfts := search.NewPgFTS(db, cfg.DBTimeout)
	if strings.TrimSpace(cfg.MeiliURL) == "" {
		logger.Info("meilisearch not configured, using postgres full-text search")
		return search.NewService(nil, pgfts, pgfts, logger.Named("search")), nil
	}
	meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("meili"))
	return search.NewService(meili, pgfts, pgfts, logger.Named("search")), meili
}

func newMailer() *email.Service {
	return email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		AppName:  "Triage",
	}, logger.Named("email"))
}

// buildRuntime wires the full service graph. Redis, Meilisearch and MinIO are
// optional; each falls back to an in-process or disabled variant when unset.
func buildRuntime(ctx context.Context) (*runtime, error) {
	rt := &runtime{metrics: metrics.New(nil)}

	var err error
	rt.db, rt.store, err = openStore(ctx, rt.metrics)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rt.redis = redis.NewClient(opts)
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
	}

	rt.exports = newExportService(rt.store, rt.metrics)
	rt.search, rt.meili = newSearch(rt.db)

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		rt.Close()
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	rt.archive = archive.New(cfg.ArchiveDir, rt.exports, logger.Named("archive"))

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		rt.minio, err = objectstore.NewMinio(ctx, objectstore.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, logger.Named("objectstore"))
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.archiver = objectstore.NewArchiver(rt.minio, rt.exports, logger.Named("objectstore"))
	}

	rt.handlers = tasks.Handlers{
		Mailer:   newMailer(),
		Archive:  rt.archive,
		ResetURL: cfg.ResetURL,
		Logger:   logger.Named("tasks"),
	}
	if rt.redis != nil {
		rt.asynq, err = tasks.NewAsynqClient(cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.enqueuer = rt.asynq
	} else {
		rt.enqueuer = tasks.Inline{Handlers: rt.handlers}
	}
	dispatcher := tasks.NewDispatcher(rt.enqueuer, logger.Named("tasks"))

	var feed activity.Feed = activity.NewMemoryFeed()
	var snapshots session.SnapshotStore = session.NewMemorySnapshotStore()
	if rt.redis != nil {
		feed = activity.NewRedisFeed(rt.redis, "")
		snapshots = session.NewRedisSnapshotStoreWithClient(rt.redis, "")
	}
	rt.activity = activity.NewAggregator(rt.store, feed, cfg.ActivityLimit, logger.Named("activity"))

	policy, err := conversation.ParseReasonPolicy(cfg.RejectionReasonPolicy)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.sessions = session.NewManager(rt.store, snapshots,
		session.WithLogger(logger.Named("session")),
		session.WithRecorder(rt.activity),
	)
	rt.credentials = credential.NewService(rt.store,
		credential.WithNotifier(dispatcher),
		credential.WithRecorder(rt.activity),
		credential.WithLogger(logger.Named("credential")),
	)
	rt.conversations = conversation.NewService(rt.store, policy,
		conversation.WithRecorder(rt.activity),
		conversation.WithIndexer(rt.search),
		conversation.WithAuditor(dispatcher),
		conversation.WithMetrics(rt.metrics),
		conversation.WithLogger(logger.Named("conversation")),
	)
	rt.messages = message.NewService(rt.store,
		message.WithRecorder(rt.activity),
		message.WithIndexer(rt.search),
		message.WithMetrics(rt.metrics),
		message.WithLogger(logger.Named("message")),
	)
	rt.attendances = attendance.NewService(rt.store, logger.Named("attendance"))
	rt.stats = stats.NewService(rt.store)
	rt.tokens = auth.NewIssuer(cfg.JWTSecret, cfg.AccessTTL)

	rt.checker = syscheck.NewChecker(cfg.DBTimeout)
	rt.checker.AddDatabase(rt.store, store.ProbeTables())
	if rt.redis != nil {
		rt.checker.Add("redis", func(ctx context.Context) error { return rt.redis.Ping(ctx).Err() })
	}
	if rt.meili != nil {
		rt.checker.Add("search", func(context.Context) error {
			if !rt.meili.Healthy() {
				return errors.New("meilisearch unreachable")
			}
			return nil
		})
	}
	if rt.minio != nil {
		rt.checker.Add("object_storage", rt.minio.Ping)
	}
	return rt, nil
}

// Close waits for pending index writes and releases every connection.
func (rt *runtime) Close() {
	if rt.search != nil {
		rt.search.Wait()
	}
	if rt.meili != nil {
		rt.meili.Close()
	}
	if rt.asynq != nil {
		if err := rt.asynq.Close(); err != nil {
			logger.Warn("close asynq client", zap.Error(err))
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			logger.Warn("close redis", zap.Error(err))
		}
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			logger.Warn("close database", zap.Error(err))
		}
	}
}
