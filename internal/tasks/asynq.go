package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// AsynqClient enqueues tasks into Redis.
type AsynqClient struct {
	client *asynq.Client
}

func NewAsynqClient(redisURL string) (*AsynqClient, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse REDIS_URL: %w", err)
	}
	return &AsynqClient{client: asynq.NewClient(opt)}, nil
}

func NewAsynqClientWithOpt(opt asynq.RedisConnOpt) *AsynqClient {
	return &AsynqClient{client: asynq.NewClient(opt)}
}

func (a *AsynqClient) Enqueue(ctx context.Context, taskType string, payload []byte) error {
	if taskType == "" {
		return errors.New("asynq: task type is required")
	}
	_, err := a.client.EnqueueContext(ctx, asynq.NewTask(taskType, payload), optionsFor(taskType)...)
	return err
}

func (a *AsynqClient) Close() error {
	return a.client.Close()
}

func optionsFor(taskType string) []asynq.Option {
	switch taskType {
	case TypePasswordReset:
		// The payload carries the plaintext reset token. Completed tasks are
		// deleted at once and exhausted ones are discarded by settle.
		return []asynq.Option{asynq.Queue(QueueCritical), asynq.MaxRetry(5), asynq.Timeout(30 * time.Second), asynq.Retention(0)}
	case TypeDecisionArchive:
		return []asynq.Option{asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(time.Minute)}
	default:
		return []asynq.Option{asynq.Queue(QueueDefault)}
	}
}

// Server runs registered handlers against the Redis queues.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewServer(redisURL string, concurrency int, h Handlers, logger *zap.Logger) (*Server, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse REDIS_URL: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueCritical: 6, QueueDefault: 3},
		Logger:      logger.Named("asynq").Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})

	mux := asynq.NewServeMux()
	for _, taskType := range []string{TypePasswordReset, TypeDecisionArchive} {
		mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
			err := h.Handle(ctx, t.Type(), t.Payload())
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			return settle(t.Type(), err, retried, maxRetry, logger)
		})
	}
	return &Server{server: srv, mux: mux}, nil
}

// settle decides what asynq does with a finished attempt. A reset email that
// fails its last attempt is dropped instead of archived, so its token does not
// sit in Redis.
func settle(taskType string, err error, retried, maxRetry int, logger *zap.Logger) error {
	if err == nil || taskType != TypePasswordReset || retried < maxRetry {
		return err
	}
	logger.Error("reset email undeliverable, discarding task",
		zap.Int("attempts", retried+1), zap.Error(err))
	return nil
}

// Run starts the server and blocks until ctx is canceled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}
