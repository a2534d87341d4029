package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/zaqqye/qr_backend_v1/internal/applog"
)

const (
	TypeLogsCleanup     = "logs:cleanup"
	TypeSessionsCleanup = "sessions:cleanup"
)

type logsCleanupPayload struct {
	OlderThanDays int    `json:"older_than_days"`
	RequestedBy   string `json:"requested_by,omitempty"`
}

func NewLogsCleanupTask(days int, requestedBy string) (*asynq.Task, error) {
	payload, err := json.Marshal(logsCleanupPayload{OlderThanDays: days, RequestedBy: requestedBy})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeLogsCleanup, payload, asynq.MaxRetry(3), asynq.Timeout(5*time.Minute)), nil
}

func NewSessionsCleanupTask() *asynq.Task {
	return asynq.NewTask(TypeSessionsCleanup, nil, asynq.MaxRetry(3), asynq.Timeout(5*time.Minute))
}

type Enqueuer struct {
	client *asynq.Client
	log    zerolog.Logger
}

func NewEnqueuer(redisOpt asynq.RedisConnOpt, log zerolog.Logger) *Enqueuer {
	return &Enqueuer{client: asynq.NewClient(redisOpt), log: log}
}

func (q *Enqueuer) Close() error {
	return q.client.Close()
}

func (q *Enqueuer) EnqueueLogsCleanup(ctx context.Context, days int, requestedBy string) (string, error) {
	task, err := NewLogsCleanupTask(days, requestedBy)
	if err != nil {
		return "", err
	}
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		q.log.Warn().Err(err).Int("older_than_days", days).Msg("enqueue logs cleanup failed")
		return "", err
	}
	return info.ID, nil
}

func (q *Enqueuer) EnqueueSessionsCleanup(ctx context.Context) (string, error) {
	info, err := q.client.EnqueueContext(ctx, NewSessionsCleanupTask())
	if err != nil {
		q.log.Warn().Err(err).Msg("enqueue sessions cleanup failed")
		return "", err
	}
	return info.ID, nil
}

// Handlers process cleanup tasks against the database.
type Handlers struct {
	DB     *gorm.DB
	Logger *applog.Logger
	Log    zerolog.Logger
	Now    func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handlers) HandleLogsCleanup(ctx context.Context, t *asynq.Task) error {
	var p logsCleanupPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.Log.Error().Err(err).Msg("logs cleanup task payload invalid")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if p.OlderThanDays < 1 {
		return fmt.Errorf("older_than_days must be positive: %w", asynq.SkipRetry)
	}
	deleted, err := CleanupLogs(ctx, h.DB, p.OlderThanDays, h.now())
	if err != nil {
		return err
	}
	h.Logger.Log(ctx, applog.Entry{
		Event:    applog.EventLogsCleanup,
		Message:  fmt.Sprintf("deleted %d log entries older than %d days", deleted, p.OlderThanDays),
		UserID:   p.RequestedBy,
		Metadata: map[string]any{"deleted": deleted, "older_than_days": p.OlderThanDays, "source": "worker"},
	})
	return nil
}

func (h *Handlers) HandleSessionsCleanup(ctx context.Context, t *asynq.Task) error {
	deleted, err := CleanupSessions(ctx, h.DB, h.now())
	if err != nil {
		return err
	}
	h.Logger.Log(ctx, applog.Entry{
		Event:    applog.EventSessionsCleanup,
		Message:  fmt.Sprintf("deleted %d expired or revoked sessions", deleted),
		Metadata: map[string]any{"deleted": deleted, "source": "worker"},
	})
	return nil
}

func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeLogsCleanup, h.HandleLogsCleanup)
	mux.HandleFunc(TypeSessionsCleanup, h.HandleSessionsCleanup)
}

// Worker runs the asynq server with the cleanup handlers.
type Worker struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

func NewWorker(redisOpt asynq.RedisConnOpt, h *Handlers) *Worker {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2,
		LogLevel:    asynq.WarnLevel,
	})
	mux := asynq.NewServeMux()
	h.Register(mux)
	return &Worker{srv: srv, mux: mux}
}

func (w *Worker) Start() error {
	return w.srv.Start(w.mux)
}

func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

// NewScheduler registers the daily log purge and the hourly session purge.
func NewScheduler(redisOpt asynq.RedisConnOpt, retentionDays int) (*asynq.Scheduler, error) {
	s := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC, LogLevel: asynq.WarnLevel})
	task, err := NewLogsCleanupTask(retentionDays, "")
	if err != nil {
		return nil, err
	}
	if _, err := s.Register("@daily", task); err != nil {
		return nil, fmt.Errorf("register logs cleanup: %w", err)
	}
	if _, err := s.Register("@hourly", NewSessionsCleanupTask()); err != nil {
		return nil, fmt.Errorf("register sessions cleanup: %w", err)
	}
	return s, nil
}
