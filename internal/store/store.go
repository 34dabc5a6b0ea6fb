package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/balwinderxcode-ai/activity-tracker/internal/analytics"
	"github.com/balwinderxcode-ai/activity-tracker/internal/logger"
	"github.com/balwinderxcode-ai/activity-tracker/internal/session"
)

// Config 数据库配置
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	// MaxRetryElapsed 单次写入的重试总时长上限
	MaxRetryElapsed time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		DBName:          "activity_tracker",
		SSLMode:         "disable",
		MaxRetryElapsed: 30 * time.Second,
	}
}

// SessionStore 会话持久化存储。核心引擎不做任何I/O，
// 定稿的会话与汇总由这里异步写入PostgreSQL，写失败按指数退避重试。
type SessionStore struct {
	pool *pgxpool.Pool
	cfg  *Config
}

// Connect 连接PostgreSQL并创建连接池
func Connect(ctx context.Context, cfg *Config) (*SessionStore, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// 连接池参数
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.LogSuccess("store", "PostgreSQL连接池创建成功", nil)
	return &SessionStore{pool: pool, cfg: cfg}, nil
}

// Close 关闭连接池
func (s *SessionStore) Close() {
	s.pool.Close()
}

// EnsureSchema 建表，幂等
func (s *SessionStore) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS sim_sessions (
			id          TEXT PRIMARY KEY,
			run_id      TEXT NOT NULL,
			start_time  TIMESTAMPTZ NOT NULL,
			end_time    TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL,
			raw_events  JSONB NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sim_session_summaries (
			session_id     TEXT PRIMARY KEY REFERENCES sim_sessions(id),
			run_id         TEXT NOT NULL,
			total_events   BIGINT NOT NULL,
			active_time_ms BIGINT NOT NULL,
			idle_time_ms   BIGINT NOT NULL,
			paused_time_ms BIGINT NOT NULL,
			event_counts   JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sim_run_summaries (
			run_id               TEXT PRIMARY KEY,
			session_count        INT NOT NULL,
			total_events         BIGINT NOT NULL,
			total_active_time_ms BIGINT NOT NULL,
			total_idle_time_ms   BIGINT NOT NULL,
			total_paused_time_ms BIGINT NOT NULL,
			avg_session_ms       BIGINT NOT NULL,
			summary              JSONB NOT NULL,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sim_sessions_run ON sim_sessions(run_id)`,
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// withRetry 指数退避重试，上下文取消时停止
func (s *SessionStore) withRetry(ctx context.Context, op string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = s.cfg.MaxRetryElapsed

	err := backoff.Retry(func() error {
		if err := fn(); err != nil {
			logger.LogWarning("store", fmt.Sprintf("%s失败，将重试: %v", op, err), nil)
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return fmt.Errorf("%s failed after retries: %w", op, err)
	}
	return nil
}

// SaveSession 写入一个定稿会话及其汇总
func (s *SessionStore) SaveSession(ctx context.Context, runID string, sess *session.Session, sum *analytics.SessionSummary) error {
	if sess.EndTime == nil {
		return fmt.Errorf("session %s is not finalized", sess.ID)
	}
	raw, err := sess.ExportJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", sess.ID, err)
	}
	counts, err := marshalCounts(sum)
	if err != nil {
		return err
	}

	return s.withRetry(ctx, "写入会话", func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx,
			`INSERT INTO sim_sessions (id, run_id, start_time, end_time, duration_ms, raw_events)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO NOTHING`,
			sess.ID, runID, sess.StartTime, *sess.EndTime, sess.Duration().Milliseconds(), raw,
		); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO sim_session_summaries
			 (session_id, run_id, total_events, active_time_ms, idle_time_ms, paused_time_ms, event_counts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (session_id) DO NOTHING`,
			sess.ID, runID, sum.TotalEvents,
			sum.ActiveTime.Milliseconds(), sum.IdleTime.Milliseconds(), sum.PausedTime.Milliseconds(),
			counts,
		); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

// SaveRunSummary 写入整次运行的汇总
func (s *SessionStore) SaveRunSummary(ctx context.Context, sum *analytics.RunSummary) error {
	raw, err := sum.ExportJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	return s.withRetry(ctx, "写入运行汇总", func() error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO sim_run_summaries
			 (run_id, session_count, total_events, total_active_time_ms,
			  total_idle_time_ms, total_paused_time_ms, avg_session_ms, summary)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (run_id) DO UPDATE SET
			   session_count = EXCLUDED.session_count,
			   total_events = EXCLUDED.total_events,
			   total_active_time_ms = EXCLUDED.total_active_time_ms,
			   total_idle_time_ms = EXCLUDED.total_idle_time_ms,
			   total_paused_time_ms = EXCLUDED.total_paused_time_ms,
			   avg_session_ms = EXCLUDED.avg_session_ms,
			   summary = EXCLUDED.summary`,
			sum.RunID, sum.SessionCount, sum.TotalEvents,
			sum.TotalActiveTime.Milliseconds(), sum.TotalIdleTime.Milliseconds(),
			sum.TotalPausedTime.Milliseconds(), sum.AverageSessionLength.Milliseconds(), raw,
		)
		return err
	})
}

// marshalCounts 事件计数转JSON
func marshalCounts(sum *analytics.SessionSummary) ([]byte, error) {
	data, err := json.Marshal(sum.EventCounts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event counts: %w", err)
	}
	return data, nil
}
