// Package leaderelection picks the one instance that runs the scheduler and
// the ledger auditor, using a Postgres session-scoped advisory lock.
//
// The lock lives as long as the dedicated connection holding it; there is
// no TTL or renewal. If the connection dies Postgres releases the lock
// server-side. The heartbeat ping only detects local connection death so
// the leader stops ticking promptly.
//
// Two leaders can briefly overlap after a network partition. The delivery
// ledger's per-day uniqueness keeps that from producing duplicate sends.
package leaderelection

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// Reasons passed to MetricsSink.LeaderLost.
const (
	LostShutdown = "shutdown"
	LostConn     = "conn_lost"
)

// DefaultLockKey is the advisory lock shared by all briefd instances.
const DefaultLockKey int64 = 0x62726566

// MetricsSink records leader transitions. Methods must not block.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Locker is the dedicated session holding the lock. *sql.Conn satisfies it.
type Locker interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PingContext(ctx context.Context) error
	Close() error
}

// ConnFunc opens a dedicated session.
type ConnFunc func(ctx context.Context) (Locker, error)

type Elector struct {
	conn              ConnFunc
	tryLock           func(ctx context.Context, l Locker, key int64) (bool, error)
	lockKey           int64
	retryInterval     time.Duration
	heartbeatInterval time.Duration
	onElected         func(ctx context.Context)
	onDemoted         func()
	metrics           MetricsSink
	logger            *zap.Logger
}

// New creates an Elector over db.
//
// onElected runs in a new goroutine when the lock is acquired; its context
// is cancelled when leadership ends. onDemoted runs synchronously after
// that and must block until leader duties have stopped. It must be
// idempotent.
func New(
	db *sql.DB,
	lockKey int64,
	retryInterval, heartbeatInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
	logger *zap.Logger,
) *Elector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Elector{
		conn: func(ctx context.Context) (Locker, error) {
			return db.Conn(ctx)
		},
		tryLock:           tryAdvisoryLock,
		lockKey:           lockKey,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
		logger:            logger,
	}
}

func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run contends for the lock until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	e.logger.Info("leader: starting election loop",
		zap.Int64("lock_key", e.lockKey),
		zap.Duration("retry", e.retryInterval),
		zap.Duration("heartbeat", e.heartbeatInterval))

	for ctx.Err() == nil {
		if reason := e.runOnce(ctx); reason != "" && ctx.Err() == nil {
			e.logger.Warn("leader: lost leadership",
				zap.String("reason", reason),
				zap.Duration("retry_in", e.retryInterval))
		}

		select {
		case <-ctx.Done():
		case <-time.After(e.retryInterval):
		}
	}
	e.logger.Info("leader: election loop stopped")
}

// runOnce tries the lock and holds it while the session lives. It returns
// why leadership ended, or "" when the lock was never acquired.
func (e *Elector) runOnce(ctx context.Context) string {
	conn, err := e.conn(ctx)
	if err != nil {
		e.logger.Warn("leader: dedicated connection failed", zap.Error(err))
		return ""
	}
	defer conn.Close()

	acquired, err := e.tryLock(ctx, conn, e.lockKey)
	if err != nil {
		e.logger.Warn("leader: advisory lock query failed", zap.Error(err))
		return ""
	}
	if !acquired {
		e.logger.Debug("leader: lock held by another instance", zap.Int64("lock_key", e.lockKey))
		return ""
	}

	e.logger.Info("leader: acquired lock", zap.Int64("lock_key", e.lockKey))
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancel := context.WithCancel(ctx)
	go e.onElected(leaderCtx)

	reason := e.hold(ctx, conn)

	cancel()
	e.onDemoted()

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}
	e.logger.Info("leader: released lock", zap.Int64("lock_key", e.lockKey), zap.String("reason", reason))
	return reason
}

func (e *Elector) hold(ctx context.Context, conn Locker) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return LostShutdown
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return LostShutdown
				}
				e.logger.Error("leader: heartbeat failed", zap.Error(err))
				return LostConn
			}
		}
	}
}

func tryAdvisoryLock(ctx context.Context, l Locker, key int64) (bool, error) {
	var acquired bool
	err := l.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired)
	return acquired, err
}
