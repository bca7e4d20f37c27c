// Package repository provides PostgreSQL-backed persistence for combo rules,
// combo packages and API keys. Writes publish a NOTIFY on a configurable
// channel so the service layer can drop its cached rule list without waiting
// for the TTL.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultNotifyChannel = "combo_rule_events"

	EventTypeRuleUpserted    = "rule_upserted"
	EventTypeRuleDeactivated = "rule_deactivated"
	EventTypePackageUpserted = "package_upserted"
)

// PostgresRepository implements rule, package and API key persistence backed
// by a pgxpool connection pool.
type PostgresRepository struct {
	pool          *pgxpool.Pool
	notifyChannel string
	listeners     atomic.Int32
}

// NewPostgresRepository creates a [PostgresRepository] using the default
// "combo_rule_events" notification channel.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return NewPostgresRepositoryWithChannel(pool, defaultNotifyChannel)
}

// NewPostgresRepositoryWithChannel creates a [PostgresRepository] that
// publishes and listens on the given LISTEN/NOTIFY channel.
func NewPostgresRepositoryWithChannel(pool *pgxpool.Pool, notifyChannel string) *PostgresRepository {
	return &PostgresRepository{
		pool:          pool,
		notifyChannel: normalizeNotifyChannel(notifyChannel),
	}
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Listening reports whether at least one invalidation listener currently
// holds a connection with LISTEN active.
func (r *PostgresRepository) Listening() bool {
	return r.listeners.Load() > 0
}

// SubscribeRuleInvalidation returns a channel that receives a signal whenever
// a rule or package change notification arrives. The channel is closed when
// ctx is done.
func (r *PostgresRepository) SubscribeRuleInvalidation(ctx context.Context) (<-chan struct{}, error) {
	invalidations := make(chan struct{}, 1)

	go r.runInvalidationListener(ctx, invalidations)

	return invalidations, nil
}

func (r *PostgresRepository) runInvalidationListener(ctx context.Context, invalidations chan<- struct{}) {
	defer close(invalidations)

	for {
		err := r.listenForInvalidation(ctx, invalidations)
		if err == nil || ctx.Err() != nil {
			return
		}

		retryTimer := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			retryTimer.Stop()
			return
		case <-retryTimer.C:
		}
	}
}

func (r *PostgresRepository) listenForInvalidation(ctx context.Context, invalidations chan<- struct{}) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, listenStatement(r.notifyChannel)); err != nil {
		return fmt.Errorf("listen on %q: %w", r.notifyChannel, err)
	}
	r.listeners.Add(1)
	defer r.listeners.Add(-1)

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return fmt.Errorf("wait for rule notification: %w", err)
		}

		select {
		case invalidations <- struct{}{}:
		default:
		}
	}
}

// notify sends a change notification inside tx so listeners only hear about
// committed writes.
func (r *PostgresRepository) notify(ctx context.Context, tx pgx.Tx, eventType, id string) error {
	payload, err := marshalNotifyPayload(eventType, id)
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, r.notifyChannel, payload); err != nil {
		return fmt.Errorf("notify %s: %w", eventType, err)
	}

	return nil
}

func normalizeNotifyChannel(channel string) string {
	if trimmed := strings.TrimSpace(channel); trimmed != "" {
		return trimmed
	}

	return defaultNotifyChannel
}

func ensureJSON(input json.RawMessage, fallback string) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage(fallback)
	}

	return input
}

func ensureStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func listenStatement(channel string) string {
	return fmt.Sprintf("LISTEN %s", pgx.Identifier{channel}.Sanitize())
}

func marshalNotifyPayload(eventType, id string) (string, error) {
	serialized, err := json.Marshal(struct {
		EventType string `json:"event_type"`
		ID        string `json:"id"`
	}{
		EventType: eventType,
		ID:        id,
	})
	if err != nil {
		return "", err
	}

	return string(serialized), nil
}
