// Package history persists facts about matches that live outside any
// single Game's lifetime: a durable record of completed matches in
// Postgres, and a best-effort "this match is still live" heartbeat in
// Redis. Both are optional; a server run without either configured gets
// no-op implementations and is otherwise unaffected.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"example.com/curling-match-server/internal/curling"
)

// MatchSummary is the row Recorder writes once a match ends.
type MatchSummary struct {
	MatchID    string        `json:"match_id"`
	LaunchTime time.Time     `json:"launch_time"`
	FinishTime time.Time     `json:"finish_time"`
	Winner     *curling.Team `json:"winner,omitempty"`
	Score0     int           `json:"score0"`
	Score1     int           `json:"score1"`
	Ends       int           `json:"ends"`
}

// Recorder persists a MatchSummary once a match reaches game_over.
type Recorder interface {
	RecordMatch(ctx context.Context, summary MatchSummary) error
}

// Registry tracks which matches are currently in progress, so an operator
// (or a future matchmaking front-end) can see live occupancy without
// reading every server's log.
type Registry interface {
	MarkLive(ctx context.Context, matchID string, state LiveState) error
	MarkFinished(ctx context.Context, matchID string) error
}

// LiveState is the heartbeat payload Registry.MarkLive stores, refreshed
// on every update delivered to either peer.
type LiveState struct {
	CurrentEnd uint8 `json:"current_end"`
	Shot       uint8 `json:"shot"`
}

// NoopRecorder discards every summary. It is the default when no
// Postgres DSN is configured.
type NoopRecorder struct{}

func (NoopRecorder) RecordMatch(context.Context, MatchSummary) error { return nil }

// NoopRegistry discards every heartbeat. It is the default when no Redis
// address is configured.
type NoopRegistry struct{}

func (NoopRegistry) MarkLive(context.Context, string, LiveState) error { return nil }
func (NoopRegistry) MarkFinished(context.Context, string) error        { return nil }

// PostgresRecorder writes one row per completed match to the matches
// table (see migrations/).
type PostgresRecorder struct {
	db *pgxpool.Pool
}

func NewPostgresRecorder(db *pgxpool.Pool) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

func (r *PostgresRecorder) RecordMatch(ctx context.Context, summary MatchSummary) error {
	var winner *int
	if summary.Winner != nil {
		w := int(*summary.Winner)
		winner = &w
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO matches (match_id, launch_time, finish_time, winner, score0, score1, ends)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (match_id) DO UPDATE SET
			finish_time = EXCLUDED.finish_time,
			winner      = EXCLUDED.winner,
			score0      = EXCLUDED.score0,
			score1      = EXCLUDED.score1,
			ends        = EXCLUDED.ends
	`, summary.MatchID, summary.LaunchTime, summary.FinishTime, winner, summary.Score0, summary.Score1, summary.Ends)
	if err != nil {
		return fmt.Errorf("history: record match %s: %w", summary.MatchID, err)
	}
	return nil
}

// RedisRegistry keys a live-match heartbeat as match:<id>:status with a
// TTL, so a crashed server's matches age out instead of lingering
// forever.
type RedisRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisRegistry(rdb *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{rdb: rdb, ttl: ttl}
}

func (r *RedisRegistry) key(matchID string) string {
	return fmt.Sprintf("match:%s:status", matchID)
}

func (r *RedisRegistry) MarkLive(ctx context.Context, matchID string, state LiveState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.key(matchID), b, r.ttl).Err()
}

func (r *RedisRegistry) MarkFinished(ctx context.Context, matchID string) error {
	return r.rdb.Del(ctx, r.key(matchID)).Err()
}
