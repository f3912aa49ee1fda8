package resultstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pingsantohq/pptpagent/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS pptp_probe_results (
    id           BIGSERIAL PRIMARY KEY,
    agent_id     TEXT NOT NULL,
    target_id    TEXT NOT NULL,
    observed_at  TIMESTAMPTZ NOT NULL,
    host         TEXT NOT NULL,
    port         INTEGER NOT NULL,
    login        TEXT NOT NULL,
    success      BOOLEAN NOT NULL,
    outcome      TEXT NOT NULL,
    auth_tested  BOOLEAN NOT NULL,
    elapsed_ms   DOUBLE PRECISION NOT NULL,
    packet_loss  DOUBLE PRECISION NOT NULL,
    start_result INTEGER,
    call_result  INTEGER,
    message      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS pptp_probe_results_target_idx
    ON pptp_probe_results (target_id, observed_at DESC);
`

const insertResult = `
INSERT INTO pptp_probe_results (
    agent_id, target_id, observed_at, host, port, login, success, outcome,
    auth_tested, elapsed_ms, packet_loss, start_result, call_result, message
) VALUES (
    @agent_id, @target_id, @observed_at, @host, @port, @login, @success, @outcome,
    @auth_tested, @elapsed_ms, @packet_loss, @start_result, @call_result, @message
);
`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink appends every probe result to a PostgreSQL table.
type PostgresSink struct {
	db      execer
	pool    *pgxpool.Pool
	agentID string
}

// NewPostgresSink connects to PostgreSQL and makes sure the results table
// exists.
func NewPostgresSink(ctx context.Context, connString, agentID string) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	sink := &PostgresSink{db: pool, pool: pool, agentID: agentID}
	if err := sink.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return sink, nil
}

func (p *PostgresSink) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create results schema: %w", err)
	}
	return nil
}

func (p *PostgresSink) Send(ctx context.Context, results []types.ProbeResult) error {
	for _, res := range results {
		if _, err := p.db.Exec(ctx, insertResult, p.args(res)); err != nil {
			return fmt.Errorf("insert result %s: %w", res.TargetID, err)
		}
	}
	return nil
}

func (p *PostgresSink) args(res types.ProbeResult) pgx.NamedArgs {
	return pgx.NamedArgs{
		"agent_id":     p.agentID,
		"target_id":    res.TargetID,
		"observed_at":  res.Timestamp,
		"host":         res.Host,
		"port":         res.Port,
		"login":        res.Login,
		"success":      res.Success,
		"outcome":      res.Outcome,
		"auth_tested":  res.AuthTested,
		"elapsed_ms":   res.ElapsedMs,
		"packet_loss":  res.PacketLoss,
		"start_result": nullCode(res.StartResult),
		"call_result":  nullCode(res.CallResult),
		"message":      res.Message,
	}
}

// Result codes are -1 when the reply never arrived.
func nullCode(code int) *int {
	if code < 0 {
		return nil
	}
	return &code
}

func (p *PostgresSink) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}
