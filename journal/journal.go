package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jackc/pgx/v5"

	"github.com/toncenter/jetton-lockup/models"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

var ErrInvalidRequest = errors.New("invalid claims request")

var kinds = mapset.NewSet("initialized", "claimed", "rolled_back", "bounce_ignored")

const schemaSQL = `CREATE TABLE IF NOT EXISTS lockup_events (
	lockup varchar NOT NULL,
	seqno bigint NOT NULL,
	kind varchar NOT NULL,
	query_id numeric(20, 0) NOT NULL,
	transfer_id numeric(20, 0) NOT NULL DEFAULT 0,
	amount numeric NOT NULL,
	at bigint NOT NULL,
	recorded_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (lockup, seqno, kind)
);
CREATE INDEX IF NOT EXISTS lockup_events_kind_idx ON lockup_events (lockup, kind, seqno);`

// Journal is the durable log of lockup events kept next to the redis state.
type Journal struct {
	db      *DbClient
	timeout time.Duration
}

func New(db *DbClient, timeout time.Duration) *Journal {
	return &Journal{db: db, timeout: timeout}
}

func (j *Journal) EnsureSchema(ctx context.Context) error {
	_, err := j.db.Pool.Exec(ctx, schemaSQL)
	return err
}

// Record writes all records in one transaction. Records already present are skipped.
func (j *Journal) Record(ctx context.Context, records []models.ClaimRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	tx, err := j.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`INSERT INTO lockup_events (lockup, seqno, kind, query_id, transfer_id, amount, at)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7) ON CONFLICT DO NOTHING`,
			rec.Lockup, int64(rec.Seqno), rec.Kind, fmt.Sprint(rec.QueryID), fmt.Sprint(rec.TransferID), rec.Amount, int64(rec.At))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type ClaimsRequest struct {
	Lockup string
	Kinds  []string
	Limit  *int32
	Offset *int32
}

func (j *Journal) Claims(ctx context.Context, req ClaimsRequest) ([]models.ClaimRecord, error) {
	query, args, err := buildClaimsQuery(req)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	rows, err := j.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []models.ClaimRecord{}
	for rows.Next() {
		var rec models.ClaimRecord
		var seqno, at int64
		var queryID, transferID string
		if err := rows.Scan(&rec.Lockup, &seqno, &rec.Kind, &queryID, &transferID, &rec.Amount, &at); err != nil {
			return nil, err
		}
		if _, err := fmt.Sscan(queryID, &rec.QueryID); err != nil {
			return nil, fmt.Errorf("query_id %q: %w", queryID, err)
		}
		if _, err := fmt.Sscan(transferID, &rec.TransferID); err != nil {
			return nil, fmt.Errorf("transfer_id %q: %w", transferID, err)
		}
		rec.Seqno = uint64(seqno)
		rec.At = uint32(at)
		res = append(res, rec)
	}
	return res, rows.Err()
}

func buildClaimsQuery(req ClaimsRequest) (string, []any, error) {
	if req.Lockup == "" {
		return "", nil, fmt.Errorf("%w: lockup is required", ErrInvalidRequest)
	}
	args := []any{req.Lockup}
	filters := []string{"lockup = $1"}

	if len(req.Kinds) > 0 {
		for _, k := range req.Kinds {
			if !kinds.Contains(k) {
				return "", nil, fmt.Errorf("%w: unknown event kind %q", ErrInvalidRequest, k)
			}
		}
		args = append(args, req.Kinds)
		filters = append(filters, fmt.Sprintf("kind = any($%d)", len(args)))
	}

	limit := int32(DefaultLimit)
	if req.Limit != nil {
		limit = max(1, *req.Limit)
		if limit > MaxLimit {
			return "", nil, fmt.Errorf("%w: limit is not allowed: %d > %d", ErrInvalidRequest, limit, MaxLimit)
		}
	}

	query := `SELECT lockup, seqno, kind, query_id::text, transfer_id::text, amount::text, at FROM lockup_events`
	query += ` WHERE ` + strings.Join(filters, " AND ")
	query += ` ORDER BY seqno ASC, kind ASC`
	query += fmt.Sprintf(" limit %d", limit)
	if req.Offset != nil {
		query += fmt.Sprintf(" offset %d", max(0, *req.Offset))
	}
	return query, args, nil
}
