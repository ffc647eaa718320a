package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Selection is one company chosen on the selection screen.
type Selection struct {
	EventID          string
	SessionID        string
	CompanyID        string
	CompanyName      string
	ConnectionStatus string
	Mode             string
	SelectedAt       time.Time
}

// DB is the subset of pgxpool.Pool the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Repository stores company selections in company_selections.
type Repository struct {
	db DB
}

// NewRepository constructs a repository bound to the pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// NewRepositoryWithDB is used by tests to inject a fake connection.
func NewRepositoryWithDB(db DB) *Repository {
	return &Repository{db: db}
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS company_selections (
	event_id          UUID PRIMARY KEY,
	session_id        TEXT NOT NULL,
	company_id        TEXT NOT NULL DEFAULT '',
	company_name      TEXT NOT NULL,
	connection_status TEXT NOT NULL DEFAULT '',
	mode              TEXT NOT NULL,
	selected_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS company_selections_selected_at_idx ON company_selections (selected_at)`

// EnsureSchema creates the audit table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";\n") {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("audit: ensure schema: %w", err)
		}
	}
	return nil
}

// Record inserts a selection. Redelivered events are ignored.
func (r *Repository) Record(ctx context.Context, sel Selection) error {
	if sel.EventID == "" || sel.SessionID == "" || sel.CompanyName == "" {
		return errors.New("audit: selection requires event_id/session_id/company_name")
	}
	if sel.SelectedAt.IsZero() {
		sel.SelectedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `INSERT INTO company_selections (event_id, session_id, company_id, company_name, connection_status, mode, selected_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sel.EventID, sel.SessionID, sel.CompanyID, sel.CompanyName, sel.ConnectionStatus, sel.Mode, sel.SelectedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil
		}
		return fmt.Errorf("audit: record selection: %w", err)
	}
	return nil
}

// PruneBefore deletes selections older than cutoff and reports how many went.
func (r *Repository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM company_selections WHERE selected_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: prune selections: %w", err)
	}
	return tag.RowsAffected(), nil
}
