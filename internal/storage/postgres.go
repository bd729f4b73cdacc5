package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Postgres implements Store on top of PostgreSQL, with otelsql wrapping
// the driver so every query is traced.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres opens the database and waits for it to accept
// connections. The database may still be starting when the server
// boots, so the ping is retried until ctx is cancelled or the
// attempts are exhausted.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	db, err := otelsql.Open("postgres", url,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	for attempt := 1; attempt <= 30; attempt++ {
		err = db.PingContext(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			db.Close()
			return nil, ctx.Err()
		}
		slog.Info("Waiting for PostgreSQL", "attempt", attempt, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	slog.Info("Connected to PostgreSQL")
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// EnsureSchema creates the entity tables if they do not exist yet.
// Kind-specific fields live in a jsonb column; the relational schema
// proper is owned by the main application and out of scope here.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS rt_tasks (
	id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	workspace_id TEXT NOT NULL,
	project_id   TEXT NOT NULL,
	data         JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS rt_projects (
	id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	workspace_id TEXT NOT NULL,
	data         JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS rt_documents (
	id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	workspace_id TEXT NOT NULL,
	data         JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS rt_comments (
	id           UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	workspace_id TEXT NOT NULL,
	project_id   TEXT,
	document_id  TEXT,
	data         JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);`
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// CreateEntity inserts one row and returns it materialized.
func (p *Postgres) CreateEntity(ctx context.Context, kind EntityKind, ref Ref, fields json.RawMessage) (*Entity, error) {
	if fields == nil {
		fields = json.RawMessage(`{}`)
	}
	switch kind {
	case KindTask:
		row := p.db.QueryRowContext(ctx,
			`INSERT INTO rt_tasks (workspace_id, project_id, data)
			 VALUES ($1, $2, $3)
			 RETURNING id, workspace_id, project_id, data, updated_at`,
			ref.WorkspaceID, ref.ProjectID, fields)
		return scanTask(row)
	case KindProject:
		row := p.db.QueryRowContext(ctx,
			`INSERT INTO rt_projects (workspace_id, data)
			 VALUES ($1, $2)
			 RETURNING id, workspace_id, data, updated_at`,
			ref.WorkspaceID, fields)
		return scanPlain(row, KindProject)
	case KindDocument:
		row := p.db.QueryRowContext(ctx,
			`INSERT INTO rt_documents (workspace_id, data)
			 VALUES ($1, $2)
			 RETURNING id, workspace_id, data, updated_at`,
			ref.WorkspaceID, fields)
		return scanPlain(row, KindDocument)
	case KindComment:
		row := p.db.QueryRowContext(ctx,
			`INSERT INTO rt_comments (workspace_id, project_id, document_id, data)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, workspace_id, project_id, document_id, data, updated_at`,
			ref.WorkspaceID, nullableString(ref.ProjectID), nullableString(ref.DocumentID), fields)
		return scanComment(row)
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// UpdateEntity merges fields into the row's data (last writer wins per
// field) and returns the updated row.
func (p *Postgres) UpdateEntity(ctx context.Context, kind EntityKind, id string, fields json.RawMessage) (*Entity, error) {
	if fields == nil {
		fields = json.RawMessage(`{}`)
	}
	switch kind {
	case KindTask:
		row := p.db.QueryRowContext(ctx,
			`UPDATE rt_tasks SET data = data || $2, updated_at = now()
			 WHERE id = $1
			 RETURNING id, workspace_id, project_id, data, updated_at`,
			id, fields)
		return scanTask(row)
	case KindProject:
		row := p.db.QueryRowContext(ctx,
			`UPDATE rt_projects SET data = data || $2, updated_at = now()
			 WHERE id = $1
			 RETURNING id, workspace_id, data, updated_at`,
			id, fields)
		return scanPlain(row, KindProject)
	case KindDocument:
		row := p.db.QueryRowContext(ctx,
			`UPDATE rt_documents SET data = data || $2, updated_at = now()
			 WHERE id = $1
			 RETURNING id, workspace_id, data, updated_at`,
			id, fields)
		return scanPlain(row, KindDocument)
	case KindComment:
		row := p.db.QueryRowContext(ctx,
			`UPDATE rt_comments SET data = data || $2, updated_at = now()
			 WHERE id = $1
			 RETURNING id, workspace_id, project_id, document_id, data, updated_at`,
			id, fields)
		return scanComment(row)
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// DeleteEntity removes the row and returns its final state, so the
// broadcast can tell other clients exactly what disappeared.
func (p *Postgres) DeleteEntity(ctx context.Context, kind EntityKind, id string) (*Entity, error) {
	switch kind {
	case KindTask:
		row := p.db.QueryRowContext(ctx,
			`DELETE FROM rt_tasks WHERE id = $1
			 RETURNING id, workspace_id, project_id, data, updated_at`,
			id)
		return scanTask(row)
	case KindComment:
		row := p.db.QueryRowContext(ctx,
			`DELETE FROM rt_comments WHERE id = $1
			 RETURNING id, workspace_id, project_id, document_id, data, updated_at`,
			id)
		return scanComment(row)
	default:
		return nil, fmt.Errorf("delete not supported for entity kind %q", kind)
	}
}

func scanTask(row *sql.Row) (*Entity, error) {
	e := &Entity{Kind: KindTask}
	err := row.Scan(&e.ID, &e.WorkspaceID, &e.ProjectID, &e.Data, &e.UpdatedAt)
	return checkScan(e, err)
}

func scanPlain(row *sql.Row, kind EntityKind) (*Entity, error) {
	e := &Entity{Kind: kind}
	err := row.Scan(&e.ID, &e.WorkspaceID, &e.Data, &e.UpdatedAt)
	if kind == KindDocument && err == nil {
		e.DocumentID = e.ID
	}
	if kind == KindProject && err == nil {
		e.ProjectID = e.ID
	}
	return checkScan(e, err)
}

func scanComment(row *sql.Row) (*Entity, error) {
	e := &Entity{Kind: KindComment}
	var projectID, documentID sql.NullString
	err := row.Scan(&e.ID, &e.WorkspaceID, &projectID, &documentID, &e.Data, &e.UpdatedAt)
	if err == nil {
		e.ProjectID = projectID.String
		e.DocumentID = documentID.String
	}
	return checkScan(e, err)
}

func checkScan(e *Entity, err error) (*Entity, error) {
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("entity write failed: %w", err)
	}
	return e, nil
}
