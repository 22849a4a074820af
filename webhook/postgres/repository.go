package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/marcelsud/webhook-dispatch/webhook"
)

/* PostgreSQL implementation of webhook.Store
 * One row per finished delivery, upserted by id
 * Listing is served by an index on created_at
 */

//go:embed migrations/*.sql
var migrations embed.FS

type Repository struct {
	DB *sql.DB
}

const columns = `id, webhook_url, event, payload, headers, attempt, max_retries, status,
		status_code, response_time_ms, error_message, delivered_at, created_at, user_id, source_user_id`

// NewRepository creates a repository with the default pool (25, 5, 5 min)
func NewRepository(connectionString string) (*Repository, error) {
	return NewRepositoryWithPoolConfig(connectionString, 25, 5, 5)
}

// NewRepositoryWithPoolConfig creates a repository with a custom pool.
// A zero value keeps the database/sql default for that setting.
func NewRepositoryWithPoolConfig(connectionString string, maxOpenConns, maxIdleConns, maxLifeMinutes int) (*Repository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
	if maxLifeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(maxLifeMinutes) * time.Minute)
	}

	return &Repository{DB: db}, nil
}

// Migrate applies the embedded schema migrations that are not yet recorded
// in schema_migrations. It runs on a dedicated connection so closing the
// migrator leaves the pool open.
func (r *Repository) Migrate(ctx context.Context) error {
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("opening migrations source: %w", err)
	}

	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring migration connection: %w", err)
	}

	driver, err := migratepg.WithConnection(ctx, conn, &migratepg.Config{})
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		driver.Close()
		return fmt.Errorf("initializing migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// SaveResult inserts a finished delivery, replacing a previous row with the same id
func (r *Repository) SaveResult(ctx context.Context, d webhook.Delivery) error {
	body, err := d.Payload.Bytes()
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	headers := d.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("marshaling headers: %w", err)
	}

	var deliveredAt sql.NullTime
	if d.DeliveredAt != nil {
		deliveredAt = sql.NullTime{Time: *d.DeliveredAt, Valid: true}
	}

	query := `
		INSERT INTO webhook_deliveries (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			attempt = EXCLUDED.attempt,
			status = EXCLUDED.status,
			status_code = EXCLUDED.status_code,
			response_time_ms = EXCLUDED.response_time_ms,
			error_message = EXCLUDED.error_message,
			delivered_at = EXCLUDED.delivered_at
	`

	_, err = r.DB.ExecContext(ctx, query,
		d.ID,
		d.WebhookURL,
		d.Event,
		string(body),
		string(headersJSON),
		d.Attempt,
		d.MaxRetries,
		d.Status.String(),
		d.StatusCode,
		d.ResponseTime.Milliseconds(),
		d.ErrorMessage,
		deliveredAt,
		d.CreatedAt,
		d.UserID,
		d.SourceUserID,
	)
	if err != nil {
		return fmt.Errorf("storing delivery: %w", err)
	}

	return nil
}

// ListSince returns deliveries created at or after since, oldest first
func (r *Repository) ListSince(ctx context.Context, since time.Time) ([]webhook.Delivery, error) {
	query := `SELECT ` + columns + ` FROM webhook_deliveries WHERE created_at >= $1 ORDER BY created_at`

	rows, err := r.DB.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("selecting deliveries: %w", err)
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

// ListRecent returns up to limit deliveries, newest first
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]webhook.Delivery, error) {
	query := `SELECT ` + columns + ` FROM webhook_deliveries ORDER BY created_at DESC LIMIT $1`

	rows, err := r.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting recent deliveries: %w", err)
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

// Purge deletes delivered rows created before deliveredBefore and every
// other row created before failedBefore
func (r *Repository) Purge(ctx context.Context, deliveredBefore, failedBefore time.Time) (int64, error) {
	query := `
		DELETE FROM webhook_deliveries
		WHERE (status = 'delivered' AND created_at < $1)
		   OR (status <> 'delivered' AND created_at < $2)
	`

	result, err := r.DB.ExecContext(ctx, query, deliveredBefore, failedBefore)
	if err != nil {
		return 0, fmt.Errorf("purging deliveries: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

// Close closes the database connection
func (r *Repository) Close(ctx context.Context) error {
	if r.DB != nil {
		return r.DB.Close()
	}
	return nil
}

func scanDeliveries(rows *sql.Rows) ([]webhook.Delivery, error) {
	deliveries := []webhook.Delivery{}

	for rows.Next() {
		var (
			d              webhook.Delivery
			body, headers  []byte
			status         string
			responseTimeMs int64
			deliveredAt    sql.NullTime
		)

		err := rows.Scan(
			&d.ID,
			&d.WebhookURL,
			&d.Event,
			&body,
			&headers,
			&d.Attempt,
			&d.MaxRetries,
			&status,
			&d.StatusCode,
			&responseTimeMs,
			&d.ErrorMessage,
			&deliveredAt,
			&d.CreatedAt,
			&d.UserID,
			&d.SourceUserID,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}

		if err := json.Unmarshal(body, &d.Payload); err != nil {
			return nil, fmt.Errorf("unmarshaling payload of %s: %w", d.ID, err)
		}
		if err := json.Unmarshal(headers, &d.Headers); err != nil {
			return nil, fmt.Errorf("unmarshaling headers of %s: %w", d.ID, err)
		}

		if d.Status, err = webhook.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("scanning delivery %s: %w", d.ID, err)
		}
		d.ResponseTime = time.Duration(responseTimeMs) * time.Millisecond
		if deliveredAt.Valid {
			t := deliveredAt.Time
			d.DeliveredAt = &t
		}

		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deliveries: %w", err)
	}

	return deliveries, nil
}
