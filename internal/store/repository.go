package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldledger/fieldledger/internal/config"
	"github.com/fieldledger/fieldledger/internal/entity"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Repository handles database operations for entity profiles and
// occurrence history.
type Repository struct {
	db     *sql.DB
	cfg    config.DatabaseConfig
	logger *slog.Logger
}

// OccurrenceUpdate is the atomic merge applied to a profile for one
// resolved occurrence. Counters and the variant set are merged inside
// the database, never read-modify-written.
type OccurrenceUpdate struct {
	Variants   []string
	Attributes map[string]string
	Category   string
	LastSeen   time.Time
	Quantity   float64
}

const profileColumns = `
	id, kind, canonical_name, name_variants, COALESCE(attributes, '{}'::jsonb),
	COALESCE(category, ''), first_seen, last_seen, occurrence_count,
	total_quantity, status, created_at, updated_at`

// NewRepository creates a new database repository
func NewRepository(cfg config.DatabaseConfig, logger *slog.Logger) (*Repository, error) {
	db, err := sql.Open("postgres", fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSLMode,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections / 2)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{
		db:     db,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping reports store connectivity for health checks.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Migrate runs database migrations
func (r *Repository) Migrate() error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(r.cfg.MigrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	r.logger.Info("Database migrations completed successfully")
	return nil
}

// CreateProfile inserts a new profile, conditional on no active profile
// existing for the same (kind, canonical name). A concurrent creator
// that loses the race gets entity.ErrConflict and must re-resolve
// against the winner.
func (r *Repository) CreateProfile(ctx context.Context, p *entity.Profile) error {
	attrs, err := marshalAttributes(p.Attributes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO entities (
			id, kind, canonical_name, name_variants, attributes, category,
			first_seen, last_seen, occurrence_count, total_quantity,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (kind, canonical_name) WHERE status = 'active' DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.Kind,
		p.CanonicalName,
		pq.Array(p.NameVariants),
		attrs,
		nullableString(p.Category),
		p.FirstSeen,
		p.LastSeen,
		p.OccurrenceCount,
		p.TotalQuantity,
		p.Status,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("create %s %q: %w", p.Kind, p.CanonicalName, entity.ErrConflict)
	}

	return nil
}

// GetProfile retrieves a profile by ID.
func (r *Repository) GetProfile(ctx context.Context, id uuid.UUID) (*entity.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM entities WHERE id = $1`

	p, err := scanProfile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, entity.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return p, nil
}

// GetProfileByCanonicalName performs the exact-key lookup. Inactive
// profiles are still reachable here; when both an inactive and an
// active profile carry the name, the active one wins.
func (r *Repository) GetProfileByCanonicalName(ctx context.Context, kind entity.Kind, canonicalName string) (*entity.Profile, error) {
	query := `SELECT ` + profileColumns + `
		FROM entities
		WHERE kind = $1 AND canonical_name = $2
		ORDER BY (status = 'active') DESC, created_at ASC
		LIMIT 1`

	p, err := scanProfile(r.db.QueryRowContext(ctx, query, kind, canonicalName))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, entity.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile by canonical name: %w", err)
	}

	return p, nil
}

// ListActiveProfiles returns the active population of a kind for the
// fuzzy-match pass. A non-empty category narrows vendor scans when
// category-scoped matching is configured.
func (r *Repository) ListActiveProfiles(ctx context.Context, kind entity.Kind, category string) ([]*entity.Profile, error) {
	var (
		query string
		args  []interface{}
	)

	if category != "" {
		query = `SELECT ` + profileColumns + `
			FROM entities
			WHERE kind = $1 AND status = 'active' AND category = $2
			ORDER BY canonical_name ASC`
		args = []interface{}{kind, category}
	} else {
		query = `SELECT ` + profileColumns + `
			FROM entities
			WHERE kind = $1 AND status = 'active'
			ORDER BY canonical_name ASC`
		args = []interface{}{kind}
	}

	return r.queryProfiles(ctx, query, args...)
}

// ListProfiles lists profiles of a kind with pagination.
func (r *Repository) ListProfiles(ctx context.Context, kind entity.Kind, status string, limit, offset int) ([]*entity.Profile, error) {
	var (
		query string
		args  []interface{}
	)

	if status != "" {
		query = `SELECT ` + profileColumns + `
			FROM entities
			WHERE kind = $1 AND status = $2
			ORDER BY created_at DESC
			LIMIT $3 OFFSET $4`
		args = []interface{}{kind, status, limit, offset}
	} else {
		query = `SELECT ` + profileColumns + `
			FROM entities
			WHERE kind = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3`
		args = []interface{}{kind, limit, offset}
	}

	return r.queryProfiles(ctx, query, args...)
}

// ApplyOccurrence merges one resolved occurrence into an existing
// profile as a single atomic statement: variants are unioned, counters
// incremented, attributes merged latest-wins. last_seen is
// last-write-wins by contract, not max-wins.
func (r *Repository) ApplyOccurrence(ctx context.Context, id uuid.UUID, upd OccurrenceUpdate) error {
	attrs, err := marshalAttributes(upd.Attributes)
	if err != nil {
		return err
	}

	query := `
		UPDATE entities SET
			name_variants = ARRAY(
				SELECT DISTINCT v FROM unnest(name_variants || $2::text[]) AS v
			),
			attributes = COALESCE(attributes, '{}'::jsonb) || $3::jsonb,
			category = COALESCE(NULLIF($4, ''), category),
			last_seen = $5,
			occurrence_count = occurrence_count + 1,
			total_quantity = total_quantity + $6,
			updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query,
		id,
		pq.Array(upd.Variants),
		attrs,
		upd.Category,
		upd.LastSeen,
		upd.Quantity,
	)
	if err != nil {
		return fmt.Errorf("failed to apply occurrence: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return entity.ErrNotFound
	}

	return nil
}

// SetProfileStatus flips a profile between active and inactive.
func (r *Repository) SetProfileStatus(ctx context.Context, id uuid.UUID, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE entities SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("failed to set profile status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return entity.ErrNotFound
	}

	return nil
}

// AppendOccurrence writes one immutable history record. The
// (entity_id, occurrence_id) key makes retries idempotent: a replayed
// append of the same occurrence is a no-op, never a duplicate.
func (r *Repository) AppendOccurrence(ctx context.Context, o *entity.Occurrence) error {
	attrs, err := marshalAttributes(o.Attributes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO occurrences (
			entity_id, occurrence_id, report_id, occurrence_date,
			raw_name, go_by_name, attributes, quantity, notes, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (entity_id, occurrence_id) DO NOTHING`

	_, err = r.db.ExecContext(ctx, query,
		o.EntityID,
		o.OccurrenceID,
		o.ReportID,
		o.OccurrenceDate,
		o.RawName,
		o.GoByName,
		attrs,
		o.Quantity,
		o.Notes,
		o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append occurrence: %w", err)
	}

	return nil
}

// ListOccurrences returns the history trail for an entity, newest
// first.
func (r *Repository) ListOccurrences(ctx context.Context, entityID uuid.UUID) ([]*entity.Occurrence, error) {
	query := `
		SELECT entity_id, occurrence_id, report_id, occurrence_date,
			   raw_name, COALESCE(go_by_name, ''),
			   COALESCE(attributes, '{}'::jsonb), quantity,
			   COALESCE(notes, ''), created_at
		FROM occurrences
		WHERE entity_id = $1
		ORDER BY occurrence_date DESC, occurrence_id DESC`

	rows, err := r.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list occurrences: %w", err)
	}
	defer rows.Close()

	var occurrences []*entity.Occurrence
	for rows.Next() {
		o := &entity.Occurrence{}
		var attrs []byte

		err := rows.Scan(
			&o.EntityID,
			&o.OccurrenceID,
			&o.ReportID,
			&o.OccurrenceDate,
			&o.RawName,
			&o.GoByName,
			&attrs,
			&o.Quantity,
			&o.Notes,
			&o.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan occurrence: %w", err)
		}

		if err := json.Unmarshal(attrs, &o.Attributes); err != nil {
			return nil, fmt.Errorf("failed to decode occurrence attributes: %w", err)
		}

		occurrences = append(occurrences, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating occurrences: %w", err)
	}

	return occurrences, nil
}

func (r *Repository) queryProfiles(ctx context.Context, query string, args ...interface{}) ([]*entity.Profile, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*entity.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}

	return profiles, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (*entity.Profile, error) {
	p := &entity.Profile{}
	var attrs []byte

	err := row.Scan(
		&p.ID,
		&p.Kind,
		&p.CanonicalName,
		pq.Array(&p.NameVariants),
		&attrs,
		&p.Category,
		&p.FirstSeen,
		&p.LastSeen,
		&p.OccurrenceCount,
		&p.TotalQuantity,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(attrs, &p.Attributes); err != nil {
		return nil, fmt.Errorf("failed to decode profile attributes: %w", err)
	}

	return p, nil
}

func marshalAttributes(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attributes: %w", err)
	}
	return data, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
