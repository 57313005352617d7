package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, owner_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.OwnerID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Products ---

func (s *PostgresStore) CreateProduct(ctx context.Context, p *models.Product) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO products (id, owner_id, name, brand, category, sizes, colors, main_image_url, model_image_url, tune_record_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.OwnerID, p.Name, p.Brand, string(p.Category), p.Sizes, p.Colors, p.MainImageURL,
		p.ModelImageURL, p.TuneRecordID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var p models.Product
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, brand, category, sizes, colors, main_image_url, model_image_url, tune_record_id, created_at, updated_at
		 FROM products WHERE id = $1`, id,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Brand, &p.Category, &p.Sizes, &p.Colors, &p.MainImageURL,
		&p.ModelImageURL, &p.TuneRecordID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) SetProductTuneRecord(ctx context.Context, productID, recordID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET tune_record_id = $2, updated_at = NOW() WHERE id = $1`, productID, recordID)
	if err != nil {
		return fmt.Errorf("set product tune record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Tuning Records ---

const recordColumns = `id, owner_id, kind, title, name, status, product_id, base_tune_id,
	external_job_id, external_token, trained_at, expires_at, created_at, updated_at`

func scanRecord(row pgx.Row) (*models.TuningRecord, error) {
	var r models.TuningRecord
	err := row.Scan(&r.ID, &r.OwnerID, &r.Kind, &r.Title, &r.Name, &r.Status, &r.ProductID, &r.BaseTuneID,
		&r.ExternalJobID, &r.ExternalToken, &r.TrainedAt, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateRecord(ctx context.Context, rec *models.TuningRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tuning_records (id, owner_id, kind, title, name, status, product_id, base_tune_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.OwnerID, string(rec.Kind), rec.Title, rec.Name, string(rec.Status),
		rec.ProductID, rec.BaseTuneID, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id uuid.UUID) (*models.TuningRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM tuning_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) GetRecordsByTitle(ctx context.Context, title string) ([]*models.TuningRecord, error) {
	return s.queryRecords(ctx, "get records by title",
		`SELECT `+recordColumns+` FROM tuning_records WHERE title = $1`, title)
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]*models.TuningRecord, int, error) {
	filter, offset := filter.Normalize()

	conditions := []string{"owner_id = $1"}
	args := []any{filter.OwnerID}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM tuning_records WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	query := fmt.Sprintf(`SELECT `+recordColumns+` FROM tuning_records WHERE %s
		 ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	records, err := s.queryRecords(ctx, "list records", query, append(args, filter.Limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (s *PostgresStore) queryRecords(ctx context.Context, op, query string, args ...any) ([]*models.TuningRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	records := []*models.TuningRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) UpdateRecordStatus(ctx context.Context, id uuid.UUID, expected, next models.Status, upd models.RecordUpdate) (*models.TuningRecord, error) {
	if !ValidTransition(expected, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expected, next)
	}

	// The WHERE clause is the compare half of compare-and-set: a concurrent
	// writer that already moved the record leaves zero rows to update.
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`UPDATE tuning_records SET
		   status = $3,
		   updated_at = $4,
		   external_job_id = COALESCE(external_job_id, $5),
		   external_token = COALESCE($6, external_token),
		   trained_at = COALESCE($7, trained_at),
		   expires_at = COALESCE($8, expires_at)
		 WHERE id = $1 AND status = $2
		   AND ($5::text IS NULL OR external_job_id IS NULL OR external_job_id = $5)
		 RETURNING `+recordColumns,
		id, string(expected), string(next), time.Now().UTC(),
		upd.ExternalJobID, upd.ExternalToken, upd.TrainedAt, upd.ExpiresAt))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update record status: %w", err)
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM tuning_records WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record status: %w", err)
	}
	return nil, fmt.Errorf("%w: expected %s, found %s", ErrStatusMismatch, expected, current)
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tuning_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Images ---

func (s *PostgresStore) ListImages(ctx context.Context, recordID uuid.UUID) ([]*models.Image, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, record_id, url, object_name, role, position, created_at
		 FROM record_images WHERE record_id = $1 ORDER BY position`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	images := []*models.Image{}
	for rows.Next() {
		var img models.Image
		if err := rows.Scan(&img.ID, &img.RecordID, &img.URL, &img.ObjectName, &img.Role,
			&img.Position, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, &img)
	}
	return images, rows.Err()
}

func (s *PostgresStore) AddImage(ctx context.Context, img *models.Image) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO record_images (id, record_id, url, object_name, role, position, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		img.ID, img.RecordID, img.URL, img.ObjectName, img.Role, img.Position, img.CreatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("add image: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveImages(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM record_images WHERE id = ANY($1::uuid[])`, strIDs)
	if err != nil {
		return fmt.Errorf("remove images: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}
