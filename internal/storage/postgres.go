package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/arashbot/gateway/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) GetTenant(ctx context.Context, id int64) (*models.Tenant, error) {
	query := `
		SELECT id, identifier, title, access_tier, rate_limit, max_history,
		       default_model, available_models, allow_model_switch,
		       daily_quota, monthly_quota, is_active, created_at, updated_at
		FROM tenants
		WHERE id = $1`

	return s.scanTenant(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStorage) GetTenantByIdentifier(ctx context.Context, identifier string) (*models.Tenant, error) {
	query := `
		SELECT id, identifier, title, access_tier, rate_limit, max_history,
		       default_model, available_models, allow_model_switch,
		       daily_quota, monthly_quota, is_active, created_at, updated_at
		FROM tenants
		WHERE identifier = $1`

	return s.scanTenant(s.db.QueryRowContext(ctx, query, identifier))
}

func (s *PostgresStorage) scanTenant(row *sql.Row) (*models.Tenant, error) {
	tenant := &models.Tenant{}
	var (
		rateLimit       sql.NullInt64
		maxHistory      sql.NullInt64
		defaultModel    sql.NullString
		availableModels sql.NullString
		allowSwitch     sql.NullBool
		dailyQuota      sql.NullInt64
		monthlyQuota    sql.NullInt64
	)

	err := row.Scan(
		&tenant.ID,
		&tenant.Identifier,
		&tenant.Title,
		&tenant.AccessTier,
		&rateLimit,
		&maxHistory,
		&defaultModel,
		&availableModels,
		&allowSwitch,
		&dailyQuota,
		&monthlyQuota,
		&tenant.IsActive,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning tenant: %w", err)
	}

	tenant.RateLimit = nullableInt(rateLimit)
	tenant.MaxHistory = nullableInt(maxHistory)
	tenant.DefaultModel = nullableString(defaultModel)
	tenant.AvailableModels = nullableString(availableModels)
	tenant.AllowModelSwitch = nullableBool(allowSwitch)
	tenant.DailyQuota = nullableInt(dailyQuota)
	tenant.MonthlyQuota = nullableInt(monthlyQuota)

	return tenant, nil
}

func (s *PostgresStorage) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	query := `
		INSERT INTO tenants (identifier, title, access_tier, rate_limit, max_history,
		                     default_model, available_models, allow_model_switch,
		                     daily_quota, monthly_quota, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRowContext(
		ctx,
		query,
		tenant.Identifier,
		tenant.Title,
		tenant.AccessTier,
		tenant.RateLimit,
		tenant.MaxHistory,
		tenant.DefaultModel,
		tenant.AvailableModels,
		tenant.AllowModelSwitch,
		tenant.DailyQuota,
		tenant.MonthlyQuota,
		tenant.IsActive,
	).Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)

	if err != nil {
		return fmt.Errorf("error creating tenant: %w", err)
	}

	return nil
}

func (s *PostgresStorage) GetAPIKey(ctx context.Context, id int64) (*models.APIKey, error) {
	query := `
		SELECT id, key_hash, key_prefix, name, tenant_id, daily_quota, monthly_quota,
		       is_active, created_at, last_used_at, expires_at
		FROM api_keys
		WHERE id = $1`

	return s.scanAPIKey(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStorage) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	query := `
		SELECT id, key_hash, key_prefix, name, tenant_id, daily_quota, monthly_quota,
		       is_active, created_at, last_used_at, expires_at
		FROM api_keys
		WHERE key_hash = $1`

	return s.scanAPIKey(s.db.QueryRowContext(ctx, query, keyHash))
}

func (s *PostgresStorage) scanAPIKey(row *sql.Row) (*models.APIKey, error) {
	key := &models.APIKey{}
	var (
		dailyQuota   sql.NullInt64
		monthlyQuota sql.NullInt64
		lastUsedAt   sql.NullTime
		expiresAt    sql.NullTime
	)

	err := row.Scan(
		&key.ID,
		&key.KeyHash,
		&key.KeyPrefix,
		&key.Name,
		&key.TenantID,
		&dailyQuota,
		&monthlyQuota,
		&key.IsActive,
		&key.CreatedAt,
		&lastUsedAt,
		&expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning api key: %w", err)
	}

	key.DailyQuota = nullableInt(dailyQuota)
	key.MonthlyQuota = nullableInt(monthlyQuota)
	key.LastUsedAt = nullableTime(lastUsedAt)
	key.ExpiresAt = nullableTime(expiresAt)

	return key, nil
}

func (s *PostgresStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	query := `
		INSERT INTO api_keys (key_hash, key_prefix, name, tenant_id, daily_quota,
		                      monthly_quota, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := s.db.QueryRowContext(
		ctx,
		query,
		key.KeyHash,
		key.KeyPrefix,
		key.Name,
		key.TenantID,
		key.DailyQuota,
		key.MonthlyQuota,
		key.IsActive,
		key.ExpiresAt,
	).Scan(&key.ID, &key.CreatedAt)

	if err != nil {
		return fmt.Errorf("error creating api key: %w", err)
	}

	return nil
}

func (s *PostgresStorage) SetAPIKeyActive(ctx context.Context, id int64, active bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE api_keys SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("error updating api key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) TouchAPIKey(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at, id); err != nil {
		return fmt.Errorf("error touching api key: %w", err)
	}
	return nil
}

// IS NOT DISTINCT FROM treats NULL = NULL as a match, so the untenanted
// public platform and tenant id 0 filter correctly.
func (s *PostgresStorage) CountMessages(ctx context.Context, platform, userID string, tenantID *int64) (int, error) {
	query := `
		SELECT COUNT(id)
		FROM messages
		WHERE platform = $1 AND user_id = $2 AND tenant_id IS NOT DISTINCT FROM $3`

	var count int
	if err := s.db.QueryRowContext(ctx, query, platform, userID, tenantID).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting messages: %w", err)
	}

	return count, nil
}

func (s *PostgresStorage) LoadUnclearedMessages(ctx context.Context, platform, userID string, tenantID *int64) ([]*models.Message, error) {
	query := `
		SELECT id, tenant_id, api_key_id, platform, user_id, role, content, cleared_at, created_at
		FROM messages
		WHERE platform = $1 AND user_id = $2 AND tenant_id IS NOT DISTINCT FROM $3
		      AND cleared_at IS NULL
		ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, platform, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var (
			msgTenantID sql.NullInt64
			apiKeyID    sql.NullInt64
			clearedAt   sql.NullTime
		)
		err := rows.Scan(
			&msg.ID,
			&msgTenantID,
			&apiKeyID,
			&msg.Platform,
			&msg.UserID,
			&msg.Role,
			&msg.Content,
			&clearedAt,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		msg.TenantID = nullableInt64(msgTenantID)
		msg.APIKeyID = nullableInt64(apiKeyID)
		msg.ClearedAt = nullableTime(clearedAt)
		msgs = append(msgs, msg)
	}

	return msgs, rows.Err()
}

func (s *PostgresStorage) AppendMessages(ctx context.Context, msgs []*models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO messages (tenant_id, api_key_id, platform, user_id, role, content)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	for _, msg := range msgs {
		err := tx.QueryRowContext(
			ctx,
			query,
			msg.TenantID,
			msg.APIKeyID,
			msg.Platform,
			msg.UserID,
			msg.Role,
			msg.Content,
		).Scan(&msg.ID, &msg.CreatedAt)
		if err != nil {
			return fmt.Errorf("error inserting message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing messages: %w", err)
	}

	return nil
}

func (s *PostgresStorage) MarkCleared(ctx context.Context, platform, userID string, tenantID *int64, at time.Time) error {
	query := `
		UPDATE messages
		SET cleared_at = $4
		WHERE platform = $1 AND user_id = $2 AND tenant_id IS NOT DISTINCT FROM $3
		      AND cleared_at IS NULL`

	if _, err := s.db.ExecContext(ctx, query, platform, userID, tenantID, at); err != nil {
		return fmt.Errorf("error marking messages cleared: %w", err)
	}

	return nil
}

func (s *PostgresStorage) CountSuccessfulUsage(ctx context.Context, apiKeyID int64, since time.Time) (int, error) {
	query := `
		SELECT COUNT(id)
		FROM usage_records
		WHERE api_key_id = $1 AND timestamp >= $2 AND success`

	var count int
	if err := s.db.QueryRowContext(ctx, query, apiKeyID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("error counting usage: %w", err)
	}

	return count, nil
}

func (s *PostgresStorage) InsertUsageRecord(ctx context.Context, rec *models.UsageRecord) error {
	query := `
		INSERT INTO usage_records (request_id, api_key_id, tenant_id, session_id, platform,
		                           model, success, response_time_ms, tokens_used,
		                           estimated_cost, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, timestamp`

	err := s.db.QueryRowContext(
		ctx,
		query,
		rec.RequestID,
		rec.APIKeyID,
		rec.TenantID,
		rec.SessionID,
		rec.Platform,
		rec.Model,
		rec.Success,
		rec.ResponseTimeMs,
		rec.TokensUsed,
		rec.EstimatedCost,
		rec.ErrorMessage,
	).Scan(&rec.ID, &rec.Timestamp)

	if err != nil {
		return fmt.Errorf("error inserting usage record: %w", err)
	}

	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullableInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullableBool(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}

func nullableTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
