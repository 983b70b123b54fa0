package database

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/dgpt/llm-gateway/internal/shared/models"
)

type DB struct {
	conn *sql.DB
}

// New creates a new database connection.
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// ValidateAPIKey retrieves an API key by its raw bearer value. Lifecycle
// state and expiry are checked by the caller.
func (db *DB) ValidateAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error) {
	hash := sha256.Sum256([]byte(rawKey))
	secretHash := hex.EncodeToString(hash[:])

	query := `
		SELECT id, name, key_id, secret_hash, project_id, state, limit_in_cent, expires_at, created_at
		FROM api_key
		WHERE secret_hash = $1
	`

	var (
		apiKey    models.APIKey
		expiresAt sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx, query, secretHash).Scan(
		&apiKey.ID,
		&apiKey.Name,
		&apiKey.KeyID,
		&apiKey.SecretHash,
		&apiKey.ProjectID,
		&apiKey.State,
		&apiKey.LimitInCent,
		&expiresAt,
		&apiKey.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invalid API key")
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if expiresAt.Valid {
		apiKey.ExpiresAt = &expiresAt.Time
	}

	return &apiKey, nil
}

// UpdateAPIKeyLastUsed updates the last_used_at timestamp.
func (db *DB) UpdateAPIKeyLastUsed(ctx context.Context, apiKeyID string) error {
	query := `UPDATE api_key SET last_used_at = NOW() WHERE id = $1`
	_, err := db.conn.ExecContext(ctx, query, apiKeyID)
	return err
}

const modelColumns = `
	m.id, m.provider, m.name, m.display_name, m.description,
	m.settings, m.price_metadata, m.organization_id,
	m.supported_image_formats, m.additional_parameters,
	m.is_new, m.is_deleted, m.created_at
`

// ModelsByAPIKeyID returns the models an API key is permitted to use, in
// catalog order (created_at, id). That order is the documented tie-break
// when two permitted models share a name.
func (db *DB) ModelsByAPIKeyID(ctx context.Context, apiKeyID string) ([]models.Model, error) {
	query := `
		SELECT ` + modelColumns + `
		FROM llm_model m
		INNER JOIN llm_model_api_key_mapping mapping ON mapping.llm_model_id = m.id
		WHERE mapping.api_key_id = $1 AND m.is_deleted = false
		ORDER BY m.created_at, m.id
	`

	rows, err := db.conn.QueryContext(ctx, query, apiKeyID)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	return scanModels(rows)
}

// ModelsByIDs returns the models with the given ids. Missing ids are simply
// absent from the result.
func (db *DB) ModelsByIDs(ctx context.Context, modelIDs []string) ([]models.Model, error) {
	if len(modelIDs) < 1 {
		return nil, nil
	}

	query := `
		SELECT ` + modelColumns + `
		FROM llm_model m
		WHERE m.id = ANY($1)
	`

	rows, err := db.conn.QueryContext(ctx, query, pq.Array(modelIDs))
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	return scanModels(rows)
}

func scanModels(rows *sql.Rows) ([]models.Model, error) {
	var result []models.Model
	for rows.Next() {
		var (
			m            models.Model
			settings     []byte
			price        []byte
			imageFormats []byte
			params       []byte
		)
		if err := rows.Scan(
			&m.ID,
			&m.Provider,
			&m.Name,
			&m.DisplayName,
			&m.Description,
			&settings,
			&price,
			&m.OrganizationID,
			&imageFormats,
			&params,
			&m.IsNew,
			&m.IsDeleted,
			&m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		if err := json.Unmarshal(settings, &m.Settings); err != nil {
			return nil, fmt.Errorf("malformed settings for model %s: %w", m.ID, err)
		}
		if err := json.Unmarshal(price, &m.PriceMetadata); err != nil {
			return nil, fmt.Errorf("malformed price metadata for model %s: %w", m.ID, err)
		}
		if len(imageFormats) > 0 {
			if err := json.Unmarshal(imageFormats, &m.SupportedImageFormats); err != nil {
				return nil, fmt.Errorf("malformed image formats for model %s: %w", m.ID, err)
			}
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &m.AdditionalParameters); err != nil {
				return nil, fmt.Errorf("malformed additional parameters for model %s: %w", m.ID, err)
			}
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
