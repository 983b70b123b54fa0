package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dgpt/llm-gateway/internal/shared/models"
)

// InsertCompletionUsage writes one completion usage record. Records are
// insert-only; nothing in the gateway ever updates or deletes them.
func (db *DB) InsertCompletionUsage(ctx context.Context, usage *models.CompletionUsage) error {
	query := `
		INSERT INTO completion_usage_tracking (
			id, api_key_id, model_id, project_id,
			prompt_tokens, completion_tokens, total_tokens,
			costs_in_cent, is_estimated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	err := db.conn.QueryRowContext(ctx, query,
		usage.ID,
		usage.APIKeyID,
		usage.ModelID,
		usage.ProjectID,
		usage.PromptTokens,
		usage.CompletionTokens,
		usage.TotalTokens,
		usage.CostInCent,
		usage.Estimated,
	).Scan(&usage.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert completion usage: %w", err)
	}
	return nil
}

// InsertImageUsage writes one image generation usage record.
func (db *DB) InsertImageUsage(ctx context.Context, usage *models.ImageUsage) error {
	query := `
		INSERT INTO image_generation_usage_tracking (
			id, api_key_id, model_id, project_id, number_of_images, costs_in_cent
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := db.conn.QueryRowContext(ctx, query,
		usage.ID,
		usage.APIKeyID,
		usage.ModelID,
		usage.ProjectID,
		usage.NumberOfImages,
		usage.CostInCent,
	).Scan(&usage.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert image usage: %w", err)
	}
	return nil
}

// CompletionUsageByAPIKey returns all completion usage records for an API
// key with created_at in [start, end).
func (db *DB) CompletionUsageByAPIKey(ctx context.Context, apiKeyID string, start, end time.Time) ([]models.CompletionUsage, error) {
	query := `
		SELECT id, api_key_id, model_id, project_id,
		       prompt_tokens, completion_tokens, total_tokens,
		       costs_in_cent, is_estimated, created_at
		FROM completion_usage_tracking
		WHERE api_key_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at
	`

	rows, err := db.conn.QueryContext(ctx, query, apiKeyID, start, end)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	return scanCompletionUsage(rows)
}

// ImageUsageByAPIKey returns all image generation usage records for an API
// key with created_at in [start, end).
func (db *DB) ImageUsageByAPIKey(ctx context.Context, apiKeyID string, start, end time.Time) ([]models.ImageUsage, error) {
	query := `
		SELECT id, api_key_id, model_id, project_id,
		       number_of_images, costs_in_cent, created_at
		FROM image_generation_usage_tracking
		WHERE api_key_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at
	`

	rows, err := db.conn.QueryContext(ctx, query, apiKeyID, start, end)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var result []models.ImageUsage
	for rows.Next() {
		var u models.ImageUsage
		if err := rows.Scan(
			&u.ID,
			&u.APIKeyID,
			&u.ModelID,
			&u.ProjectID,
			&u.NumberOfImages,
			&u.CostInCent,
			&u.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func scanCompletionUsage(rows *sql.Rows) ([]models.CompletionUsage, error) {
	var result []models.CompletionUsage
	for rows.Next() {
		var u models.CompletionUsage
		if err := rows.Scan(
			&u.ID,
			&u.APIKeyID,
			&u.ModelID,
			&u.ProjectID,
			&u.PromptTokens,
			&u.CompletionTokens,
			&u.TotalTokens,
			&u.CostInCent,
			&u.Estimated,
			&u.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		result = append(result, u)
	}
	return result, rows.Err()
}
