package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/imagegen-be/internal/api/model"
	"github.com/cuongbtq/imagegen-be/shared/postgresql"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

// InsertUsageLog records one API call. Callers treat failures as non-fatal;
// usage logging never aborts the generation flow.
func (s *Storage) InsertUsageLog(ctx context.Context, log *model.UsageLog) error {
	query := `
		INSERT INTO usage_logs (
			user_id, user_email, user_name, endpoint,
			method, status_code, request_body, response_body,
			error_message, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		log.UserID,
		log.UserEmail,
		log.UserName,
		log.Endpoint,
		log.Method,
		log.StatusCode,
		log.RequestBody,
		log.ResponseBody,
		log.ErrorMessage,
		log.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert usage log: %w", err)
	}

	return nil
}

// ListUsageLogs returns the most recent usage records, newest first
func (s *Storage) ListUsageLogs(ctx context.Context, limit int) ([]model.UsageLog, error) {
	query := `
		SELECT
			id, user_id, user_email, user_name, endpoint,
			method, status_code, request_body, response_body,
			error_message, created_at
		FROM usage_logs
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`

	var logs []model.UsageLog
	err := s.db.SelectContext(ctx, &logs, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage logs: %w", err)
	}

	return logs, nil
}
