package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/llmgateway/gateway/internal/domain"
)

// PostgresObservabilityStore persists batches inside one transaction.
// Grounded on the teacher's internal/repository/postgres_usage.go
// insert-per-call pattern, adapted to batch a whole drain cycle instead of
// one record per call and to this gateway's InvocationRecord shape
// instead of the teacher's tenant-scoped UsageRecord.
type PostgresObservabilityStore struct {
	db *sql.DB
}

func NewPostgresObservabilityStore(db *sql.DB) *PostgresObservabilityStore {
	return &PostgresObservabilityStore{db: db}
}

const insertInvocationQuery = `
	INSERT INTO invocation_records (
		id, provider_name, model_name, started_at, completed_at, duration_ms,
		status, error_message, request_prompt, request_messages, request_parameters,
		response_text, response_text_length, prompt_tokens, completion_tokens,
		total_tokens, cost_usd, raw_response
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
`

func (s *PostgresObservabilityStore) Write(ctx context.Context, records []domain.InvocationRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertInvocationQuery)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		messages, err := json.Marshal(rec.RequestMessages)
		if err != nil {
			return fmt.Errorf("marshal request messages: %w", err)
		}
		params, err := json.Marshal(rec.RequestParameters)
		if err != nil {
			return fmt.Errorf("marshal request parameters: %w", err)
		}
		raw, err := json.Marshal(rec.RawResponse)
		if err != nil {
			return fmt.Errorf("marshal raw response: %w", err)
		}

		_, err = stmt.ExecContext(ctx,
			rec.ID, rec.ProviderName, rec.ModelName, rec.StartedAt, rec.CompletedAt, rec.DurationMs,
			rec.Status, rec.ErrorMessage, rec.RequestPrompt, messages, params,
			rec.ResponseText, rec.ResponseTextLength, rec.PromptTokens, rec.CompletionTokens,
			rec.TotalTokens, rec.Cost, raw,
		)
		if err != nil {
			return fmt.Errorf("insert invocation record %s: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}
