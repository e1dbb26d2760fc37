package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/atelier/internal/domain"
)

// pgUniqueViolation — SQLSTATE нарушения уникальности.
const pgUniqueViolation = "23505"

const pipelineColumns = `
	id, order_id, current_stage, status,
	in_flight_stage, in_flight_attempt, in_flight_dedupe_key, in_flight_since, in_flight_deadline,
	retry_at, retry_counts, last_error, epoch, pause_reason, version,
	created_at, updated_at, completed_at, archived_at`

// PipelineRepo — репозиторий pipelines на PostgreSQL.
//
// Каждое изменение — compare-and-swap по version в одной транзакции
// с дописыванием новых записей истории.
type PipelineRepo struct {
	pool *pgxpool.Pool
}

// NewPipelineRepo создаёт новый PipelineRepo.
func NewPipelineRepo(pool *pgxpool.Pool) *PipelineRepo {
	return &PipelineRepo{pool: pool}
}

// PipelineFilter — параметры фильтрации pipelines.
type PipelineFilter struct {
	Status domain.PipelineStatus
	Stage  domain.Stage
	Limit  int
	Offset int
}

// Create создаёт pipeline.
// Возвращает ErrAlreadyExists, если у заказа уже есть живой (не FAILED) pipeline.
func (r *PipelineRepo) Create(ctx context.Context, p *domain.Pipeline) error {
	retryCounts, err := json.Marshal(p.RetryCounts)
	if err != nil {
		return fmt.Errorf("marshal retry counts: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO pipelines (id, order_id, current_stage, status, retry_counts, epoch,
		                       version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.Exec(ctx, query,
		p.ID,
		p.OrderID,
		p.CurrentStage,
		p.Status,
		retryCounts,
		p.Epoch,
		p.Version,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: live pipeline for order %s", ErrAlreadyExists, p.OrderID)
		}
		return fmt.Errorf("insert pipeline: %w", err)
	}

	if err := insertHistory(ctx, tx, p.ID, p.UnsavedHistory()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	p.MarkHistorySaved()
	return nil
}

// GetByID возвращает pipeline вместе с историей.
func (r *PipelineRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	query := `SELECT ` + pipelineColumns + ` FROM pipelines WHERE id = $1`

	p, err := scanPipeline(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadHistory(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetLiveByOrderID возвращает живой (не FAILED) pipeline заказа.
func (r *PipelineRepo) GetLiveByOrderID(ctx context.Context, orderID string) (*domain.Pipeline, error) {
	query := `
		SELECT ` + pipelineColumns + `
		FROM pipelines
		WHERE order_id = $1 AND status <> 'FAILED'
		ORDER BY created_at DESC
		LIMIT 1
	`
	p, err := scanPipeline(r.pool.QueryRow(ctx, query, orderID))
	if err != nil {
		return nil, err
	}
	if err := r.loadHistory(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Save сохраняет pipeline при условии, что version не изменилась.
//
// Возвращает ErrVersionConflict, если запись обновил другой писатель,
// и ErrNotFound, если записи нет. При успехе увеличивает p.Version.
func (r *PipelineRepo) Save(ctx context.Context, p *domain.Pipeline) error {
	retryCounts, err := json.Marshal(p.RetryCounts)
	if err != nil {
		return fmt.Errorf("marshal retry counts: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		inFlightStage    *string
		inFlightAttempt  *int
		inFlightKey      *string
		inFlightSince    *time.Time
		inFlightDeadline *time.Time
	)
	if f := p.InFlight; f != nil {
		stage := string(f.Stage)
		inFlightStage = &stage
		inFlightAttempt = &f.Attempt
		inFlightKey = nullString(f.DedupeKey)
		inFlightSince = &f.Since
		inFlightDeadline = &f.Deadline
	}

	query := `
		UPDATE pipelines
		SET current_stage = $3, status = $4,
		    in_flight_stage = $5, in_flight_attempt = $6, in_flight_dedupe_key = $7,
		    in_flight_since = $8, in_flight_deadline = $9,
		    retry_at = $10, retry_counts = $11, last_error = $12, epoch = $13,
		    pause_reason = $14, updated_at = $15, completed_at = $16, archived_at = $17,
		    version = version + 1
		WHERE id = $1 AND version = $2
	`
	result, err := tx.Exec(ctx, query,
		p.ID,
		p.Version,
		p.CurrentStage,
		p.Status,
		inFlightStage,
		inFlightAttempt,
		inFlightKey,
		inFlightSince,
		inFlightDeadline,
		p.RetryAt,
		retryCounts,
		nullString(p.LastError),
		p.Epoch,
		nullString(p.PauseReason),
		p.UpdatedAt,
		p.CompletedAt,
		p.ArchivedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: live pipeline for order %s", ErrAlreadyExists, p.OrderID)
		}
		return fmt.Errorf("update pipeline: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pipelines WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check pipeline: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return fmt.Errorf("%w: pipeline %s at version %d", ErrVersionConflict, p.ID, p.Version)
	}

	if err := insertHistory(ctx, tx, p.ID, p.UnsavedHistory()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	p.Version++
	p.MarkHistorySaved()
	return nil
}

// ListExpiredInFlight возвращает pipelines, чья in-flight стадия превысила deadline.
// История не загружается.
func (r *PipelineRepo) ListExpiredInFlight(ctx context.Context, now time.Time, limit int) ([]domain.Pipeline, error) {
	query := `
		SELECT ` + pipelineColumns + `
		FROM pipelines
		WHERE in_flight_stage IS NOT NULL
		  AND in_flight_deadline <= $1
		  AND status IN ('ACTIVE', 'PAUSED')
		ORDER BY in_flight_deadline ASC
		LIMIT $2
	`
	return r.queryPipelines(ctx, query, now, limit)
}

// ListRunnable возвращает активные pipelines без in-flight стадии,
// у которых истёк backoff (или его нет) и которые не обновлялись с idleBefore.
// История не загружается.
func (r *PipelineRepo) ListRunnable(ctx context.Context, now, idleBefore time.Time, limit int) ([]domain.Pipeline, error) {
	query := `
		SELECT ` + pipelineColumns + `
		FROM pipelines
		WHERE status = 'ACTIVE'
		  AND in_flight_stage IS NULL
		  AND (retry_at IS NULL OR retry_at <= $1)
		  AND updated_at <= $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
	return r.queryPipelines(ctx, query, now, idleBefore, limit)
}

// List возвращает список pipelines с фильтрацией. История не загружается.
func (r *PipelineRepo) List(ctx context.Context, filter PipelineFilter) ([]domain.Pipeline, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + pipelineColumns + `
		FROM pipelines
		WHERE ($1::text IS NULL OR status = $1::pipeline_status)
		  AND ($2::text IS NULL OR current_stage = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	return r.queryPipelines(ctx, query,
		nullString(string(filter.Status)),
		nullString(string(filter.Stage)),
		limit,
		filter.Offset,
	)
}

// --- Helpers ---

// queryPipelines выполняет запрос и сканирует pipelines без истории.
func (r *PipelineRepo) queryPipelines(ctx context.Context, query string, args ...any) ([]domain.Pipeline, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []domain.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, *p)
	}
	return pipelines, rows.Err()
}

// loadHistory загружает историю стадий в порядке записи.
func (r *PipelineRepo) loadHistory(ctx context.Context, p *domain.Pipeline) error {
	query := `
		SELECT stage, attempt, epoch, entered_at, exited_at, outcome, resolution, error, payload
		FROM pipeline_stage_history
		WHERE pipeline_id = $1
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, query, p.ID)
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	p.StageHistory = nil
	for rows.Next() {
		var rec domain.StageRecord
		var recError *string
		var payloadJSON []byte

		err := rows.Scan(
			&rec.Stage,
			&rec.Attempt,
			&rec.Epoch,
			&rec.EnteredAt,
			&rec.ExitedAt,
			&rec.Outcome,
			&rec.Resolution,
			&recError,
			&payloadJSON,
		)
		if err != nil {
			return fmt.Errorf("scan history: %w", err)
		}
		if recError != nil {
			rec.Error = *recError
		}
		if payloadJSON != nil {
			if err := json.Unmarshal(payloadJSON, &rec.Payload); err != nil {
				return fmt.Errorf("unmarshal history payload: %w", err)
			}
		}
		p.StageHistory = append(p.StageHistory, rec)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	p.MarkHistorySaved()
	return nil
}

// insertHistory дописывает записи истории в транзакции.
func insertHistory(ctx context.Context, tx pgx.Tx, pipelineID uuid.UUID, records []domain.StageRecord) error {
	query := `
		INSERT INTO pipeline_stage_history
			(pipeline_id, stage, attempt, epoch, entered_at, exited_at, outcome, resolution, error, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for _, rec := range records {
		var payloadJSON []byte
		if rec.Payload != nil {
			var err error
			payloadJSON, err = json.Marshal(rec.Payload)
			if err != nil {
				return fmt.Errorf("marshal history payload: %w", err)
			}
		}

		_, err := tx.Exec(ctx, query,
			pipelineID,
			rec.Stage,
			rec.Attempt,
			rec.Epoch,
			rec.EnteredAt,
			rec.ExitedAt,
			rec.Outcome,
			rec.Resolution,
			nullString(rec.Error),
			payloadJSON,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: history %s/%s/%d", ErrVersionConflict, pipelineID, rec.Stage, rec.Attempt)
			}
			return fmt.Errorf("insert history: %w", err)
		}
	}
	return nil
}

// scanPipeline сканирует одну строку в Pipeline (подходит для pgx.Row и pgx.Rows).
func scanPipeline(row pgx.Row) (*domain.Pipeline, error) {
	var p domain.Pipeline
	var (
		inFlightStage    *string
		inFlightAttempt  *int
		inFlightKey      *string
		inFlightSince    *time.Time
		inFlightDeadline *time.Time
		retryCountsJSON  []byte
		lastError        *string
		pauseReason      *string
	)

	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.CurrentStage,
		&p.Status,
		&inFlightStage,
		&inFlightAttempt,
		&inFlightKey,
		&inFlightSince,
		&inFlightDeadline,
		&p.RetryAt,
		&retryCountsJSON,
		&lastError,
		&p.Epoch,
		&pauseReason,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.CompletedAt,
		&p.ArchivedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pipeline: %w", err)
	}

	p.RetryCounts = make(map[domain.Stage]int)
	if retryCountsJSON != nil {
		if err := json.Unmarshal(retryCountsJSON, &p.RetryCounts); err != nil {
			return nil, fmt.Errorf("unmarshal retry counts: %w", err)
		}
	}

	if inFlightStage != nil {
		p.InFlight = &domain.InFlight{Stage: domain.Stage(*inFlightStage)}
		if inFlightAttempt != nil {
			p.InFlight.Attempt = *inFlightAttempt
		}
		if inFlightKey != nil {
			p.InFlight.DedupeKey = *inFlightKey
		}
		if inFlightSince != nil {
			p.InFlight.Since = *inFlightSince
		}
		if inFlightDeadline != nil {
			p.InFlight.Deadline = *inFlightDeadline
		}
	}

	if lastError != nil {
		p.LastError = *lastError
	}
	if pauseReason != nil {
		p.PauseReason = *pauseReason
	}

	return &p, nil
}

// isUniqueViolation проверяет, что ошибка — нарушение уникальности.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
