package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"medrecord-api/internal/model"
)

// AuditRepository is the Postgres-backed audit store. Records are append
// only; nothing here updates or deletes.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Append(ctx context.Context, record model.AuditRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_records
		 (id, occurred_at, actor_id, action, resource_type, resource_id,
		  request_body, response_body, status, client_ip, user_agent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		record.ID, record.OccurredAt, record.ActorID, record.Action,
		record.ResourceType, record.ResourceID, record.RequestBody,
		record.ResponseBody, record.Status, record.ClientIP, record.UserAgent)
	if err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

func (r *AuditRepository) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditRecord, model.Meta, error) {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}

	where := make([]string, 0)
	args := make([]any, 0)
	argIdx := 1

	if actorID := strings.TrimSpace(query.ActorID); actorID != "" {
		where = append(where, fmt.Sprintf("actor_id = $%d", argIdx))
		args = append(args, actorID)
		argIdx++
	}
	if resourceType := strings.TrimSpace(query.ResourceType); resourceType != "" {
		where = append(where, fmt.Sprintf("lower(resource_type) = lower($%d)", argIdx))
		args = append(args, resourceType)
		argIdx++
	}
	if action := strings.TrimSpace(query.Action); action != "" {
		where = append(where, fmt.Sprintf("lower(action) LIKE lower($%d)", argIdx))
		args = append(args, "%"+action+"%")
		argIdx++
	}
	if from := strings.TrimSpace(query.From); from != "" {
		where = append(where, fmt.Sprintf("occurred_at >= $%d::timestamptz", argIdx))
		args = append(args, from)
		argIdx++
	}
	if to := strings.TrimSpace(query.To); to != "" {
		where = append(where, fmt.Sprintf("occurred_at <= $%d::timestamptz", argIdx))
		args = append(args, to)
		argIdx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_records %s", whereClause)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, model.Meta{}, fmt.Errorf("count audit records: %w", err)
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + query.Limit - 1) / query.Limit
	}
	meta := model.Meta{Page: query.Page, Limit: query.Limit, Total: total, TotalPages: totalPages}

	offset := (query.Page - 1) * query.Limit
	dataQuery := fmt.Sprintf(
		`SELECT id, occurred_at, actor_id, action, resource_type, resource_id,
		        request_body, response_body, status, client_ip, user_agent
		 FROM audit_records %s
		 ORDER BY occurred_at DESC
		 LIMIT $%d OFFSET $%d`, whereClause, argIdx, argIdx+1)
	args = append(args, query.Limit, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	records := make([]model.AuditRecord, 0)
	for rows.Next() {
		var rec model.AuditRecord
		var occurredAt time.Time

		if err := rows.Scan(
			&rec.ID, &occurredAt, &rec.ActorID, &rec.Action,
			&rec.ResourceType, &rec.ResourceID, &rec.RequestBody,
			&rec.ResponseBody, &rec.Status, &rec.ClientIP, &rec.UserAgent,
		); err != nil {
			return nil, model.Meta{}, fmt.Errorf("scan audit record: %w", err)
		}

		rec.OccurredAt = occurredAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, model.Meta{}, err
	}

	return records, meta, nil
}
