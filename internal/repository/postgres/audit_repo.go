package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/healops-policy-engine/internal/domain"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// WriteBatch сохраняет пачку записей журнала за один round-trip.
// Таблица append-only: только INSERT, никаких UPDATE/DELETE.
func (r *AuditRepo) WriteBatch(ctx context.Context, entries []domain.AuditLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	query := `
		INSERT INTO audit_logs (id, user_id, action, resource, result, context, applied_policies, reason, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	b := &pgx.Batch{}
	for _, e := range entries {
		contextJSON, err := json.Marshal(e.Context)
		if err != nil {
			return fmt.Errorf("postgres: failed to encode audit context: %w", err)
		}
		b.Queue(query,
			e.ID, nullable(e.UserID), e.Action, e.Resource, string(e.Result),
			contextJSON, e.AppliedPolicies, e.Reason,
			nullable(e.IPAddress), nullable(e.UserAgent), e.CreatedAt,
		)
	}

	br := r.pool.SendBatch(ctx, b)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: failed to insert audit batch: %w", err)
		}
	}
	return nil
}

// Query — фильтрованная выборка журнала, новые записи первыми.
// WHERE собирается динамически из непустых фильтров.
func (r *AuditRepo) Query(ctx context.Context, f domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.UserID != "" {
		where = append(where, "user_id = "+arg(f.UserID))
	}
	if f.Action != "" {
		where = append(where, "action = "+arg(f.Action))
	}
	if !f.StartDate.IsZero() {
		where = append(where, "created_at >= "+arg(f.StartDate))
	}
	if !f.EndDate.IsZero() {
		where = append(where, "created_at <= "+arg(f.EndDate))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = domain.DefaultAuditLimit
	}

	query := `SELECT id, user_id, action, resource, result, context, applied_policies, reason, ip_address, user_agent, created_at FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT " + arg(limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var results []domain.AuditLogEntry
	for rows.Next() {
		var (
			e           domain.AuditLogEntry
			userID      *string
			ipAddress   *string
			userAgent   *string
			contextJSON []byte
		)
		err := rows.Scan(
			&e.ID, &userID, &e.Action, &e.Resource, &e.Result,
			&contextJSON, &e.AppliedPolicies, &e.Reason,
			&ipAddress, &userAgent, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit entry: %w", err)
		}
		e.UserID = deref(userID)
		e.IPAddress = deref(ipAddress)
		e.UserAgent = deref(userAgent)
		if len(contextJSON) > 0 {
			if err := json.Unmarshal(contextJSON, &e.Context); err != nil {
				return nil, fmt.Errorf("postgres: failed to decode audit context: %w", err)
			}
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
