package postgres

/*
Файл policy_repo.go отвечает за хранение правил доступа/самовосстановления.
Слой отделяет долговременное хранение политик в PostgreSQL от их оценки
в движке: движок читает кандидатов, управляющие операции мутируют таблицу.
*/

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/healops-policy-engine/internal/domain"
)

const policyColumns = `id, name, description, type, effect, conditions, actions, resources, priority, is_active, created_at, updated_at`

type PolicyRepo struct {
	pool *pgxpool.Pool
}

func NewPolicyRepo(pool *pgxpool.Pool) *PolicyRepo {
	return &PolicyRepo{pool: pool}
}

// ListActiveByType — выборка кандидатов для движка.
// Порядок возврата не гарантируется: сортировку по приоритету делает движок.
func (r *PolicyRepo) ListActiveByType(ctx context.Context, t domain.PolicyType) ([]domain.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE type = $1 AND is_active`

	rows, err := r.pool.Query(ctx, query, string(t))
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list active policies: %w", err)
	}
	defer rows.Close()

	return collectPolicies(rows)
}

func (r *PolicyRepo) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE id = $1`

	p, err := scanPolicy(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPolicyNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get policy: %w", err)
	}
	return p, nil
}

func (r *PolicyRepo) List(ctx context.Context) ([]domain.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies ORDER BY priority DESC, name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list policies: %w", err)
	}
	defer rows.Close()

	return collectPolicies(rows)
}

// Create создает запись и заполняет серверные поля (id, таймстемпы)
func (r *PolicyRepo) Create(ctx context.Context, p *domain.Policy) error {
	query := `
		INSERT INTO policies (id, name, description, type, effect, conditions, actions, resources, priority, is_active, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return fmt.Errorf("postgres: failed to encode conditions: %w", err)
	}

	err = r.pool.QueryRow(ctx, query,
		p.Name, p.Description, string(p.Type), string(p.Effect),
		conditions, p.Actions, p.Resources, p.Priority, p.IsActive,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to create policy: %w", err)
	}
	return nil
}

// Update перезаписывает все изменяемые поля. Merge-семантика частичных
// обновлений реализована уровнем выше (сервис читает и накладывает дельту).
func (r *PolicyRepo) Update(ctx context.Context, p *domain.Policy) error {
	query := `
		UPDATE policies
		SET name = $1, description = $2, type = $3, effect = $4,
		    conditions = $5, actions = $6, resources = $7,
		    priority = $8, is_active = $9, updated_at = NOW()
		WHERE id = $10`

	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return fmt.Errorf("postgres: failed to encode conditions: %w", err)
	}

	ct, err := r.pool.Exec(ctx, query,
		p.Name, p.Description, string(p.Type), string(p.Effect),
		conditions, p.Actions, p.Resources, p.Priority, p.IsActive, p.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to update policy: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrPolicyNotFound
	}
	return nil
}

func (r *PolicyRepo) Delete(ctx context.Context, id string) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete policy: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrPolicyNotFound
	}
	return nil
}

// Ping проверяет доступность базы при старте
func (r *PolicyRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func collectPolicies(rows pgx.Rows) ([]domain.Policy, error) {
	var results []domain.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan policy: %w", err)
		}
		results = append(results, *p)
	}
	return results, rows.Err()
}

func scanPolicy(row pgx.Row) (*domain.Policy, error) {
	var (
		p          domain.Policy
		conditions []byte
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Type, &p.Effect,
		&conditions, &p.Actions, &p.Resources,
		&p.Priority, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
			return nil, fmt.Errorf("decode conditions: %w", err)
		}
	}
	if p.Conditions == nil {
		p.Conditions = map[string]any{}
	}
	return &p, nil
}
