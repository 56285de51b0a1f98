package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/healops-policy-engine/internal/domain"
	"github.com/xela07ax/healops-policy-engine/internal/infra"
)

// PolicyRepository описывает требования сервиса к хранилищу политик
type PolicyRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Policy, error)
	List(ctx context.Context) ([]domain.Policy, error)
	Create(ctx context.Context, p *domain.Policy) error
	Update(ctx context.Context, p *domain.Policy) error
	Delete(ctx context.Context, id string) error
}

// Publisher — минимальный срез redis-клиента для сигналов инвалидации.
// *redis.Client ему удовлетворяет, тесты подставляют фейк.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// CreatePolicyInput — вход управляющей операции создания.
// Указатели отличают «не передано» от нулевого значения:
// priority 0 — валидный приоритет, а отсутствие поля — дефолтные 100.
type CreatePolicyInput struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        domain.PolicyType   `json:"type"`
	Effect      domain.PolicyEffect `json:"effect"`
	Conditions  map[string]any `json:"conditions"`
	Actions     []string       `json:"actions"`
	Resources   []string       `json:"resources"`
	Priority    *int           `json:"priority,omitempty"`
	IsActive    *bool          `json:"is_active,omitempty"`
}

type PolicyService struct {
	repo   PolicyRepository
	rdb    Publisher
	logger *zap.Logger
}

func NewPolicyService(repo PolicyRepository, rdb Publisher, logger *zap.Logger) *PolicyService {
	return &PolicyService{
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("policy-service"),
	}
}

func (s *PolicyService) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	return s.repo.GetByID(ctx, id)
}

// GetAll возвращает все политики для консоли
func (s *PolicyService) GetAll(ctx context.Context) ([]domain.Policy, error) {
	return s.repo.List(ctx)
}

// Create валидирует вход, применяет дефолты и сохраняет политику
func (s *PolicyService) Create(ctx context.Context, in CreatePolicyInput) (*domain.Policy, error) {
	p := domain.Policy{
		Name:        in.Name,
		Description: in.Description,
		Type:        in.Type,
		Effect:      in.Effect,
		Conditions:  in.Conditions,
		Actions:     in.Actions,
		Resources:   in.Resources,
		Priority:    domain.DefaultPriority,
		IsActive:    true,
	}
	if in.Priority != nil {
		p.Priority = *in.Priority
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	if p.Conditions == nil {
		p.Conditions = map[string]any{}
	}

	if err := validatePolicy(&p); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, &p); err != nil {
		return nil, err
	}
	s.notifyUpdate(ctx)
	return &p, nil
}

// Update накладывает частичную дельту на существующую запись
// (merge-семантика) и сохраняет результат целиком.
func (s *PolicyService) Update(ctx context.Context, id string, upd domain.PolicyUpdate) (*domain.Policy, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.Type != nil {
		p.Type = *upd.Type
	}
	if upd.Effect != nil {
		p.Effect = *upd.Effect
	}
	if upd.Conditions != nil {
		p.Conditions = *upd.Conditions
	}
	if upd.Actions != nil {
		p.Actions = *upd.Actions
	}
	if upd.Resources != nil {
		p.Resources = *upd.Resources
	}
	if upd.Priority != nil {
		p.Priority = *upd.Priority
	}
	if upd.IsActive != nil {
		p.IsActive = *upd.IsActive
	}

	if err := validatePolicy(p); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	s.notifyUpdate(ctx)
	return p, nil
}

// Delete удаляет политику
func (s *PolicyService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.notifyUpdate(ctx)
	return nil
}

// notifyUpdate шлет широковещательный сигнал в Redis, по которому
// инстансы движка сбрасывают мемоизированные решения. Best-effort:
// недоступный Redis не должен ронять управляющую операцию.
func (s *PolicyService) notifyUpdate(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Publish(ctx, infra.RedisChanPolicyUpdate, "refresh").Err(); err != nil {
		s.logger.Warn("policy update signal failed", zap.Error(err))
	}
}

func validatePolicy(p *domain.Policy) error {
	if p.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	if !domain.ValidType(p.Type) {
		return fmt.Errorf("invalid policy type: %q", p.Type)
	}
	if !domain.ValidEffect(p.Effect) {
		return fmt.Errorf("invalid policy effect: %q", p.Effect)
	}
	if p.Priority < domain.MinPriority || p.Priority > domain.MaxPriority {
		return fmt.Errorf("priority %d out of range [%d, %d]", p.Priority, domain.MinPriority, domain.MaxPriority)
	}
	if len(p.Actions) == 0 {
		return fmt.Errorf("policy requires at least one action pattern")
	}
	if len(p.Resources) == 0 {
		return fmt.Errorf("policy requires at least one resource pattern")
	}
	return nil
}
