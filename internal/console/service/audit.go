package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/healops-policy-engine/internal/domain"
)

// AuditLogProvider описывает контракт для чтения журнала оценок
type AuditLogProvider interface {
	Query(ctx context.Context, f domain.AuditFilter) ([]domain.AuditLogEntry, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{
		repo: repo,
	}
}

// FetchLogs запрашивает журнал с фильтрацией. Дефолтный лимит
// применяется здесь, чтобы репозиторий не знал о политике выдачи.
func (s *AuditService) FetchLogs(ctx context.Context, f domain.AuditFilter) ([]domain.AuditLogEntry, error) {
	if f.Limit <= 0 {
		f.Limit = domain.DefaultAuditLimit
	}
	logs, err := s.repo.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}
