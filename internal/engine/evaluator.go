package engine

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/healops-policy-engine/internal/domain"
	"github.com/xela07ax/healops-policy-engine/internal/infra"
)

// DefaultCacheTTL — окно, в котором повторные идентичные запросы
// получают мемоизированное решение
const DefaultCacheTTL = 5 * time.Minute

// PolicyRepository описывает требования движка к хранилищу политик
type PolicyRepository interface {
	ListActiveByType(ctx context.Context, t domain.PolicyType) ([]domain.Policy, error)
}

// Auditor принимает записи журнала. Реализация пишет асинхронно,
// Log не должен блокировать hot path.
type Auditor interface {
	Log(entry domain.AuditLogEntry)
}

// Evaluator — оркестратор оценки: кэш → кандидаты → сортировка по
// приоритету → скан условий → решение → аудит → запись в кэш.
// Stateless между вызовами, любое число Evaluate может идти параллельно.
type Evaluator struct {
	repo     PolicyRepository
	cache    DecisionCache // может быть nil — движок работает без мемоизации
	auditor  Auditor
	metrics  *Metrics
	logger   *zap.Logger
	cacheTTL time.Duration
}

func NewEvaluator(repo PolicyRepository, cache DecisionCache, auditor Auditor, metrics *Metrics, logger *zap.Logger, cacheTTL time.Duration) *Evaluator {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Evaluator{
		repo:     repo,
		cache:    cache,
		auditor:  auditor,
		metrics:  metrics,
		logger:   logger.Named("evaluator"),
		cacheTTL: cacheTTL,
	}
}

// Evaluate возвращает решение allow/deny для запрошенного действия.
// НИКОГДА не возвращает ошибку: любой внутренний сбой схлопывается в
// запрет (fail-closed), авторизация не должна падать «открытой».
func (e *Evaluator) Evaluate(ctx context.Context, req domain.EvaluationRequest) domain.Decision {
	start := time.Now()
	key := infra.DecisionCacheKey(string(req.Type), req.Action, req.Resource, req.Context.UserID, req.Context.Role)

	// 1. CacheCheck. Попадание возвращается как есть и НЕ журналируется:
	// осознанный компромисс стоимость/комплаенс — повторы в окне TTL
	// не порождают новых записей аудита.
	if e.cache != nil {
		cached, err := e.cache.Get(ctx, key)
		switch {
		case err != nil:
			e.logger.Warn("cache read failed, treating as miss", zap.Error(err))
		case cached != nil:
			e.metrics.CacheHits.Inc()
			return *cached
		}
		e.metrics.CacheMisses.Inc()
	}

	// 2-4. Retrieve → Sort → Scan
	decision, err := e.decide(ctx, req)
	if err != nil {
		// ErrorDecide: сбой выборки/оценки журналируется как error
		// с текстом причины и схлопывается в запрет
		e.logger.Error("policy evaluation failed",
			zap.String("action", req.Action),
			zap.String("resource", req.Resource),
			zap.Error(err))
		e.writeAudit(req, domain.AuditError, err.Error(), nil)
		e.observe(req.Type, string(domain.AuditError), start)
		return domain.Decision{
			Allowed:         false,
			Reason:          "Policy evaluation error",
			AppliedPolicies: []string{},
		}
	}

	// 5. Audit — строго до записи в кэш: упав между ними, мы получим
	// зажурналированное решение без кэша (безопасно), но не наоборот
	result := domain.AuditDeny
	if decision.Allowed {
		result = domain.AuditAllow
	}
	e.writeAudit(req, result, decision.Reason, decision.AppliedPolicies)

	// 6. CacheWrite. Ошибка записи не влияет на уже принятое решение.
	if e.cache != nil {
		if err := e.cache.Set(ctx, key, decision, e.cacheTTL); err != nil {
			e.logger.Warn("cache write failed, decision not memoized", zap.Error(err))
		}
	}

	e.observe(req.Type, string(result), start)
	return decision
}

// decide выполняет полный скан кандидатов и собирает решение
func (e *Evaluator) decide(ctx context.Context, req domain.EvaluationRequest) (domain.Decision, error) {
	candidates, err := e.candidates(ctx, req.Type, req.Action, req.Resource)
	if err != nil {
		return domain.Decision{}, err
	}

	// Высокий приоритет проверяется первым. Порядок равных приоритетов
	// не контрактный — стабильная сортировка дает детерминизм в рамках
	// одной выборки, но полагаться на него нельзя.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	decision := domain.Decision{
		Allowed:         false,
		Reason:          "No matching policy found",
		AppliedPolicies: []string{},
	}

	for i := range candidates {
		p := &candidates[i]
		if !EvalConditions(p.Conditions, req.Context) {
			continue
		}

		decision.Allowed = p.Effect == domain.EffectAllow
		if decision.Allowed {
			decision.Reason = "Allowed by policy: " + p.Name
		} else {
			decision.Reason = "Denied by policy: " + p.Name
		}
		decision.AppliedPolicies = append(decision.AppliedPolicies, p.Name)

		// Deny обрывает скан и побеждает любые allow независимо от
		// их приоритета
		if p.Effect == domain.EffectDeny {
			break
		}
	}

	return decision, nil
}

// candidates выбирает активные политики типа, чьи списки actions И
// resources матчат запрошенную пару
func (e *Evaluator) candidates(ctx context.Context, t domain.PolicyType, action, resource string) ([]domain.Policy, error) {
	policies, err := e.repo.ListActiveByType(ctx, t)
	if err != nil {
		return nil, err
	}

	matched := policies[:0]
	for _, p := range policies {
		if matchesAny(action, p.Actions) && matchesAny(resource, p.Resources) {
			matched = append(matched, p)
		}
	}
	return matched, nil
}

func (e *Evaluator) writeAudit(req domain.EvaluationRequest, result domain.AuditResult, reason string, applied []string) {
	if applied == nil {
		applied = []string{}
	}
	e.auditor.Log(domain.AuditLogEntry{
		ID:              uuid.New().String(),
		UserID:          req.Context.UserID,
		Action:          req.Action,
		Resource:        req.Resource,
		Result:          result,
		Context:         req.Context.Metadata,
		AppliedPolicies: applied,
		Reason:          reason,
		IPAddress:       req.Context.IPAddress,
		UserAgent:       req.Context.UserAgent,
		CreatedAt:       time.Now(),
	})
}

func (e *Evaluator) observe(t domain.PolicyType, result string, start time.Time) {
	e.metrics.EvalTotal.WithLabelValues(string(t), result).Inc()
	e.metrics.EvalDuration.WithLabelValues(string(t), result).Observe(time.Since(start).Seconds())
}
