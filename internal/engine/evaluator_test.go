package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/healops-policy-engine/internal/domain"
)

// fakePolicyRepo отдает заранее заданный набор политик
type fakePolicyRepo struct {
	mu       sync.Mutex
	policies []domain.Policy
	err      error
	calls    int
}

func (f *fakePolicyRepo) ListActiveByType(_ context.Context, t domain.PolicyType) ([]domain.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Policy
	for _, p := range f.policies {
		if p.Type == t && p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

// memCache — in-memory замена Redis для тестов
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
	setErr  error
	sets    int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]byte{}}
}

func (c *memCache) Get(_ context.Context, key string) (*domain.Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	data, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	var d domain.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *memCache) Set(_ context.Context, key string, d domain.Decision, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	c.entries[key] = data
	c.sets++
	return nil
}

// captureAuditor собирает записи журнала
type captureAuditor struct {
	mu      sync.Mutex
	entries []domain.AuditLogEntry
}

func (a *captureAuditor) Log(entry domain.AuditLogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *captureAuditor) all() []domain.AuditLogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.AuditLogEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

func allowPolicy(name string, priority int, conditions map[string]any) domain.Policy {
	return domain.Policy{
		ID: name, Name: name, Type: domain.TypeAPIAccess,
		Effect: domain.EffectAllow, Conditions: conditions,
		Actions: []string{"read"}, Resources: []string{"/api/users"},
		Priority: priority, IsActive: true,
	}
}

func newTestEvaluator(repo *fakePolicyRepo, cache DecisionCache, auditor *captureAuditor) *Evaluator {
	return NewEvaluator(repo, cache, auditor, nil, zap.NewNop(), 0)
}

func TestEvaluate_NoMatchDefaultDeny(t *testing.T) {
	repo := &fakePolicyRepo{}
	auditor := &captureAuditor{}
	e := newTestEvaluator(repo, newMemCache(), auditor)

	d := e.Evaluate(context.Background(), domain.EvaluationRequest{
		Action: "read", Resource: "/api/users", Type: domain.TypeAPIAccess,
	})

	assert.False(t, d.Allowed)
	assert.Equal(t, "No matching policy found", d.Reason)
	assert.Empty(t, d.AppliedPolicies)

	entries := auditor.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditDeny, entries[0].Result)
}

func TestEvaluate_ScenarioA(t *testing.T) {
	repo := &fakePolicyRepo{policies: []domain.Policy{
		allowPolicy("AllowUserRead", 100, map[string]any{"role": "user"}),
	}}
	auditor := &captureAuditor{}
	e := newTestEvaluator(repo, newMemCache(), auditor)

	d := e.Evaluate(context.Background(), domain.EvaluationRequest{
		Action: "read", Resource: "/api/users", Type: domain.TypeAPIAccess,
		Context: domain.RequestContext{Role: "user"},
	})

	assert.Equal(t, domain.Decision{
		Allowed:         true,
		Reason:          "Allowed by policy: AllowUserRead",
		AppliedPolicies: []string{"AllowUserRead"},
	}, d)
}

func TestEvaluate_ScenarioB_DenyPrecedence(t *testing.T) {
	deny := domain.Policy{
		ID: "DenySpecificUser", Name: "DenySpecificUser", Type: domain.TypeAPIAccess,
		Effect: domain.EffectDeny, Conditions: map[string]any{"userId": "u1"},
		Actions: []string{"*"}, Resources: []string{"/api/users"},
		Priority: 200, IsActive: true,
	}
	repo := &fakePolicyRepo{policies: []domain.Policy{
		allowPolicy("AllowUserRead", 100, map[string]any{"role": "user"}),
		deny,
	}}
	auditor := &captureAuditor{}
	e := newTestEvaluator(repo, newMemCache(), auditor)

	d := e.Evaluate(context.Background(), domain.EvaluationRequest{
		Action: "read", Resource: "/api/users", Type: domain.TypeAPIAccess,
		Context: domain.RequestContext{Role: "user", UserID: "u1"},
	})

	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "Denied by policy: DenySpecificUser")
	// Deny с приоритетом 200 обрывает скан: allow с приоритетом 100
	// даже не проверяется
	assert.Equal(t, []string{"DenySpecificUser"}, d.AppliedPolicies)
}

func TestEvaluate_DenyWinsAtAnyPriority(t *testing.T) {
	// Deny ниже по приоритету, чем allow, но итог всё равно deny
	deny := domain.Policy{
		ID: "LowPriorityDeny", Name: "LowPriorityDeny", Type: domain.TypeAPIAccess,
		Effect: domain.EffectDeny, Conditions: map[string]any{},
		Actions: []string{"read"}, Resources: []string{"/api/users"},
		Priority: 10, IsActive: true,
	}
	repo := &fakePolicyRepo{policies: []domain.Policy{
		allowPolicy("HighPriorityAllow", 900, map[string]any{}),
		deny,
	}}
	auditor := &captureAuditor{}
	e := newTestEvaluator(repo, newMemCache(), auditor)

	d := e.Evaluate(context.Background(), domain.EvaluationRequest{
		Action: "read", Resource: "/api/users", Type: domain.TypeAPIAccess,
	})

	assert.False(t, d.Allowed)
	assert.Equal(t, "Denied by policy: LowPriorityDeny", d.Reason)
	// Allow проверился первым и попал в список, deny закрыл скан
	assert.Equal(t, []string{"HighPriorityAllow", "LowPriorityDeny"}, d.AppliedPolicies)
}

func TestEvaluate_ReasonReflectsLastMatch(t *testing.T) {
	// Артефакт исходной системы: reason цитирует ПОСЛЕДНЮЮ совпавшую
	// политику (с наименьшим приоритетом), хотя исход определен любой из них
	repo := &fakePolicyRepo{policies: []domain.Policy{
		allowPolicy("PrimaryAllow", 300, map[string]any{}),
		allowPolicy("SecondaryAllow", 100, map[string]any{}),
	}}
	auditor := &captureAuditor{}
	e := newTestEvaluator(repo, newMemCache(), auditor)

	d := e.Evaluate(context.Background(), domain.EvaluationRequest{
		Action: "read", Resource: "/api/users", Type: domain.TypeAPIAccess,
	})

	assert.True(t, d.Allowed)
	assert.Equal(t, "Allowed by policy: SecondaryAllow", d.Reason)
	assert.Equal(t, []string{"PrimaryAllow", "SecondaryAllow"}, d.AppliedPolicies)
}

func TestEvaluate_CandidateFiltering(t *testing.T) {
	wildcard := domain.Policy{
		ID: "GlobPolicy", Name: "GlobPolicy", Type: domain.TypeSelfHealing,
		Effect: domain.EffectAllow, Conditions: map[string]any{},
		Actions: []string{"pod.*"}, Resources: []string{"cluster/*"},
		Priority: 100, IsActive: true,
	}
	inactive := wildcard
	inactive.Name = "InactivePolicy"
	inactive.IsActive = false

	repo := &fakePolicyRepo{policies: []domain.Policy{wildcard, inactive}}
	auditor := &captureAuditor{}
	e := newTestEvaluator(repo, newMemCache(), auditor)

	d := e.Evaluate(context.Background(), domain.EvaluationRequest{
		Action: "pod.restart", Resource: "cluster/prod-1", Type: domain.TypeSelfHealing,
	})
	assert.True(t, d.Allowed)
	assert.Equal(t, []string{"GlobPolicy"}, d.AppliedPolicies)

	// Действие мимо паттерна — кандидатов нет
	d = e.Evaluate(context.Background(), domain.EvaluationRequest{
		Action: "node.drain", Resource: "cluster/prod-1", Type: domain.TypeSelfHealing,
	})
	assert.False(t, d.Allowed)
	assert.Equal(t, "No matching policy found", d.Reason)
}

func TestEvaluate_CacheReplay(t *testing.T) {
	repo := &fakePolicyRepo{policies: []domain.Policy{
		allowPolicy("AllowUserRead", 100, map[string]any{"role": "user"}),
	}}
	cache := newMemCache()
	auditor := &captureAuditor{}
	e := newTestEvaluator(repo, cache, auditor)

	req := domain.EvaluationRequest{
		Action: "read", Resource: "/api/users", Type: domain.TypeAPIAccess,
		Context: domain.RequestContext{Role: "user", UserID: "u1"},
	}

	first := e.Evaluate(context.Background(), req)
	second := e.Evaluate(context.Background(), req)

	assert.Equal(t, first, second)
	// Повтор в окне TTL: ни второго похода в стор, ни второй записи журнала
	assert.Equal(t, 1, repo.calls)
	assert.Len(t, auditor.all(), 1)
	assert.Equal(t, 1, cache.sets)
}

func TestEvaluate_CacheKeyIncludesIdentity(t *testing.T) {
	repo := &fakePolicyRepo{policies: []domain.Policy{
		allowPolicy("AllowUserRead", 100, map[string]any{"role": "user"}),
	}}
	cache := newMemCache()
	auditor := &captureAuditor{}
	e := newTestEvaluator(repo, cache, auditor)

	base := domain.EvaluationRequest{
		Action: "read", Resource: "/api/users", Type: domain.TypeAPIAccess,
		Context: domain.RequestContext{Role: "user"},
	}
	other := base
	other.Context.Role = "admin"

	allowed := e.Evaluate(context.Background(), base)
	denied := e.Evaluate(context.Background(), other)

	assert.True(t, allowed.Allowed)
	assert.False(t, denied.Allowed)
	// Разные роли — разные fingerprint'ы, решения не перемешиваются
	assert.Equal(t, 2, cache.sets)
	assert.Equal(t, 2, repo.calls)
}

func TestEvaluate_ErrorFailsClosed(t *testing.T) {
	repo := &fakePolicyRepo{err: errors.New("connection refused")}
	cache := newMemCache()
	auditor := &captureAuditor{}
	e := newTestEvaluator(repo, cache, auditor)

	d := e.Evaluate(context.Background(), domain.EvaluationRequest{
		Action: "read", Resource: "/api/users", Type: domain.TypeAPIAccess,
	})

	assert.Equal(t, domain.Decision{
		Allowed:         false,
		Reason:          "Policy evaluation error",
		AppliedPolicies: []string{},
	}, d)

	entries := auditor.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditError, entries[0].Result)
	assert.Equal(t, "connection refused", entries[0].Reason)

	// Ошибочное решение не мемоизируется
	assert.Equal(t, 0, cache.sets)
}

func TestEvaluate_CacheFailuresAreSwallowed(t *testing.T) {
	repo := &fakePolicyRepo{policies: []domain.Policy{
		allowPolicy("AllowUserRead", 100, map[string]any{}),
	}}
	cache := newMemCache()
	cache.getErr = errors.New("redis down")
	cache.setErr = errors.New("redis down")
	auditor := &captureAuditor{}
	e := newTestEvaluator(repo, cache, auditor)

	d := e.Evaluate(context.Background(), domain.EvaluationRequest{
		Action: "read", Resource: "/api/users", Type: domain.TypeAPIAccess,
	})

	// Сбой чтения = промах, сбой записи проглочен: решение полноценное
	assert.True(t, d.Allowed)
	assert.Len(t, auditor.all(), 1)
}

func TestEvaluate_WithoutCache(t *testing.T) {
	repo := &fakePolicyRepo{policies: []domain.Policy{
		allowPolicy("AllowUserRead", 100, map[string]any{}),
	}}
	auditor := &captureAuditor{}
	e := newTestEvaluator(repo, nil, auditor)

	d := e.Evaluate(context.Background(), domain.EvaluationRequest{
		Action: "read", Resource: "/api/users", Type: domain.TypeAPIAccess,
	})
	assert.True(t, d.Allowed)
}

func TestEvaluate_AuditCompleteness(t *testing.T) {
	// Каждая не-кэшированная оценка дает ровно одну запись журнала
	// с результатом своей категории
	repo := &fakePolicyRepo{policies: []domain.Policy{
		allowPolicy("AllowUserRead", 100, map[string]any{}),
	}}
	auditor := &captureAuditor{}
	e := newTestEvaluator(repo, nil, auditor)

	// allow
	e.Evaluate(context.Background(), domain.EvaluationRequest{
		Action: "read", Resource: "/api/users", Type: domain.TypeAPIAccess,
		Context: domain.RequestContext{
			UserID:    "u1",
			Metadata:  map[string]any{"dept": "eng"},
			IPAddress: "10.0.0.1",
			UserAgent: "healbot/1.0",
		},
	})
	// deny (нет кандидатов такого типа)
	e.Evaluate(context.Background(), domain.EvaluationRequest{
		Action: "read", Resource: "/api/users", Type: domain.TypeDataAccess,
	})
	// error
	repo.err = errors.New("boom")
	e.Evaluate(context.Background(), domain.EvaluationRequest{
		Action: "read", Resource: "/api/users", Type: domain.TypeAPIAccess,
	})

	entries := auditor.all()
	require.Len(t, entries, 3)
	assert.Equal(t, domain.AuditAllow, entries[0].Result)
	assert.Equal(t, domain.AuditDeny, entries[1].Result)
	assert.Equal(t, domain.AuditError, entries[2].Result)

	// Запись несет caller-supplied контекст
	assert.Equal(t, "u1", entries[0].UserID)
	assert.Equal(t, map[string]any{"dept": "eng"}, entries[0].Context)
	assert.Equal(t, "10.0.0.1", entries[0].IPAddress)
	assert.Equal(t, "healbot/1.0", entries[0].UserAgent)
	assert.Equal(t, []string{"AllowUserRead"}, entries[0].AppliedPolicies)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestEvaluate_ConcurrentCalls(t *testing.T) {
	repo := &fakePolicyRepo{policies: []domain.Policy{
		allowPolicy("AllowUserRead", 100, map[string]any{}),
	}}
	auditor := &captureAuditor{}
	e := newTestEvaluator(repo, newMemCache(), auditor)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := e.Evaluate(context.Background(), domain.EvaluationRequest{
				Action: "read", Resource: "/api/users", Type: domain.TypeAPIAccess,
			})
			assert.True(t, d.Allowed)
		}()
	}
	wg.Wait()
}
