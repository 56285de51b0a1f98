package service

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/healops-policy-engine/internal/domain"
)

// memPolicyRepo — in-memory замена Postgres для тестов сервиса
type memPolicyRepo struct {
	mu       sync.Mutex
	policies map[string]domain.Policy
	nextID   int
}

func newMemPolicyRepo() *memPolicyRepo {
	return &memPolicyRepo{policies: map[string]domain.Policy{}}
}

func (r *memPolicyRepo) GetByID(_ context.Context, id string) (*domain.Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.policies[id]
	if !ok {
		return nil, domain.ErrPolicyNotFound
	}
	return &p, nil
}

func (r *memPolicyRepo) List(_ context.Context) ([]domain.Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Policy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p)
	}
	return out, nil
}

func (r *memPolicyRepo) Create(_ context.Context, p *domain.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = "pol-" + strconv.Itoa(r.nextID)
	r.policies[p.ID] = *p
	return nil
}

func (r *memPolicyRepo) Update(_ context.Context, p *domain.Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.policies[p.ID]; !ok {
		return domain.ErrPolicyNotFound
	}
	r.policies[p.ID] = *p
	return nil
}

func (r *memPolicyRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.policies[id]; !ok {
		return domain.ErrPolicyNotFound
	}
	delete(r.policies, id)
	return nil
}

// fakePublisher считает сигналы инвалидации
type fakePublisher struct {
	mu       sync.Mutex
	channels []string
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, _ interface{}) *redis.IntCmd {
	p.mu.Lock()
	p.channels = append(p.channels, channel)
	p.mu.Unlock()
	return redis.NewIntCmd(ctx)
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.channels)
}

func validInput() CreatePolicyInput {
	return CreatePolicyInput{
		Name:      "AllowUserRead",
		Type:      domain.TypeAPIAccess,
		Effect:    domain.EffectAllow,
		Actions:   []string{"read"},
		Resources: []string{"/api/users"},
	}
}

func TestPolicyService_CreateAppliesDefaults(t *testing.T) {
	repo := newMemPolicyRepo()
	pub := &fakePublisher{}
	s := NewPolicyService(repo, pub, zap.NewNop())

	p, err := s.Create(context.Background(), validInput())
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, domain.DefaultPriority, p.Priority)
	assert.True(t, p.IsActive)
	assert.NotNil(t, p.Conditions)
	// Управляющая операция шлет сигнал инвалидации
	assert.Equal(t, 1, pub.count())
}

func TestPolicyService_CreateZeroPriorityIsValid(t *testing.T) {
	repo := newMemPolicyRepo()
	s := NewPolicyService(repo, &fakePublisher{}, zap.NewNop())

	in := validInput()
	zero := 0
	in.Priority = &zero

	p, err := s.Create(context.Background(), in)
	require.NoError(t, err)
	// Переданный 0 не путается с «не передано» (дефолт 100)
	assert.Equal(t, 0, p.Priority)
}

func TestPolicyService_CreateValidation(t *testing.T) {
	repo := newMemPolicyRepo()
	s := NewPolicyService(repo, &fakePublisher{}, zap.NewNop())

	testCases := []struct {
		name   string
		mutate func(*CreatePolicyInput)
	}{
		{"empty name", func(in *CreatePolicyInput) { in.Name = "" }},
		{"bad type", func(in *CreatePolicyInput) { in.Type = "network_access" }},
		{"bad effect", func(in *CreatePolicyInput) { in.Effect = "maybe" }},
		{"priority too high", func(in *CreatePolicyInput) { v := 1001; in.Priority = &v }},
		{"priority negative", func(in *CreatePolicyInput) { v := -1; in.Priority = &v }},
		{"no actions", func(in *CreatePolicyInput) { in.Actions = nil }},
		{"no resources", func(in *CreatePolicyInput) { in.Resources = nil }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := s.Create(context.Background(), in)
			assert.Error(t, err)
		})
	}
}

func TestPolicyService_UpdateMergeSemantics(t *testing.T) {
	repo := newMemPolicyRepo()
	pub := &fakePublisher{}
	s := NewPolicyService(repo, pub, zap.NewNop())

	created, err := s.Create(context.Background(), validInput())
	require.NoError(t, err)

	// Меняем только приоритет — остальное обязано сохраниться
	newPriority := 500
	updated, err := s.Update(context.Background(), created.ID, domain.PolicyUpdate{
		Priority: &newPriority,
	})
	require.NoError(t, err)

	assert.Equal(t, 500, updated.Priority)
	assert.Equal(t, "AllowUserRead", updated.Name)
	assert.Equal(t, domain.TypeAPIAccess, updated.Type)
	assert.Equal(t, []string{"read"}, updated.Actions)

	// create + update = два сигнала
	assert.Equal(t, 2, pub.count())
}

func TestPolicyService_UpdateRejectsInvalidMerge(t *testing.T) {
	repo := newMemPolicyRepo()
	s := NewPolicyService(repo, &fakePublisher{}, zap.NewNop())

	created, err := s.Create(context.Background(), validInput())
	require.NoError(t, err)

	badEffect := domain.PolicyEffect("maybe")
	_, err = s.Update(context.Background(), created.ID, domain.PolicyUpdate{Effect: &badEffect})
	assert.Error(t, err)
}

func TestPolicyService_NotFound(t *testing.T) {
	repo := newMemPolicyRepo()
	s := NewPolicyService(repo, &fakePublisher{}, zap.NewNop())

	_, err := s.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrPolicyNotFound)

	name := "x"
	_, err = s.Update(context.Background(), "missing", domain.PolicyUpdate{Name: &name})
	assert.ErrorIs(t, err, domain.ErrPolicyNotFound)

	err = s.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrPolicyNotFound)
}

func TestPolicyService_DeletePublishesSignal(t *testing.T) {
	repo := newMemPolicyRepo()
	pub := &fakePublisher{}
	s := NewPolicyService(repo, pub, zap.NewNop())

	created, err := s.Create(context.Background(), validInput())
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), created.ID))
	assert.Equal(t, 2, pub.count())

	_, err = s.GetByID(context.Background(), created.ID)
	assert.ErrorIs(t, err, domain.ErrPolicyNotFound)
}
