package domain

import (
	"errors"
	"time"
)

// PolicyEffect определяет, что делать с запросом
type PolicyEffect string

const (
	EffectAllow PolicyEffect = "allow" // Разрешить действие
	EffectDeny  PolicyEffect = "deny"  // Заблокировать
)

// PolicyType — домен, к которому относится правило.
// Self-healing политики регулируют автоматические ремонтные операции,
// остальные типы закрывают API, данные и лимиты ресурсов.
type PolicyType string

const (
	TypeAPIAccess     PolicyType = "api_access"
	TypeSelfHealing   PolicyType = "self_healing"
	TypeDataAccess    PolicyType = "data_access"
	TypeResourceLimit PolicyType = "resource_limit"
)

const (
	// DefaultPriority присваивается, если приоритет не указан при создании
	DefaultPriority = 100
	MinPriority     = 0
	MaxPriority     = 1000
)

// ErrPolicyNotFound — единственная ошибка управления, которая пересекает
// границу компонента (хендлер превращает её в 404)
var ErrPolicyNotFound = errors.New("policy not found")

// Policy представляет собой декларативное правило доступа/самовосстановления.
// Conditions хранятся как JSONB: это позволяет ИБ-команде писать сложные
// условия (роль, время, metadata), не меняя структуру БД.
type Policy struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        PolicyType     `json:"type"`
	Effect      PolicyEffect   `json:"effect"`
	Conditions  map[string]any `json:"conditions"`
	Actions     []string       `json:"actions"`   // Паттерны действий: "read", "pod.restart", "*"
	Resources   []string       `json:"resources"` // Паттерны ресурсов: "/api/users", "cluster/*"
	Priority    int            `json:"priority"`  // 0-1000, выше = проверяется раньше
	IsActive    bool           `json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ValidType проверяет принадлежность к фиксированному перечислению
func ValidType(t PolicyType) bool {
	switch t {
	case TypeAPIAccess, TypeSelfHealing, TypeDataAccess, TypeResourceLimit:
		return true
	}
	return false
}

func ValidEffect(e PolicyEffect) bool {
	return e == EffectAllow || e == EffectDeny
}

// PolicyUpdate — частичное обновление (merge-семантика).
// nil-поле означает «оставить как есть».
type PolicyUpdate struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Type        *PolicyType     `json:"type,omitempty"`
	Effect      *PolicyEffect   `json:"effect,omitempty"`
	Conditions  *map[string]any `json:"conditions,omitempty"`
	Actions     *[]string       `json:"actions,omitempty"`
	Resources   *[]string       `json:"resources,omitempty"`
	Priority    *int            `json:"priority,omitempty"`
	IsActive    *bool           `json:"is_active,omitempty"`
}
