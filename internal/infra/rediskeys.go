package infra

import "strings"

const (
	// RedisNamespace — базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "healops"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPolicyUpdate — широковещательный сигнал об изменении политик.
	// Инстансы движка по нему сбрасывают мемоизированные решения.
	RedisChanPolicyUpdate = RedisNamespace + ":policies:update"
)

// DecisionCachePrefix — пространство ключей мемоизации решений
const DecisionCachePrefix = RedisNamespace + ":policy:eval:"

// DecisionCacheKey строит fingerprint решения. Анонимные запросы и запросы
// без роли получают стабильные плейсхолдеры, чтобы ключ был детерминирован.
func DecisionCacheKey(policyType, action, resource, userID, role string) string {
	if userID == "" {
		userID = "anonymous"
	}
	if role == "" {
		role = "none"
	}
	return DecisionCachePrefix + strings.Join([]string{policyType, action, resource, userID, role}, ":")
}
