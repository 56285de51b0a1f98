package engine

import (
	"reflect"
	"time"

	"github.com/xela07ax/healops-policy-engine/internal/domain"
)

// EvalConditions проверяет, что ВСЕ условия политики выполняются для
// данного контекста (логическое AND, первый провал обрывает проверку).
// Условия никогда не приводят к ошибке: неизвестный ключ или кривое
// значение просто не проходят сравнение.
func EvalConditions(conditions map[string]any, rc domain.RequestContext) bool {
	for key, expected := range conditions {
		if !evalCondition(key, expected, rc) {
			return false
		}
	}
	return true
}

func evalCondition(key string, expected any, rc domain.RequestContext) bool {
	switch key {
	case "role":
		return valueEquals(expected, rc.Role)

	case "roles":
		// Значение должно быть массивом, роль контекста — его элементом
		list, ok := expected.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if valueEquals(item, rc.Role) {
				return true
			}
		}
		return false

	case "userId":
		return valueEquals(expected, rc.UserID)

	case "ipRange":
		// Проверка CIDR так и не была реализована в исходной системе:
		// условие всегда проходит. Существующие политики зависят от
		// этого поведения, менять без отдельного решения нельзя.
		return true

	case "timeRange":
		return evalTimeRange(expected, time.Now())

	case "metadata":
		want, ok := expected.(map[string]any)
		if !ok {
			return false
		}
		// Subset-семантика: каждый ключ условия обязан совпасть,
		// лишние ключи контекста игнорируются
		for k, v := range want {
			got, present := rc.Metadata[k]
			if !present || !valueEquals(v, got) {
				return false
			}
		}
		return true

	default:
		// Generic fallback: строгое равенство с одноименным полем контекста
		got, present := contextValue(key, rc)
		return present && valueEquals(expected, got)
	}
}

// evalTimeRange проверяет, что now лежит в [start, end] включительно
func evalTimeRange(expected any, now time.Time) bool {
	window, ok := expected.(map[string]any)
	if !ok {
		return false
	}
	start, okStart := parseTimestamp(window["start"])
	end, okEnd := parseTimestamp(window["end"])
	if !okStart || !okEnd {
		return false
	}
	return !now.Before(start) && !now.After(end)
}

// parseTimestamp принимает time.Time, RFC3339-строку или unix-секунды —
// ровно те формы, в которых timestamp приезжает из JSONB или из кода
func parseTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	case float64:
		return time.Unix(int64(t), 0), true
	case int64:
		return time.Unix(t, 0), true
	case int:
		return time.Unix(int64(t), 0), true
	}
	return time.Time{}, false
}

// contextValue отдает именованное поле контекста для fallback-условий
func contextValue(key string, rc domain.RequestContext) (any, bool) {
	switch key {
	case "userId":
		return rc.UserID, true
	case "role":
		return rc.Role, true
	case "ipAddress":
		return rc.IPAddress, true
	case "userAgent":
		return rc.UserAgent, true
	}
	if rc.Metadata != nil {
		if v, ok := rc.Metadata[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// valueEquals — строгое равенство поверх JSON-декодированных значений.
// Числа нормализуются к float64, потому что JSONB всегда отдает float64,
// а значения из кода могут быть int.
func valueEquals(a, b any) bool {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
