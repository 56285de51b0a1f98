package engine

import (
	"regexp"
	"strings"
	"sync"
)

// Кэш скомпилированных паттернов. Набор паттернов ограничен содержимым
// таблицы политик, так что мапа не растет бесконтрольно.
var patternCache sync.Map // pattern -> *regexp.Regexp

// Match проверяет value против ограниченного glob-паттерна:
// '*' — любая последовательность символов (включая пустую),
// '?' — ровно один символ, остальное — литералы.
// Матч якорный (вся строка целиком), регистрозависимый.
// Чистая функция, безопасна для конкурентного вызова.
func Match(value, pattern string) bool {
	// Fast-path: одиночная звездочка матчит всё
	if pattern == "*" {
		return true
	}

	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(value)
	}

	re, err := compilePattern(pattern)
	if err != nil {
		// QuoteMeta исключает невалидные регэкспы, но страхуемся:
		// битый паттерн не матчит ничего
		return false
	}
	patternCache.Store(pattern, re)
	return re.MatchString(value)
}

// compilePattern экранирует литералы и подставляет '*'→'.*', '?'→'.'
func compilePattern(pattern string) (*regexp.Regexp, error) {
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `.*`)
	escaped = strings.ReplaceAll(escaped, `\?`, `.`)
	return regexp.Compile("^" + escaped + "$")
}

// matchesAny — проверка списка паттернов политики: wildcard, точное
// совпадение или glob-матч
func matchesAny(value string, patterns []string) bool {
	for _, p := range patterns {
		if p == "*" || p == value || Match(value, p) {
			return true
		}
	}
	return false
}
