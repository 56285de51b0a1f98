package domain

import "time"

// AuditResult — категория исхода оценки в журнале
type AuditResult string

const (
	AuditAllow AuditResult = "allow"
	AuditDeny  AuditResult = "deny"
	AuditError AuditResult = "error" // Сбой оценки, fail-closed deny
)

// AuditLogEntry — одна запись журнала оценок. Append-only: движок никогда
// не обновляет и не удаляет записанное.
type AuditLogEntry struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id,omitempty"`
	Action          string         `json:"action"`
	Resource        string         `json:"resource"`
	Result          AuditResult    `json:"result"`
	Context         map[string]any `json:"context,omitempty"` // Только caller-supplied metadata
	AppliedPolicies []string       `json:"applied_policies"`
	Reason          string         `json:"reason"`
	IPAddress       string         `json:"ip_address,omitempty"`
	UserAgent       string         `json:"user_agent,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// AuditFilter — параметры выборки журнала (только чтение)
type AuditFilter struct {
	UserID    string
	Action    string
	StartDate time.Time
	EndDate   time.Time
	Limit     int // 0 = дефолтные 100
}

// DefaultAuditLimit ограничивает выдачу, если лимит не задан
const DefaultAuditLimit = 100
