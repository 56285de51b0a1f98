package domain

// RequestContext — данные о вызывающей стороне, которые приходят вместе
// с запросом. Движок им доверяет как есть: аутентичность проверяется
// снаружи (шлюзом), здесь только матчинг условий.
type RequestContext struct {
	UserID    string         `json:"user_id,omitempty"`
	Role      string         `json:"role,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
}

// EvaluationRequest — иммутабельный запрос «можно ли выполнить action над
// resource». Конструируется заново на каждый вызов.
type EvaluationRequest struct {
	Action   string         `json:"action"`
	Resource string         `json:"resource"`
	Type     PolicyType     `json:"type"`
	Context  RequestContext `json:"context"`
}

// Decision — итог оценки. AppliedPolicies содержит имена ВСЕХ совпавших
// политик в порядке обхода, а не только той, что определила исход.
type Decision struct {
	Allowed         bool     `json:"allowed"`
	Reason          string   `json:"reason"`
	AppliedPolicies []string `json:"applied_policies"`
}
