package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/healops-policy-engine/internal/console/service"
	"github.com/xela07ax/healops-policy-engine/internal/domain"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetLogs возвращает журнал оценок с поддержкой фильтрации
// GET /v1/audit?user_id=...&action=...&start=...&end=...&limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.AuditFilter{
		UserID: q.Get("user_id"),
		Action: q.Get("action"),
	}

	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid start date, expected RFC3339", http.StatusBadRequest)
			return
		}
		f.StartDate = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid end date, expected RFC3339", http.StatusBadRequest)
			return
		}
		f.EndDate = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}

	logs, err := h.service.FetchLogs(r.Context(), f)
	if err != nil {
		http.Error(w, "Failed to fetch audit logs", http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []domain.AuditLogEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}
