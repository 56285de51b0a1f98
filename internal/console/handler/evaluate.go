package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/healops-policy-engine/internal/domain"
)

// DecisionMaker — контракт движка оценки с точки зрения транспорта
type DecisionMaker interface {
	Evaluate(ctx context.Context, req domain.EvaluationRequest) domain.Decision
}

type EvaluateHandler struct {
	engine DecisionMaker
}

func NewEvaluateHandler(engine DecisionMaker) *EvaluateHandler {
	return &EvaluateHandler{engine: engine}
}

// Evaluate принимает запрос «можно ли action над resource» и всегда
// отвечает 200 с решением: сбои оценки движок схлопывает в deny,
// до транспорта ошибка не доходит. 400 возможен только на битой форме
// запроса — это ошибка вызывающего, а не оценки.
// POST /v1/evaluate
func (h *EvaluateHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req domain.EvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Action == "" || req.Resource == "" {
		http.Error(w, "action and resource are required", http.StatusBadRequest)
		return
	}
	if !domain.ValidType(req.Type) {
		http.Error(w, "invalid policy type", http.StatusBadRequest)
		return
	}

	decision := h.engine.Evaluate(r.Context(), req)
	writeJSON(w, http.StatusOK, decision)
}
