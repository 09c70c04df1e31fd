package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/peterje/steamsession/internal/models"
)

// AttemptLister reads the login history.
type AttemptLister interface {
	List(ctx context.Context, limit int) ([]models.Attempt, error)
}

type AttemptsHandler struct {
	history AttemptLister
}

func NewAttemptsHandler(history AttemptLister) *AttemptsHandler {
	return &AttemptsHandler{history: history}
}

func (h *AttemptsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			WriteError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	attempts, err := h.history.List(r.Context(), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, attempts)
}
