package api

import (
	"log/slog"
	"net/http"

	"github.com/peterje/steamsession/internal/login"
	"github.com/peterje/steamsession/internal/models"
)

// AccountStore exposes the stored steamcmd login.
type AccountStore interface {
	Refresh() error
	IsSignedIn() bool
	CurrentUsername() (string, bool)
	Forget() error
}

type AccountHandler struct {
	store   AccountStore
	manager LoginService
	log     *slog.Logger
}

func NewAccountHandler(store AccountStore, manager LoginService, log *slog.Logger) *AccountHandler {
	return &AccountHandler{store: store, manager: manager, log: log}
}

func (h *AccountHandler) HandleGet(w http.ResponseWriter, _ *http.Request) {
	if err := h.store.Refresh(); err != nil {
		h.log.Warn("refresh credentials", "error", err)
	}
	name, _ := h.store.CurrentUsername()
	WriteJSON(w, http.StatusOK, models.Account{SignedIn: h.store.IsSignedIn(), Username: name})
}

func (h *AccountHandler) HandleForget(w http.ResponseWriter, _ *http.Request) {
	if h.manager.Snapshot().Active() {
		WriteError(w, http.StatusConflict, login.ErrSessionActive.Error())
		return
	}
	if err := h.store.Forget(); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
