package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/peterje/steamsession/internal/login"
)

// SteamInstaller manages the steamcmd installation.
type SteamInstaller interface {
	IsInstalled() bool
	Install(ctx context.Context) error
	Uninstall() error
}

type SteamCMDHandler struct {
	installer SteamInstaller
	manager   LoginService
	mu        sync.Mutex // one install or uninstall at a time
}

func NewSteamCMDHandler(installer SteamInstaller, manager LoginService) *SteamCMDHandler {
	return &SteamCMDHandler{installer: installer, manager: manager}
}

type steamCMDStatus struct {
	Installed bool `json:"installed"`
}

func (h *SteamCMDHandler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, steamCMDStatus{Installed: h.installer.IsInstalled()})
}

func (h *SteamCMDHandler) HandleInstall(w http.ResponseWriter, r *http.Request) {
	if !h.mu.TryLock() {
		WriteError(w, http.StatusConflict, "steamcmd install already in progress")
		return
	}
	defer h.mu.Unlock()

	if h.installer.IsInstalled() {
		WriteJSON(w, http.StatusOK, steamCMDStatus{Installed: true})
		return
	}
	if err := h.installer.Install(context.WithoutCancel(r.Context())); err != nil {
		WriteError(w, http.StatusBadGateway, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, steamCMDStatus{Installed: true})
}

func (h *SteamCMDHandler) HandleUninstall(w http.ResponseWriter, _ *http.Request) {
	if !h.mu.TryLock() {
		WriteError(w, http.StatusConflict, "steamcmd install already in progress")
		return
	}
	defer h.mu.Unlock()

	if h.manager.Snapshot().Active() {
		WriteError(w, http.StatusConflict, login.ErrSessionActive.Error())
		return
	}
	if err := h.installer.Uninstall(); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
