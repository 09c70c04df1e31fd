package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"

	"github.com/peterje/steamsession/internal/login"
	"github.com/peterje/steamsession/internal/process"
)

// LoginService is the part of login.Manager the HTTP layer drives.
type LoginService interface {
	Start(ctx context.Context, creds login.Credentials) (login.Snapshot, error)
	SubmitCode(code string) error
	Cancel()
	Snapshot() login.Snapshot
}

type LoginHandler struct {
	manager LoginService
}

func NewLoginHandler(manager LoginService) *LoginHandler {
	return &LoginHandler{manager: manager}
}

func (h *LoginHandler) HandleGet(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, h.manager.Snapshot())
}

func (h *LoginHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username   string   `json:"username"`
		Password   string   `json:"password"`
		AfterLogin []string `json:"after_login"`
		AppID      int      `json:"app_id"`
		InstallDir string   `json:"install_dir"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.AppID < 0 {
		WriteError(w, http.StatusBadRequest, "app_id must be positive")
		return
	}

	creds := login.Credentials{
		Username:   body.Username,
		Password:   body.Password,
		AfterLogin: body.AfterLogin,
	}
	if body.AppID > 0 {
		dir := body.InstallDir
		if dir == "" {
			dir = path.Join("apps", strconv.Itoa(body.AppID))
		}
		creds.AfterLogin = append(creds.AfterLogin, login.AppUpdateCommand(dir, body.AppID))
	}

	// The session outlives the request; only its values are kept.
	snap, err := h.manager.Start(context.WithoutCancel(r.Context()), creds)
	if err != nil {
		status, msg := startError(err)
		WriteError(w, status, msg)
		return
	}
	WriteJSON(w, http.StatusAccepted, snap)
}

func startError(err error) (int, string) {
	var spawnErr *process.SpawnError
	switch {
	case errors.Is(err, login.ErrInvalidCredentials):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, login.ErrSessionActive), errors.Is(err, login.ErrCancelled):
		return http.StatusConflict, err.Error()
	case errors.As(err, &spawnErr):
		return http.StatusInternalServerError, fmt.Sprintf("start steamcmd: %v", spawnErr)
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func (h *LoginHandler) HandleCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	err := h.manager.SubmitCode(body.Code)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, login.ErrNoSession):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, login.ErrEmptyCode):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, login.ErrNotAwaitingCode):
		WriteError(w, http.StatusConflict, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *LoginHandler) HandleCancel(w http.ResponseWriter, _ *http.Request) {
	h.manager.Cancel()
	w.WriteHeader(http.StatusNoContent)
}
