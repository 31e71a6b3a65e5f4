package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/achadosufc/achados/internal/auth"
	"github.com/achadosufc/achados/internal/rest"
	"github.com/achadosufc/achados/internal/status"
	"github.com/achadosufc/achados/internal/store"
	"go.uber.org/zap"
)

type statusResponse struct {
	State    status.State `json:"state"`
	LoggedIn bool         `json:"loggedIn"`
	Username string       `json:"username,omitempty"`
	UserID   int64        `json:"userId,omitempty"`
}

// Status handles GET /v1/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{State: h.Machine.Current()}
	if creds := h.Creds.Current(); creds.Valid() {
		resp.LoggedIn = true
		resp.Username = creds.Username
		resp.UserID = creds.UserID
	}
	jsonResponse(w, http.StatusOK, resp)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleLoginRequest struct {
	Token string `json:"token"`
}

// Login handles POST /v1/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		jsonError(w, http.StatusBadRequest, "email and password required")
		return
	}

	res, err := h.Backend.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.loginFailed(w, err)
		return
	}
	h.finishLogin(w, res)
}

// GoogleLogin handles POST /v1/login/google.
func (h *Handler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Token == "" {
		jsonError(w, http.StatusBadRequest, "token required")
		return
	}

	res, err := h.Backend.GoogleLogin(r.Context(), req.Token)
	if err != nil {
		h.loginFailed(w, err)
		return
	}
	h.finishLogin(w, res)
}

func (h *Handler) loginFailed(w http.ResponseWriter, err error) {
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		jsonError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	h.Logger.Error("login failed", zap.Error(err))
	jsonError(w, http.StatusBadGateway, "backend unreachable")
}

func (h *Handler) finishLogin(w http.ResponseWriter, res *rest.LoginResult) {
	creds := &auth.Credentials{
		Token:     res.Token,
		UserID:    res.User.ID,
		Username:  res.User.Username,
		Name:      res.User.Name,
		Surname:   res.User.Surname,
		Email:     res.User.Email,
		Phone:     res.User.Phone,
		AvatarURL: res.User.AvatarURL,
	}
	if err := h.Creds.Set(creds); err != nil {
		h.Logger.Error("credential not persisted", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "credential not persisted")
		return
	}
	h.Logger.Info("logged in", zap.String("username", creds.Username))

	// The chat channel comes up in the background; login does not wait
	// for the websocket handshake.
	go func() {
		if err := h.Gateway.Connect(context.Background()); err != nil {
			h.Logger.Warn("chat channel not up after login", zap.Error(err))
		}
	}()

	jsonResponse(w, http.StatusOK, userResponse(res.User))
}

// Logout handles POST /v1/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.Gateway.Disconnect()
	if err := h.Creds.Clear(); err != nil {
		jsonError(w, http.StatusInternalServerError, "credential not cleared")
		return
	}
	_ = h.Machine.Transition(status.AuthRequired)
	h.Logger.Info("logged out")
	jsonResponse(w, http.StatusNoContent, nil)
}

type userJSON struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	Surname   string `json:"surname"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	AvatarURL string `json:"imageUrl,omitempty"`
}

func userResponse(u store.User) userJSON {
	return userJSON{
		ID:        u.ID,
		Username:  u.Username,
		Name:      u.Name,
		Surname:   u.Surname,
		Email:     u.Email,
		Phone:     u.Phone,
		AvatarURL: u.AvatarURL,
	}
}
