package api

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/achadosufc/achados/internal/imaging"
	"github.com/achadosufc/achados/internal/rest"
	"github.com/achadosufc/achados/internal/store"
	"go.uber.org/zap"
)

// ListUsers handles GET /v1/users: proxies the backend directory and
// refreshes the user cache along the way.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Backend.ListUsers(r.Context())
	if err != nil {
		h.backendError(w, err, "failed to list users")
		return
	}
	out := make([]userJSON, 0, len(users))
	for _, u := range users {
		h.cacheUser(u)
		out = append(out, userResponse(*u))
	}
	jsonResponse(w, http.StatusOK, out)
}

// GetUser handles GET /v1/users/{username}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Backend.GetUser(r.Context(), r.PathValue("username"))
	if err != nil {
		h.backendError(w, err, "failed to load user")
		return
	}
	h.cacheUser(u)
	jsonResponse(w, http.StatusOK, userResponse(*u))
}

// SearchUser handles GET /v1/users/search?email=. Starting a chat needs
// the counterpart's id, and email is how the app looks people up.
func (h *Handler) SearchUser(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		jsonError(w, http.StatusBadRequest, "email required")
		return
	}
	u, err := h.Backend.SearchUserByEmail(r.Context(), email)
	if err != nil {
		h.backendError(w, err, "user lookup failed")
		return
	}
	h.cacheUser(u)
	jsonResponse(w, http.StatusOK, userResponse(*u))
}

type createUserRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// CreateUser handles POST /v1/users (account registration).
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		jsonError(w, http.StatusBadRequest, "username, email and password required")
		return
	}

	u, err := h.Backend.CreateUser(r.Context(), store.User{
		Username: req.Username,
		Name:     req.Name,
		Surname:  req.Surname,
		Email:    req.Email,
		Phone:    req.Phone,
	}, req.Password)
	if err != nil {
		h.backendError(w, err, "failed to create account")
		return
	}
	jsonResponse(w, http.StatusCreated, userResponse(*u))
}

// UploadProfilePhoto handles PUT /v1/profile/photo: the photo is
// normalized like report photos and pushed through the standalone
// upload endpoint.
func (h *Handler) UploadProfilePhoto(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxReportPhotoBytes)
	if err := r.ParseMultipartForm(maxReportPhotoBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "photo required")
		return
	}
	defer file.Close()

	photo, err := imaging.Normalize(file)
	if err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	url, err := h.Backend.UploadFile(r.Context(), "profile.jpg", bytes.NewReader(photo.Data))
	if err != nil {
		h.backendError(w, err, "photo upload failed")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"imageUrl": url})
}

func (h *Handler) backendError(w http.ResponseWriter, err error, msg string) {
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Status {
		case http.StatusNotFound:
			jsonError(w, http.StatusNotFound, "not found")
			return
		case http.StatusUnauthorized:
			jsonError(w, http.StatusUnauthorized, "not logged in")
			return
		case http.StatusConflict:
			jsonError(w, http.StatusConflict, "already exists")
			return
		}
	}
	h.Logger.Error(msg, zap.Error(err))
	jsonError(w, http.StatusBadGateway, msg)
}

func (h *Handler) cacheUser(u *store.User) {
	if err := h.DB.UpsertUser(u); err != nil {
		h.Logger.Warn("user not cached", zap.Int64("id", u.ID), zap.Error(err))
	}
}
