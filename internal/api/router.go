package api

import (
	"net/http"

	"github.com/achadosufc/achados/internal/auth"
	"github.com/achadosufc/achados/internal/bus"
	"github.com/achadosufc/achados/internal/gateway"
	"github.com/achadosufc/achados/internal/items"
	"github.com/achadosufc/achados/internal/rest"
	"github.com/achadosufc/achados/internal/status"
	"github.com/achadosufc/achados/internal/store"
	"github.com/achadosufc/achados/internal/sync"
	"github.com/achadosufc/achados/internal/upload"
	"go.uber.org/zap"
)

// Handler bundles everything the control API exposes.
type Handler struct {
	Machine  *status.Machine
	Creds    *auth.Store
	Backend  *rest.Client
	Gateway  *gateway.Session
	Engine   *sync.Engine
	Items    *items.Repository
	Uploads  *upload.Worker
	DB       *store.DB
	Bus      *bus.Bus
	MediaDir string
	Logger   *zap.Logger
}

// NewRouter registers every control endpoint.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/status", h.Status)
	mux.HandleFunc("POST /v1/login", h.Login)
	mux.HandleFunc("POST /v1/login/google", h.GoogleLogin)
	mux.HandleFunc("POST /v1/logout", h.Logout)

	mux.HandleFunc("GET /v1/conversations", h.Conversations)
	mux.HandleFunc("GET /v1/messages/{userId}", h.Messages)
	mux.HandleFunc("POST /v1/messages", h.SendMessage)

	mux.HandleFunc("GET /v1/items", h.ListItems)
	mux.HandleFunc("GET /v1/items/{id}", h.GetItem)

	mux.HandleFunc("GET /v1/users", h.ListUsers)
	mux.HandleFunc("GET /v1/users/search", h.SearchUser)
	mux.HandleFunc("GET /v1/users/{username}", h.GetUser)
	mux.HandleFunc("POST /v1/users", h.CreateUser)
	mux.HandleFunc("PUT /v1/profile/photo", h.UploadProfilePhoto)

	mux.HandleFunc("POST /v1/reports", h.SubmitReport)
	mux.HandleFunc("GET /v1/reports", h.ListReports)
	mux.HandleFunc("DELETE /v1/reports/{jobId}", h.DiscardReport)

	mux.HandleFunc("GET /v1/events", h.Events)

	return mux
}
