package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/achadosufc/achados/internal/rest"
	"github.com/achadosufc/achados/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxReportPhotoBytes caps the multipart body of a report submission.
const maxReportPhotoBytes = 20 << 20

type itemJSON struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ImageURL    string   `json:"imageUrl"`
	Location    string   `json:"location"`
	IsFound     bool     `json:"isFound"`
	Date        string   `json:"date"`
	User        userJSON `json:"user"`
}

func itemResponse(it *store.Item) itemJSON {
	return itemJSON{
		ID:          it.ID,
		Title:       it.Title,
		Description: it.Description,
		ImageURL:    it.ImageURL,
		Location:    it.Location,
		IsFound:     it.IsFound,
		Date:        it.Date,
		User:        userResponse(it.Owner),
	}
}

// ListItems handles GET /v1/items. Reads come from the cache;
// ?refresh=1 reconciles against the backend first and ?user=ID scopes
// both the refresh and the listing to one owner.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	var userID int64
	if raw := r.URL.Query().Get("user"); raw != "" {
		var err error
		userID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "invalid user id")
			return
		}
	}

	if r.URL.Query().Get("refresh") == "1" {
		var err error
		if userID != 0 {
			err = h.Items.RefreshByUser(r.Context(), userID)
		} else {
			err = h.Items.RefreshAll(r.Context())
		}
		if err != nil {
			// Serve the stale cache; the client sees it is offline data.
			h.Logger.Warn("item refresh failed, serving cache", zap.Error(err))
			w.Header().Set("X-Cache-Stale", "true")
		}
	}

	var (
		list []store.Item
		err  error
	)
	if userID != 0 {
		list, err = h.Items.ByUser(userID)
	} else {
		list, err = h.Items.All()
	}
	if err != nil {
		h.Logger.Error("list items failed", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "failed to list items")
		return
	}

	out := make([]itemJSON, 0, len(list))
	for i := range list {
		out = append(out, itemResponse(&list[i]))
	}
	jsonResponse(w, http.StatusOK, out)
}

// GetItem handles GET /v1/items/{id}.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	it, err := h.Items.Get(id)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	if it == nil {
		jsonError(w, http.StatusNotFound, "item not cached")
		return
	}
	jsonResponse(w, http.StatusOK, itemResponse(it))
}

// SubmitReport handles POST /v1/reports. The photo is staged into the
// session media dir and the submission queued; upload happens in the
// background with retries, so the handler answers 202 immediately.
func (h *Handler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxReportPhotoBytes)
	if err := r.ParseMultipartForm(maxReportPhotoBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	report := rest.Report{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Location:    r.FormValue("location"),
		IsFound:     r.FormValue("isFound") == "true",
	}
	if report.Title == "" || report.Location == "" {
		jsonError(w, http.StatusBadRequest, "title and location required")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "photo required")
		return
	}
	defer file.Close()

	stagedPath, err := h.stagePhoto(file)
	if err != nil {
		h.Logger.Error("photo staging failed", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "failed to store photo")
		return
	}

	jobID, err := h.Uploads.Enqueue(report, stagedPath)
	if err != nil {
		h.Logger.Error("report enqueue failed", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "failed to queue report")
		return
	}
	jsonResponse(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (h *Handler) stagePhoto(file io.Reader) (string, error) {
	if err := os.MkdirAll(h.MediaDir, 0700); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	path := filepath.Join(h.MediaDir, uuid.NewString()+".img")
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", fmt.Errorf("create staged photo: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write staged photo: %w", err)
	}
	return path, nil
}

type reportJSON struct {
	JobID         string `json:"jobId"`
	Title         string `json:"title"`
	Location      string `json:"location"`
	IsFound       bool   `json:"isFound"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	ErrorMessage  string `json:"error,omitempty"`
	NextAttemptAt int64  `json:"nextAttemptAt,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
}

// ListReports handles GET /v1/reports.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Uploads.Jobs()
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	out := make([]reportJSON, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, reportJSON{
			JobID:         j.JobID,
			Title:         j.Title,
			Location:      j.Location,
			IsFound:       j.IsFound,
			Status:        j.Status,
			Attempts:      j.Attempts,
			ErrorMessage:  j.ErrorMessage,
			NextAttemptAt: j.NextAttemptAt,
			CreatedAt:     j.CreatedAt,
		})
	}
	jsonResponse(w, http.StatusOK, out)
}

// DiscardReport handles DELETE /v1/reports/{jobId}.
func (h *Handler) DiscardReport(w http.ResponseWriter, r *http.Request) {
	if err := h.Uploads.Discard(r.PathValue("jobId")); err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to discard report")
		return
	}
	jsonResponse(w, http.StatusNoContent, nil)
}
