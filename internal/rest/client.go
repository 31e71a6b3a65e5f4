// Package rest is the HTTP client for the AchadosUFC backend API:
// authentication, item listings and multipart report submission.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/achadosufc/achados/internal/auth"
	"github.com/achadosufc/achados/internal/store"
	"go.uber.org/zap"
)

const requestTimeout = 30 * time.Second

// APIError is a non-2xx backend response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Body)
}

// Transient reports whether the failure is worth retrying. Client errors
// (4xx) are permanent; server errors may recover.
func (e *APIError) Transient() bool {
	return e.Status >= 500
}

// Client talks to the backend REST API on behalf of one session.
type Client struct {
	baseURL string
	http    *http.Client
	creds   *auth.Store
	logger  *zap.Logger
}

// NewClient creates a backend client. Requests carry the stored
// credential as a bearer token when one is present.
func NewClient(baseURL string, creds *auth.Store, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		creds:   creds,
		logger:  logger,
	}
}

// wireUser mirrors the backend's user JSON.
type wireUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	ImageURL string `json:"imageUrl"`
}

func (wu *wireUser) toStore() store.User {
	return store.User{
		ID:        wu.ID,
		Username:  wu.Username,
		Name:      wu.Name,
		Surname:   wu.Surname,
		Email:     wu.Email,
		Phone:     wu.Phone,
		AvatarURL: wu.ImageURL,
	}
}

// wireItem mirrors the backend's item JSON.
type wireItem struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ImageURL    string   `json:"imageUrl"`
	Location    string   `json:"location"`
	IsFound     bool     `json:"isFound"`
	Date        string   `json:"date"`
	User        wireUser `json:"user"`
}

func (wi *wireItem) toStore() *store.Item {
	return &store.Item{
		ID:          wi.ID,
		Title:       wi.Title,
		Description: wi.Description,
		ImageURL:    wi.ImageURL,
		Location:    wi.Location,
		IsFound:     wi.IsFound,
		Date:        wi.Date,
		Owner:       wi.User.toStore(),
	}
}

// LoginResult is the backend's answer to a successful login.
type LoginResult struct {
	Token string
	User  store.User
}

type loginResponse struct {
	Token string   `json:"token"`
	User  wireUser `json:"user"`
}

// Login authenticates with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body := map[string]string{"email": email, "password": password}
	var resp loginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", body, &resp); err != nil {
		return nil, err
	}
	return &LoginResult{Token: resp.Token, User: resp.User.toStore()}, nil
}

// GoogleLogin exchanges a Google ID token for a backend session.
func (c *Client) GoogleLogin(ctx context.Context, idToken string) (*LoginResult, error) {
	body := map[string]string{"token": idToken}
	var resp loginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/google", body, &resp); err != nil {
		return nil, err
	}
	return &LoginResult{Token: resp.Token, User: resp.User.toStore()}, nil
}

// ListItems fetches every published item.
func (c *Client) ListItems(ctx context.Context) ([]*store.Item, error) {
	var wire []wireItem
	if err := c.doJSON(ctx, http.MethodGet, "/items", nil, &wire); err != nil {
		return nil, err
	}
	items := make([]*store.Item, 0, len(wire))
	for i := range wire {
		items = append(items, wire[i].toStore())
	}
	return items, nil
}

// ListItemsByUser fetches the items published by one user.
func (c *Client) ListItemsByUser(ctx context.Context, userID int64) ([]*store.Item, error) {
	var wire []wireItem
	path := "/items?userId=" + strconv.FormatInt(userID, 10)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	items := make([]*store.Item, 0, len(wire))
	for i := range wire {
		items = append(items, wire[i].toStore())
	}
	return items, nil
}

// Report is the payload for a new lost-or-found item submission.
type Report struct {
	Title       string
	Description string
	Location    string
	IsFound     bool
}

// CreateItem submits a report with its photo as multipart form data and
// returns the published item.
func (c *Client) CreateItem(ctx context.Context, report Report, filename string, image io.Reader) (*store.Item, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("copy image into form: %w", err)
	}
	fields := map[string]string{
		"title":       report.Title,
		"description": report.Description,
		"location":    report.Location,
		"isFound":     strconv.FormatBool(report.IsFound),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write form field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finish multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/items", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var wire wireItem
	if err := c.send(req, &wire); err != nil {
		return nil, err
	}
	return wire.toStore(), nil
}

// ListUsers fetches every registered user.
func (c *Client) ListUsers(ctx context.Context) ([]*store.User, error) {
	var wire []wireUser
	if err := c.doJSON(ctx, http.MethodGet, "/users", nil, &wire); err != nil {
		return nil, err
	}
	users := make([]*store.User, 0, len(wire))
	for i := range wire {
		u := wire[i].toStore()
		users = append(users, &u)
	}
	return users, nil
}

// GetUser fetches a user profile by username.
func (c *Client) GetUser(ctx context.Context, username string) (*store.User, error) {
	var wire wireUser
	if err := c.doJSON(ctx, http.MethodGet, "/users/"+url.PathEscape(username), nil, &wire); err != nil {
		return nil, err
	}
	u := wire.toStore()
	return &u, nil
}

// SearchUserByEmail looks a user up by email address.
func (c *Client) SearchUserByEmail(ctx context.Context, email string) (*store.User, error) {
	var wire wireUser
	path := "/users/search?email=" + url.QueryEscape(email)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	u := wire.toStore()
	return &u, nil
}

// CreateUser registers a new account.
func (c *Client) CreateUser(ctx context.Context, u store.User, password string) (*store.User, error) {
	body := map[string]string{
		"username": u.Username,
		"name":     u.Name,
		"surname":  u.Surname,
		"email":    u.Email,
		"phone":    u.Phone,
		"password": password,
	}
	var wire wireUser
	if err := c.doJSON(ctx, http.MethodPost, "/users", body, &wire); err != nil {
		return nil, err
	}
	out := wire.toStore()
	return &out, nil
}

// UploadFile pushes a standalone file (profile photos and the like) and
// returns the URL the backend stored it under.
func (c *Client) UploadFile(ctx context.Context, filename string, file io.Reader) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("copy file into form: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finish multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/upload", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp struct {
		URL string `json:"url"`
	}
	if err := c.send(req, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if creds := c.creds.Current(); creds != nil && creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	}
	return req, nil
}

// doJSON sends a request with an optional JSON body and decodes a JSON
// response into out (out may be nil to discard the body).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	c.logger.Debug("backend request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
