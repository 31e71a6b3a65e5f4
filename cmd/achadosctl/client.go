package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"time"
)

// client talks HTTP to the daemon over its unix socket.
type client struct {
	http *http.Client
}

func newClient(socketPath string, timeout time.Duration) *client {
	return &client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *client) get(path string, out any) error {
	resp, err := c.http.Get("http://daemon" + path)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	return c.finish(resp, out)
}

func (c *client) post(path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	resp, err := c.http.Post("http://daemon"+path, "application/json", reader)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	return c.finish(resp, out)
}

func (c *client) delete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, "http://daemon"+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	return c.finish(resp, nil)
}

// postMultipart submits a report photo plus form fields.
func (c *client) postMultipart(path string, fields map[string]string, photoPath string, out any) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	f, err := os.Open(photoPath)
	if err != nil {
		return fmt.Errorf("open photo: %w", err)
	}
	defer f.Close()
	part, err := w.CreateFormFile("file", photoPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	resp, err := c.http.Post("http://daemon"+path, w.FormDataContentType(), &buf)
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	return c.finish(resp, out)
}

func (c *client) finish(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
