package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultWorkerAddr = "http://127.0.0.1:21002"

// postJSON sends body to a worker endpoint. Non-2xx responses become errors
// carrying the worker's error message.
func postJSON(ctx context.Context, addr, path string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	url := strings.TrimRight(addr, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker at %s unreachable: %w", addr, err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		var apiErr struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("%s: %s", apiErr.Error.Type, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("worker returned %s", resp.Status)
	}
	return resp, nil
}

// withTimeout bounds short control requests.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 10*time.Second)
}
