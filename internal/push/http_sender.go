package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPSender POSTs notification payloads to a push backend over HTTP with a
// bearer key. Both platform backends speak this shape; only endpoint and
// credentials differ, so one adapter type serves both.
type HTTPSender struct {
	name     string
	endpoint string
	key      string
	client   *http.Client
}

// NewHTTPSender builds an adapter for one backend. name is used in logs and
// errors ("primary"/"secondary").
func NewHTTPSender(name, endpoint, key string) *HTTPSender {
	return &HTTPSender{
		name:     name,
		endpoint: endpoint,
		key:      key,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSender) Name() string { return s.name }

func (s *HTTPSender) Send(ctx context.Context, n Notification) error {
	if n.DeviceHandle == "" {
		return errMissingHandle
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("push: encode %s payload: %w", s.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("push: build %s request: %w", s.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.key != "" {
		req.Header.Set("Authorization", "Bearer "+s.key)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: %s send: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Read a short error body for the log line; backends return small
		// JSON error objects.
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push: %s backend returned %d: %s", s.name, resp.StatusCode, bytes.TrimSpace(b))
	}
	return nil
}
