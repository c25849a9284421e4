// Package backend is the REST client for the chat backend: message history
// and appends, patient record updates, and the admin notification side
// channel.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/Ahrakshith/healthcare-app/internal/domain"
)

const identityHeader = "x-user-uid"

// HTTPStatusError captures non-2xx backend responses with status-aware
// context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("backend: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the chat backend. Requests carry the caller's identity
// header and session cookies (the backend relies on cookie credentials, so
// the default HTTP client gets a jar).
type Client struct {
	baseURL    string
	userUID    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a backend Client rooted at baseURL, authenticating as
// userUID.
func NewClient(baseURL, userUID string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend: base URL must not be empty")
	}
	if strings.TrimSpace(userUID) == "" {
		return nil, errors.New("backend: user uid must not be empty")
	}
	c := &Client{baseURL: baseURL, userUID: userUID}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("backend: create cookie jar: %w", err)
		}
		c.httpClient = &http.Client{Timeout: 15 * time.Second, Jar: jar}
	}
	return c, nil
}

func (c *Client) chatURL(patientID, doctorID string) string {
	return c.baseURL + "/chats/" + url.PathEscape(patientID) + "/" + url.PathEscape(doctorID)
}

type historyResponse struct {
	Messages []domain.Message `json:"messages"`
}

// History fetches the stored messages for one conversation. A 404 maps to
// domain.ErrNoHistory: the conversation simply has no messages yet.
func (c *Client) History(ctx context.Context, patientID, doctorID string) ([]domain.Message, error) {
	raw, err := c.do(ctx, http.MethodGet, c.chatURL(patientID, doctorID), nil)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, domain.ErrNoHistory
		}
		return nil, fmt.Errorf("backend: History: %w", err)
	}
	var payload historyResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("backend: History decode: %w", err)
	}
	return payload.Messages, nil
}

// Append persists one message to the conversation.
func (c *Client) Append(ctx context.Context, msg domain.Message) error {
	if _, err := c.do(ctx, http.MethodPost, c.chatURL(msg.PatientID, msg.DoctorID), msg); err != nil {
		return fmt.Errorf("backend: Append: %w", err)
	}
	return nil
}

// UpdatePatient writes a diagnosis or prescription onto the patient record.
func (c *Client) UpdatePatient(ctx context.Context, patientID string, update domain.PatientUpdate) error {
	u := c.baseURL + "/patients/" + url.PathEscape(patientID)
	if _, err := c.do(ctx, http.MethodPost, u, update); err != nil {
		return fmt.Errorf("backend: UpdatePatient: %w", err)
	}
	return nil
}

// NotifyAdmin emits the staff notification record.
func (c *Client) NotifyAdmin(ctx context.Context, n domain.AdminNotification) error {
	if _, err := c.do(ctx, http.MethodPost, c.baseURL+"/admin_notifications", n); err != nil {
		return fmt.Errorf("backend: NotifyAdmin: %w", err)
	}
	return nil
}

// Alerts lists the missed-dose notifications for one patient. The backend
// endpoint is unscoped, so filtering happens client-side.
func (c *Client) Alerts(ctx context.Context, patientID string) ([]domain.Alert, error) {
	raw, err := c.do(ctx, http.MethodGet, c.baseURL+"/admin_notifications", nil)
	if err != nil {
		return nil, fmt.Errorf("backend: Alerts: %w", err)
	}
	var all []domain.Alert
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("backend: Alerts decode: %w", err)
	}
	alerts := make([]domain.Alert, 0, len(all))
	for _, a := range all {
		if a.PatientID == patientID {
			alerts = append(alerts, a)
		}
	}
	return alerts, nil
}

// Probe issues a HEAD request to check that a stored audio URL still
// resolves.
func (c *Client) Probe(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return fmt.Errorf("backend: Probe: %w", err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend: Probe: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: target}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, u string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(identityHeader, c.userUID)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        u,
			Body:       string(buf),
		}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
