// Package speech is a focused client for the external transcription,
// translation, and speech-synthesis services.
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

type transcribeRequest struct {
	Audio  string `json:"audio"`
	Locale string `json:"locale"`
	UserID string `json:"userId"`
}

type transcribeResponse struct {
	Transcription string `json:"transcription"`
	AudioURL      string `json:"audioUrl"`
}

type translateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

type synthesizeRequest struct {
	Text   string `json:"text"`
	Locale string `json:"locale"`
}

type synthesizeResponse struct {
	AudioURL string `json:"audioUrl"`
}

// keyPayload is the expected JSON shape stored in SSM for the API key.
type keyPayload struct {
	Key string `json:"key"`
}

// Getter fetches named parameters, typically backed by paramstore.Client.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware
// context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("speech: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client calls the speech service endpoints. The API key is fetched from SSM
// on the first call and reused for the lifetime of the process.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a speech Client backed by the given parameter getter for
// API key retrieval.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("speech: parameter getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("speech: parameter prefix must not be empty")
	}
	c := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		return nil, errors.New("speech: base URL must not be empty")
	}
	return c, nil
}

func (c *Client) keyParameterName() string {
	return c.paramPrefix + "/speech-api-key"
}

// resolveAPIKey fetches the key from SSM on the first call and returns the
// cached result afterwards.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchKeyFromParamStore(ctx, c.getter, c.keyParameterName())
	})
	return c.apiKey, c.keyErr
}

// Transcribe converts captured audio into text, returning the transcript and
// the URL of the stored recording.
func (c *Client) Transcribe(ctx context.Context, audio []byte, locale, userID string) (string, string, error) {
	if len(audio) == 0 {
		return "", "", errors.New("speech: audio must not be empty")
	}
	var payload transcribeResponse
	err := c.post(ctx, "/transcribe", transcribeRequest{
		Audio:  base64.StdEncoding.EncodeToString(audio),
		Locale: locale,
		UserID: userID,
	}, &payload)
	if err != nil {
		return "", "", fmt.Errorf("speech: Transcribe: %w", err)
	}
	return payload.Transcription, payload.AudioURL, nil
}

// Translate converts text between locales.
func (c *Client) Translate(ctx context.Context, text, source, target string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("speech: text must not be empty")
	}
	var payload translateResponse
	err := c.post(ctx, "/translate", translateRequest{Text: text, Source: source, Target: target}, &payload)
	if err != nil {
		return "", fmt.Errorf("speech: Translate: %w", err)
	}
	if payload.TranslatedText == "" {
		return "", errors.New("speech: empty translation in response")
	}
	return payload.TranslatedText, nil
}

// Synthesize renders text to speech and returns the audio URL.
func (c *Client) Synthesize(ctx context.Context, text, locale string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("speech: text must not be empty")
	}
	var payload synthesizeResponse
	err := c.post(ctx, "/synthesize", synthesizeRequest{Text: text, Locale: locale}, &payload)
	if err != nil {
		return "", fmt.Errorf("speech: Synthesize: %w", err)
	}
	if payload.AudioURL == "" {
		return "", errors.New("speech: no audio url in response")
	}
	return payload.AudioURL, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return err
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: u, Body: string(raw)}
	}
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func fetchKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("speech: parameter getter is nil")
	}
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("speech: fetch key from paramstore: %w", err)
	}
	var kp keyPayload
	if err := json.Unmarshal([]byte(raw), &kp); err != nil {
		return "", fmt.Errorf("speech: unmarshal paramstore key value as JSON: %w", err)
	}
	if kp.Key == "" {
		return "", errors.New("speech: API key is empty")
	}
	return kp.Key, nil
}
