package dataman

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

// APIKeyStyle — имя заголовка, в котором ходит API-ключ. KeyStyleBearer — "Authorization: Bearer <key>".
// Заголовки HTTP регистронезависимы, так что X-API-KEY и x-api-key — одно и то же на проводе.
type APIKeyStyle string

const (
	KeyStyleXAPIKey APIKeyStyle = "X-API-KEY"
	KeyStyleAPIKey  APIKeyStyle = "API-KEY"
	KeyStyleBearer  APIKeyStyle = "Authorization"
)

func ParseAPIKeyStyle(s string) (APIKeyStyle, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "x-api-key":
		return KeyStyleXAPIKey, nil
	case "api-key":
		return KeyStyleAPIKey, nil
	case "authorization", "bearer":
		return KeyStyleBearer, nil
	}
	return "", fmt.Errorf("unknown api key style %q", s)
}

// Apply кладёт ключ в заголовки.
func (s APIKeyStyle) Apply(h http.Header, key string) {
	if key == "" {
		return
	}
	if s == KeyStyleBearer {
		h.Set("Authorization", "Bearer "+key)
		return
	}
	h.Set(s.header(), key)
}

// Extract достаёт предъявленный ключ (для middleware).
func (s APIKeyStyle) Extract(h http.Header) string {
	if s == KeyStyleBearer {
		v := h.Get("Authorization")
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
		return ""
	}
	return h.Get(s.header())
}

func (s APIKeyStyle) header() string {
	if s == "" {
		return string(KeyStyleXAPIKey)
	}
	return string(s)
}

// Client — удалённый Sender: POST DatamanRequest на другой сервис Dataman.
type Client struct {
	BaseURL  string // полный URL эндпоинта, например http://dataman:8080/api/dataman
	APIKey   string
	KeyStyle APIKeyStyle
	HTTP     *http.Client
}

func NewClient(baseURL, apiKey string, style APIKeyStyle) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		KeyStyle: style,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode dataman request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.KeyStyle.Apply(httpReq.Header, c.APIKey)

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("dataman request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read dataman response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, &RemoteError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return Response{}, fmt.Errorf("decode dataman response: %w", err)
	}
	return out, nil
}

// RemoteError — удалённый Dataman ответил не 2xx.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("dataman returned %d: %s", e.Status, e.Body)
}
