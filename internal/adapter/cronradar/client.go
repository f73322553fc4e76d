// Package cronradar содержит HTTP-клиент сервиса мониторинга CronRadar
package cronradar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"cronradar/internal/monitor"
	"cronradar/internal/platform/httpclient"
	"cronradar/internal/shared"
)

const (
	// DefaultBaseURL адрес публичного сервиса
	DefaultBaseURL = "https://cronradar.com"
	userAgent      = "cronradar-go"
	maxErrorBody   = 512
)

// Config параметры клиента
type Config struct {
	APIKey  string
	BaseURL string
	// Method для ping и уведомлений жизненного цикла: GET или POST
	Method string
}

// Client реализует monitor.RemoteClient поверх HTTP API CronRadar
type Client struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
	method  string
	newID   func() string
}

var _ monitor.RemoteClient = (*Client)(nil)

// New создаёт клиент
func New(c *httpclient.Client, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, shared.MarkKind(errors.New("cronradar: api key is empty"), shared.KindValidation)
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, shared.MarkKind(fmt.Errorf("cronradar: base url: %w", err), shared.KindValidation)
	}
	method := strings.ToUpper(cfg.Method)
	switch method {
	case "":
		method = http.MethodGet
	case http.MethodGet, http.MethodPost:
	default:
		return nil, shared.MarkKind(fmt.Errorf("cronradar: unsupported method %q", cfg.Method), shared.KindValidation)
	}
	return &Client{http: c, baseURL: base, apiKey: cfg.APIKey, method: method, newID: uuid.NewString}, nil
}

// Ping отправляет одиночный heartbeat
func (c *Client) Ping(ctx context.Context, key string) error {
	return c.ping(ctx, key, "", "")
}

// StartJob сообщает о начале выполнения
func (c *Client) StartJob(ctx context.Context, key string) error {
	return c.ping(ctx, key, "start", "")
}

// CompleteJob сообщает об успешном завершении
func (c *Client) CompleteJob(ctx context.Context, key string) error {
	return c.ping(ctx, key, "complete", "")
}

// FailJob сообщает о неудаче с причиной
func (c *Client) FailJob(ctx context.Context, key, reason string) error {
	return c.ping(ctx, key, "fail", reason)
}

type syncRequest struct {
	Key         string `json:"key"`
	Schedule    string `json:"schedule"`
	GracePeriod int    `json:"gracePeriod"`
	Name        string `json:"name,omitempty"`
	Source      string `json:"source,omitempty"`
}

// SyncMonitor создаёт или обновляет монитор до первого heartbeat.
// Запрос идемпотентен, поэтому клиент может его повторять.
func (c *Client) SyncMonitor(ctx context.Context, spec monitor.MonitorSpec) error {
	body, err := json.Marshal(syncRequest{
		Key:         spec.Key,
		Schedule:    spec.Schedule,
		GracePeriod: int(spec.GracePeriod / time.Second),
		Name:        spec.Name,
		Source:      spec.Source,
	})
	if err != nil {
		return shared.MarkKind(err, shared.KindInternal)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/monitors/sync", bytes.NewReader(body))
	if err != nil {
		return shared.MarkKind(err, shared.KindValidation)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", c.newID())
	return c.do(ctx, req)
}

func (c *Client) ping(ctx context.Context, key, action, reason string) error {
	if !monitor.ValidKey(key) {
		return shared.MarkKind(fmt.Errorf("cronradar: invalid monitor key %q", key), shared.KindValidation)
	}
	endpoint := c.baseURL + "/ping/" + key
	if action != "" {
		endpoint += "/" + action
	}

	var body io.Reader
	if reason != "" {
		if c.method == http.MethodGet {
			endpoint += "?" + url.Values{"reason": {reason}}.Encode()
		} else {
			b, err := json.Marshal(map[string]string{"reason": reason})
			if err != nil {
				return shared.MarkKind(err, shared.KindInternal)
			}
			body = bytes.NewReader(b)
		}
	}

	req, err := http.NewRequest(c.method, endpoint, body)
	if err != nil {
		return shared.MarkKind(err, shared.KindValidation)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req *http.Request) error {
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			return shared.MarkKind(fmt.Errorf("cronradar: %w", err), kindOfStatus(se.Code))
		}
		if shared.IsTimeout(err) || shared.IsCanceled(err) {
			return fmt.Errorf("cronradar: %w", err)
		}
		return shared.MarkKind(fmt.Errorf("cronradar: %w", err), shared.KindDependencyFailure)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err = fmt.Errorf("cronradar: %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(b)))
	return shared.MarkKind(err, kindOfStatus(resp.StatusCode))
}

func kindOfStatus(code int) shared.Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return shared.KindUnauthorized
	case code == http.StatusTooManyRequests:
		return shared.KindRateLimited
	case code == http.StatusRequestTimeout:
		return shared.KindTimeout
	case code >= 400 && code < 500:
		return shared.KindValidation
	default:
		return shared.KindDependencyFailure
	}
}
