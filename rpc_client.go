// javacomplete/rpc_client.go
// Implements the HTTP transport to the Java analysis service.
package javacomplete

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Endpoint names a service endpoint; requests are POSTed to /<endpoint>.
type Endpoint string

const (
	EndpointDefine    Endpoint = "define"
	EndpointSuggest   Endpoint = "suggest"
	EndpointImplement Endpoint = "implement"
	EndpointDocument  Endpoint = "document"
	EndpointUpdate    Endpoint = "update"
	EndpointInit      Endpoint = "init"
	EndpointLog       Endpoint = "log"
)

const (
	requestIDHeader  = "X-Request-Id"
	maxResponseBytes = 8 << 20
)

// Request is the envelope posted to every buffer-aware endpoint.
type Request struct {
	Path   string        `json:"path"`
	Pos    [2]int        `json:"pos"` // 1-based row, 0-based column
	Buffer ContextWindow `json:"buffer"`
}

// logPayload is the body of a "log" request.
type logPayload struct {
	Data string `json:"data"`
}

// AnalysisClient is the transport to the analysis service.
type AnalysisClient interface {
	// Call posts payload to endpoint and waits for the response body, bounded by the
	// synchronous timeout.
	Call(ctx context.Context, endpoint Endpoint, payload any) ([]byte, error)
	// Notify posts payload in the background, bounded by the asynchronous timeout,
	// and passes the body to onResult on success. Failures are logged and dropped.
	Notify(endpoint Endpoint, payload any, onResult func(body []byte))
	UpdateConfig(cfg Config)
	Close() error
}

// httpAnalysisClient implements AnalysisClient over HTTP/JSON.
type httpAnalysisClient struct {
	mu      sync.Mutex
	handle  *http.Client // Discarded when the service refuses a connection.
	cfg     Config
	limiter *rate.Limiter // Paces background calls.
	logger  *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHTTPAnalysisClient creates a client for the service at cfg.ServiceURL.
func NewHTTPAnalysisClient(cfg Config, logger *slog.Logger) *httpAnalysisClient {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &httpAnalysisClient{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.AsyncRatePerSecond), cfg.AsyncBurst),
		logger:  logger.With("component", "AnalysisClient"),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// newServiceHandle creates the HTTP client used to reach the service. Timeouts come
// from the per-call context.
func newServiceHandle() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 2 * time.Second,
			}).DialContext,
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}

func (c *httpAnalysisClient) client() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		c.handle = newServiceHandle()
	}
	return c.handle
}

// resetHandle drops the current HTTP client so the next call dials afresh.
func (c *httpAnalysisClient) resetHandle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		c.handle.CloseIdleConnections()
		c.handle = nil
	}
}

// hasHandle reports whether a service handle is currently cached.
func (c *httpAnalysisClient) hasHandle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

func (c *httpAnalysisClient) config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// UpdateConfig applies a new service URL, timeouts and pacing.
func (c *httpAnalysisClient) UpdateConfig(cfg Config) {
	c.mu.Lock()
	urlChanged := c.cfg.ServiceURL != cfg.ServiceURL
	c.cfg = cfg
	c.mu.Unlock()
	c.limiter.SetLimit(rate.Limit(cfg.AsyncRatePerSecond))
	c.limiter.SetBurst(cfg.AsyncBurst)
	if urlChanged {
		c.resetHandle()
	}
	c.logger.Info("Analysis client configuration updated", "service_url", cfg.ServiceURL, "sync_timeout", cfg.SyncTimeout, "async_timeout", cfg.AsyncTimeout)
}

// Call implements AnalysisClient.
func (c *httpAnalysisClient) Call(ctx context.Context, endpoint Endpoint, payload any) ([]byte, error) {
	cfg := c.config()
	callCtx, cancel := context.WithTimeout(ctx, cfg.SyncTimeout)
	defer cancel()
	return c.post(callCtx, cfg, endpoint, payload, c.logger.With("operation", "Call"))
}

// Notify implements AnalysisClient.
func (c *httpAnalysisClient) Notify(endpoint Endpoint, payload any, onResult func(body []byte)) {
	cfg := c.config()
	opLogger := c.logger.With("operation", "Notify", "endpoint", endpoint)
	if c.baseCtx.Err() != nil {
		opLogger.Debug("Client closed, dropping background request")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.baseCtx, cfg.AsyncTimeout)
		defer cancel()

		if err := c.limiter.Wait(ctx); err != nil {
			opLogger.Debug("Background request dropped while waiting for rate limiter", "error", err)
			return
		}
		body, err := c.post(ctx, cfg, endpoint, payload, opLogger)
		if err != nil {
			opLogger.Debug("Background request failed", "kind", ClassifyError(err).String(), "error", err)
			return
		}
		if onResult != nil {
			onResult(body)
		}
	}()
}

// Close cancels background calls, waits for them and drops the service handle.
func (c *httpAnalysisClient) Close() error {
	c.cancel()
	c.wg.Wait()
	c.resetHandle()
	return nil
}

// post sends one request and classifies any failure.
func (c *httpAnalysisClient) post(ctx context.Context, cfg Config, endpoint Endpoint, payload any, logger *slog.Logger) ([]byte, error) {
	requestID := uuid.NewString()
	reqLogger := logger.With("endpoint", endpoint, "request_id", requestID)

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "encoding %s request", endpoint), ErrRequestBuild)
	}
	endpointURL := strings.TrimSuffix(cfg.ServiceURL, "/") + "/" + string(endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "creating %s request", endpoint), ErrRequestBuild)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, requestID)

	reqLogger.Debug("Sending request to analysis service", "url", endpointURL, "size", len(encoded))
	start := time.Now()
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, c.classifyTransportError(endpoint, err, reqLogger)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		reqLogger.Warn("Failed reading response body", "error", err)
		return nil, errors.Mark(errors.Wrapf(err, "reading %s response", endpoint), ErrTransport)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if gjson.ValidBytes(body) {
			if msg := gjson.GetBytes(body, "error"); msg.Exists() {
				message = msg.String()
			}
		}
		if message == "" {
			message = resp.Status
		}
		reqLogger.Warn("Analysis service returned non-OK status", "status", resp.StatusCode, "message", message)
		return nil, errors.Mark(&AnalyzerError{Endpoint: string(endpoint), Message: message, Status: resp.StatusCode}, ErrProtocol)
	}

	reqLogger.Debug("Analysis service responded", "status", resp.StatusCode, "bytes", len(body), "elapsed", time.Since(start))
	return body, nil
}

// classifyTransportError maps a failed http.Client.Do onto the error taxonomy.
// A refused connection means the service went away, so the handle is discarded.
func (c *httpAnalysisClient) classifyTransportError(endpoint Endpoint, err error, logger *slog.Logger) error {
	if errors.Is(err, context.Canceled) {
		logger.Info("Request cancelled")
		return errors.Wrapf(err, "%s request cancelled", endpoint)
	}
	if isConnectionRefused(err) {
		logger.Warn("Analysis service refused connection, discarding service handle", "error", err)
		c.resetHandle()
		wrapped := errors.Wrapf(err, "%s: connection refused", endpoint)
		return errors.Mark(errors.Mark(wrapped, ErrConnectionRefused), ErrTransport)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		logger.Warn("Request to analysis service timed out", "error", err)
		return errors.Mark(errors.Wrapf(err, "%s timed out", endpoint), ErrTransport)
	}
	logger.Error("HTTP request to analysis service failed", "error", err)
	return errors.Mark(errors.Wrapf(err, "%s request failed", endpoint), ErrTransport)
}

func isConnectionRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" && !opErr.Timeout() {
		return true
	}
	return false
}
