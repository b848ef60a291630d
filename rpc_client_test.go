// javacomplete/rpc_client_test.go
package javacomplete

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTPClient(t *testing.T, serviceURL string, mutate func(*Config)) *httpAnalysisClient {
	t.Helper()
	cfg := getDefaultConfig()
	cfg.ServiceURL = serviceURL
	if mutate != nil {
		mutate(&cfg)
		cfg.deriveDurations()
	}
	client := NewHTTPAnalysisClient(cfg, discardLogger())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestHTTPAnalysisClient_Call(t *testing.T) {
	type received struct {
		method      string
		path        string
		contentType string
		requestID   string
		request     Request
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)
		got <- received{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			requestID:   r.Header.Get(requestIDHeader),
			request:     req,
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"start":{"ch":4},"end":{"ch":5},"results":{}}`)
	}))
	defer srv.Close()

	client := newTestHTTPClient(t, srv.URL+"/", nil)
	payload := Request{Path: "/src/A.java", Pos: [2]int{3, 7}, Buffer: ContextWindow{Kind: WindowFull, Text: "class A {}\n"}}

	body, err := client.Call(context.Background(), EndpointSuggest, payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":{"ch":4},"end":{"ch":5},"results":{}}`, string(body))

	r := <-got
	assert.Equal(t, http.MethodPost, r.method)
	assert.Equal(t, "/suggest", r.path)
	assert.Equal(t, "application/json", r.contentType)
	assert.NotEmpty(t, r.requestID)
	assert.Equal(t, "/src/A.java", r.request.Path)
	assert.Equal(t, [2]int{3, 7}, r.request.Pos)
	assert.True(t, client.hasHandle())
}

func TestHTTPAnalysisClient_ErrorStatus(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
	}{
		{"json error body", http.StatusInternalServerError, `{"error":"bad"}`, "bad"},
		{"plain body", http.StatusBadGateway, "upstream gone\n", "upstream gone"},
		{"empty body", http.StatusServiceUnavailable, "", "503 Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			client := newTestHTTPClient(t, srv.URL, nil)
			_, err := client.Call(context.Background(), EndpointDefine, Request{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrProtocol))
			assert.Equal(t, KindProtocol, ClassifyError(err))

			var analyzerErr *AnalyzerError
			require.True(t, errors.As(err, &analyzerErr))
			assert.Equal(t, "define", analyzerErr.Endpoint)
			assert.Equal(t, tt.status, analyzerErr.Status)
			assert.Equal(t, tt.wantMessage, analyzerErr.Message)
		})
	}
}

func TestHTTPAnalysisClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	client := newTestHTTPClient(t, srv.URL, nil)

	_, err := client.Call(context.Background(), EndpointDocument, Request{})
	require.NoError(t, err)
	require.True(t, client.hasHandle())

	srv.Close()
	client.client().CloseIdleConnections()
	_, err = client.Call(context.Background(), EndpointDocument, Request{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionRefused), "got %v", err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Equal(t, KindConnectionRefused, ClassifyError(err))
	assert.False(t, client.hasHandle(), "a refused connection discards the handle")
}

func TestHTTPAnalysisClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := newTestHTTPClient(t, srv.URL, func(c *Config) { c.SyncTimeoutMillis = 50 })
	start := time.Now()
	_, err := client.Call(context.Background(), EndpointSuggest, Request{})
	require.Error(t, err)
	assert.Equal(t, KindTransport, ClassifyError(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestHTTPAnalysisClient_CallCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	client := newTestHTTPClient(t, srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Call(ctx, EndpointSuggest, Request{})
	require.Error(t, err)
	assert.Equal(t, KindCanceled, ClassifyError(err))
}

func TestHTTPAnalysisClient_Notify(t *testing.T) {
	paths := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		if r.URL.Path == "/log" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"missing":[]}`)
	}))
	defer srv.Close()

	client := newTestHTTPClient(t, srv.URL, nil)
	results := make(chan string, 2)

	client.Notify(EndpointUpdate, Request{Path: "/src/A.java"}, func(body []byte) {
		results <- string(body)
	})
	select {
	case body := <-results:
		assert.JSONEq(t, `{"missing":[]}`, body)
	case <-time.After(5 * time.Second):
		t.Fatal("update callback was not called")
	}

	client.Notify(EndpointLog, logPayload{Data: "hello"}, func(body []byte) {
		results <- "unexpected"
	})
	require.NoError(t, client.Close())
	assert.Equal(t, "/update", <-paths)
	assert.Empty(t, results, "failed background calls do not reach the callback")

	client.Notify(EndpointUpdate, Request{}, func(body []byte) {
		results <- "after close"
	})
	assert.Empty(t, results, "a closed client drops background calls")
}

func TestHTTPAnalysisClient_UpdateConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"line":1}`)
	}))
	defer srv.Close()

	client := newTestHTTPClient(t, "http://127.0.0.1:1", nil)
	_, err := client.Call(context.Background(), EndpointDefine, Request{})
	require.Error(t, err)

	cfg := getDefaultConfig()
	cfg.ServiceURL = srv.URL
	client.UpdateConfig(cfg)
	assert.False(t, client.hasHandle())

	body, err := client.Call(context.Background(), EndpointDefine, Request{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"line":1}`, string(body))
}
