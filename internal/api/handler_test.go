package api

import (
	"bytes"
	"condoragent/internal/apperrors"
	"condoragent/internal/health"
	"condoragent/internal/history"
	"condoragent/internal/submit"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	got  *submit.Request
	body []byte
	resp *submit.Response
	err  error
}

func (f *fakeSubmitter) Submit(_ context.Context, req *submit.Request) (*submit.Response, error) {
	f.got = req
	f.body, _ = io.ReadAll(req.Body)
	return f.resp, f.err
}

type fakeQuerier struct {
	got    history.Request
	result *history.Result
	err    error
}

func (f *fakeQuerier) Execute(_ context.Context, req history.Request) (*history.Result, error) {
	f.got = req
	return f.result, f.err
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) Ready(ctx context.Context) error {
	return f(ctx)
}

func healthy() *health.Checker {
	ok := checkFunc(func(context.Context) error { return nil })
	return health.NewChecker(map[string]health.ReadinessChecker{"staging": ok})
}

func TestHandler_Livez(t *testing.T) {
	t.Parallel()
	handler := &Handler{
		health: health.NewChecker(nil),
	}

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()

	handler.Livez(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var response health.Response
	json.NewDecoder(w.Body).Decode(&response)

	if response.Status != health.StatusHealthy {
		t.Errorf("Expected status healthy, got %s", response.Status)
	}
}

func TestHandler_Readyz_NoChecks(t *testing.T) {
	t.Parallel()
	handler := &Handler{
		health: health.NewChecker(nil),
	}

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	handler.Readyz(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestHandler_Readyz_DegradedWithoutStaging(t *testing.T) {
	t.Parallel()
	ok := checkFunc(func(context.Context) error { return nil })
	missing := checkFunc(func(context.Context) error { return apperrors.New(apperrors.MissingStagingRoot, "no staging root") })
	handler := &Handler{
		health: health.NewChecker(map[string]health.ReadinessChecker{
			"staging":   health.Optional(missing),
			"scheduler": ok,
		}),
	}

	w := httptest.NewRecorder()
	handler.Readyz(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var response health.Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, health.StatusDegraded, response.Status)
}

func TestRouter_Submit(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{resp: &submit.Response{ClusterID: "4521"}}
	router := NewRouter(RouterConfig{Submitter: sub, Querier: &fakeQuerier{}, HealthChecker: healthy()})

	body := []byte("PK\x03\x04fake")
	req := httptest.NewRequest(http.MethodPost, "/v1/submit?queue=pool1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/zip")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "4521", w.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	require.NotNil(t, sub.got)
	assert.Equal(t, "pool1", sub.got.Queue)
	assert.Equal(t, "application/zip", sub.got.ContentType)
	assert.Equal(t, int64(len(body)), sub.got.Length)
	assert.Equal(t, body, sub.body)
}

func TestRouter_Submit_BadContentType(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{}
	router := NewRouter(RouterConfig{Submitter: sub, Querier: &fakeQuerier{}, HealthChecker: healthy()})

	for _, ct := range []string{"", "application/json", "application/zip; charset=binary"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/submit", bytes.NewReader([]byte("x")))
		if ct != "" {
			req.Header.Set("Content-Type", ct)
		}
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code, "content type %q", ct)
	}
	assert.Nil(t, sub.got, "submitter must not be reached")
}

func TestRouter_Submit_TooLarge(t *testing.T) {
	t.Parallel()
	sub := &fakeSubmitter{}
	router := NewRouter(RouterConfig{Submitter: sub, Querier: &fakeQuerier{}, HealthChecker: healthy(), MaxUploadSize: 4})

	req := httptest.NewRequest(http.MethodPost, "/v1/submit", bytes.NewReader([]byte("123456")))
	req.Header.Set("Content-Type", "application/zip")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Nil(t, sub.got)
}

func TestRouter_Submit_ErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"zero files", apperrors.New(apperrors.ZeroSubmitFiles, "found 0"), http.StatusBadRequest},
		{"multiple files", apperrors.New(apperrors.MultipleSubmitFiles, "found 2"), http.StatusBadRequest},
		{"rejected", apperrors.New(apperrors.SubmissionRejected, "ERROR"), http.StatusBadGateway},
		{"unparsable", apperrors.New(apperrors.UnparsableSubmission, "??"), http.StatusBadGateway},
		{"launch", apperrors.New(apperrors.ExternalCommandLaunchFailure, "missing"), http.StatusInternalServerError},
		{"timeout", apperrors.New(apperrors.CommandTimedOut, "killed"), http.StatusGatewayTimeout},
		{"no staging root", apperrors.New(apperrors.MissingStagingRoot, "missing"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			router := NewRouter(RouterConfig{Submitter: &fakeSubmitter{err: tt.err}, Querier: &fakeQuerier{}, HealthChecker: healthy()})

			req := httptest.NewRequest(http.MethodPost, "/v1/submit", bytes.NewReader([]byte("x")))
			req.Header.Set("Content-Type", "application/zip")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

func TestRouter_Jobs(t *testing.T) {
	t.Parallel()
	q := &fakeQuerier{result: &history.Result{Data: "Q1-- CompletedSince: 98\nH1\n", CompletedSince: 98}}
	router := NewRouter(RouterConfig{Submitter: &fakeSubmitter{}, Querier: q, HealthChecker: healthy(), DefaultSchedd: "local"})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs?queue=pool1&completedSince=1000&jobs=12.0+13&history=true", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Q1-- CompletedSince: 98\nH1\n", w.Body.String())
	assert.Equal(t, "98", w.Header().Get(CompletedSinceHeader))
	assert.Equal(t, history.Request{Schedd: "pool1", CompletedSince: 1000, Jobs: "12.0 13", History: true}, q.got)
}

func TestRouter_Jobs_Defaults(t *testing.T) {
	t.Parallel()
	q := &fakeQuerier{result: &history.Result{Data: "Q1\n", CompletedSince: 5}}
	router := NewRouter(RouterConfig{Submitter: &fakeSubmitter{}, Querier: q, HealthChecker: healthy(), DefaultSchedd: "local"})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, history.Request{Schedd: "local"}, q.got)
}

func TestRouter_Jobs_InvalidParameters(t *testing.T) {
	t.Parallel()
	for _, query := range []string{"completedSince=yesterday", "history=maybe"} {
		q := &fakeQuerier{}
		router := NewRouter(RouterConfig{Submitter: &fakeSubmitter{}, Querier: q, HealthChecker: healthy()})

		req := httptest.NewRequest(http.MethodGet, "/v1/jobs?"+query, nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code, query)
		assert.Equal(t, history.Request{}, q.got, "querier must not be reached for %s", query)
	}
}

func TestRouter_Jobs_HistoryNotConfigured(t *testing.T) {
	t.Parallel()
	q := &fakeQuerier{err: apperrors.New(apperrors.HistoryNotConfigured, "history is not enabled on this scheduler")}
	router := NewRouter(RouterConfig{Submitter: &fakeSubmitter{}, Querier: q, HealthChecker: healthy()})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs?history=1", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRouter_Auth(t *testing.T) {
	t.Parallel()
	q := &fakeQuerier{result: &history.Result{}}
	router := NewRouter(RouterConfig{Submitter: &fakeSubmitter{}, Querier: q, HealthChecker: healthy(), APIKey: "s3cret"})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Probes stay open.
	req = httptest.NewRequest(http.MethodGet, "/livez", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_Logging(t *testing.T) {
	t.Parallel()
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	handler := LoggingMiddleware()(inner)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !called {
		t.Error("Inner handler was not called")
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	t.Parallel()
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	handler := RequestIDMiddleware()(inner)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Len(t, seen, 36)
}

func TestMiddleware_Recovery(t *testing.T) {
	t.Parallel()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware()(inner)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

func TestMiddleware_CORS(t *testing.T) {
	t.Parallel()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := CORSMiddleware()(inner)

	// Test OPTIONS preflight
	req := httptest.NewRequest(http.MethodOptions, "/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}
}
