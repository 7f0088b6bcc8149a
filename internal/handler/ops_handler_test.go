package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payroll-engine/internal/middleware"
	"github.com/noah-isme/payroll-engine/internal/service"
	appErrors "github.com/noah-isme/payroll-engine/pkg/errors"
)

type fakeSlipDownloader struct {
	body  []byte
	err   error
	token string
}

func (f *fakeSlipDownloader) ResolveDownload(_ context.Context, token string) ([]byte, error) {
	f.token = token
	return f.body, f.err
}

func newOpsRouter(h *OpsHandler, metrics *service.MetricsService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Metrics(metrics))
	h.Register(r)
	return r
}

func TestOpsHandlerReadyReportsFailingChecks(t *testing.T) {
	h := NewOpsHandler(nil, &fakeSlipDownloader{},
		ReadinessCheck{Name: "postgres", Check: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	)
	r := newOpsRouter(h, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Failed map[string]string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"redis": "connection refused"}, body.Failed)
}

func TestOpsHandlerReadyAndHealth(t *testing.T) {
	r := newOpsRouter(NewOpsHandler(nil, &fakeSlipDownloader{}), nil)

	for _, path := range []string{"/health", "/ready"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestOpsHandlerDownloadSlip(t *testing.T) {
	slips := &fakeSlipDownloader{body: []byte("%PDF-1.3")}
	r := newOpsRouter(NewOpsHandler(nil, slips), nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slips/download/abc.def", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc.def", slips.token)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "salary-slip.pdf")
	assert.Equal(t, "%PDF-1.3", rec.Body.String())
}

func TestOpsHandlerDownloadSlipMapsErrors(t *testing.T) {
	slips := &fakeSlipDownloader{err: appErrors.Clone(appErrors.ErrValidation, "download link expired")}
	r := newOpsRouter(NewOpsHandler(nil, slips), nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slips/download/expired", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "download link expired")
}

func TestOpsHandlerMetricsCountRequests(t *testing.T) {
	metrics := service.NewMetricsService()
	r := newOpsRouter(NewOpsHandler(metrics, &fakeSlipDownloader{}), metrics)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",path="/health",status="200"} 1`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/summary", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"employeesComputed":0`)
}
