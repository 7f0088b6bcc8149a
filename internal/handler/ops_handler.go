package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/payroll-engine/internal/service"
	appErrors "github.com/noah-isme/payroll-engine/pkg/errors"
	"github.com/noah-isme/payroll-engine/pkg/response"
)

type slipDownloader interface {
	ResolveDownload(ctx context.Context, token string) ([]byte, error)
}

// ReadinessCheck reports whether one backing dependency is reachable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// OpsHandler serves the operational endpoints of the payroll daemon.
type OpsHandler struct {
	metrics *service.MetricsService
	slips   slipDownloader
	checks  []ReadinessCheck
}

// NewOpsHandler constructs an ops handler.
func NewOpsHandler(metrics *service.MetricsService, slips slipDownloader, checks ...ReadinessCheck) *OpsHandler {
	return &OpsHandler{metrics: metrics, slips: slips, checks: checks}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *OpsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health responds with a generic OK payload for liveness probes.
func (h *OpsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready runs every readiness check and reports the failing ones.
func (h *OpsHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			failed[check.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Summary returns the aggregated payroll counters.
func (h *OpsHandler) Summary(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot())
}

// DownloadSlip streams a salary slip addressed by a signed token.
func (h *OpsHandler) DownloadSlip(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	body, err := h.slips.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, "salary-slip.pdf", "application/pdf", body)
}

// Register mounts the ops routes.
func (h *OpsHandler) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", h.Prometheus)
	r.GET("/metrics/summary", h.Summary)
	r.GET("/slips/download/:token", h.DownloadSlip)
}
