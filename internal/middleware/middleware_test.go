package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/GoPolymarket/polyguard/internal/pkg/apperrors"
	"github.com/GoPolymarket/polyguard/internal/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAdminMiddleware(t *testing.T) {
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	r := gin.New()
	r.GET("/x", AdminMiddleware("secret"), ok)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/x", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/x", map[string]string{HeaderAdminKey: "nope"}).Code)
	assert.Equal(t, http.StatusNoContent, serve(r, http.MethodGet, "/x", map[string]string{HeaderAdminKey: "secret"}).Code)

	unset := gin.New()
	unset.GET("/x", AdminMiddleware(""), ok)
	assert.Equal(t, http.StatusForbidden, serve(unset, http.MethodGet, "/x", map[string]string{HeaderAdminKey: ""}).Code)
}

func TestErrorHandlerMapsAppErrors(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/conflict", func(c *gin.Context) {
		c.Error(apperrors.NewInsufficientBalance("hot wallet empty"))
	})
	r.GET("/plain", func(c *gin.Context) {
		c.Error(errors.New("boom"))
	})

	rec := serve(r, http.MethodGet, "/conflict", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"INSUFFICIENT_BALANCE"`)

	rec = serve(r, http.MethodGet, "/plain", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestReadOnlyMiddleware(t *testing.T) {
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r := gin.New()
	r.Use(ErrorHandler(), ReadOnlyMiddleware(true))
	r.GET("/v1/admin/bots", ok)
	r.POST("/v1/admin/bots/:id/reset", ok)
	r.POST(EmergencyStopRoute, ok)

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/v1/admin/bots", nil).Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodPost, "/v1/admin/bots/3/reset", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, EmergencyStopRoute, nil).Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitMiddleware(0.001, 2))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/x", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/x", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/x", nil).Code)
}

type latencySink struct {
	metrics.Nop
	mu     sync.Mutex
	routes []string
}

func (s *latencySink) RequestLatency(endpoint string, seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, endpoint)
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	sink := &latencySink{}
	r := gin.New()
	r.Use(MetricsMiddleware(sink))
	r.GET("/v1/admin/bots/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, http.MethodGet, "/v1/admin/bots/42", nil)
	serve(r, http.MethodGet, "/missing", nil)
	assert.Equal(t, []string{"/v1/admin/bots/:id", "unmatched"}, sink.routes)
}
