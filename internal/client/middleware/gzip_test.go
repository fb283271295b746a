package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestGzip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Gzip())
	r.GET("/v1/logs", func(c *gin.Context) {
		c.String(http.StatusOK, strings.Repeat("x", 2048))
	})
	r.GET("/v1/status", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	tests := []struct {
		path     string
		encoding string
	}{
		{"/v1/logs", "gzip"},
		{"/v1/status", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Accept-Encoding", "gzip")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.encoding, w.Header().Get("Content-Encoding"))
		})
	}
}
