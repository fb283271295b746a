package middleware

import (
	"net"
	"net/url"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS lets browser tools served from this machine talk to the control
// plane. Other origins are refused.
func CORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: isLoopbackOrigin,
		AllowMethods:    []string{"GET", "POST", "PUT", "HEAD"},
		AllowHeaders: []string{
			"Origin",
			"Content-Length",
			"Content-Type",
			"Authorization",
		},
		MaxAge: 12 * time.Hour,
	})
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
