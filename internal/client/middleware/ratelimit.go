package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/vaultsync/internal/client/handlers"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
)

// DefaultRate allows bursts from a UI polling several endpoints at once.
const DefaultRate = "20-S"

// RateLimiter limits requests per client ip. formattedRate uses the
// limiter notation, e.g. "20-S" or "1000-H".
func RateLimiter(formattedRate string) (gin.HandlerFunc, error) {
	rate, err := limiter.NewRateFromFormatted(formattedRate)
	if err != nil {
		return nil, fmt.Errorf("rate %q: %w", formattedRate, err)
	}

	return mgin.NewMiddleware(
		limiter.New(memory.NewStore(), rate),
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, handlers.ControlPlaneError{
				ErrorCode: handlers.ErrCodeRateLimited,
				Error:     "rate limit exceeded",
			})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, handlers.ControlPlaneError{
				ErrorCode: handlers.ErrCodeUnknownError,
				Error:     err.Error(),
			})
		}),
	), nil
}
