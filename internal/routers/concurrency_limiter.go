package routers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/greenhouse-io/greenhouse/internal/models"
)

// Limiter bounds how many callers run at the same time.
type Limiter struct {
	limit chan struct{}
}

func NewLimiter(maxConcurrency int) Limiter {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return Limiter{
		limit: make(chan struct{}, maxConcurrency),
	}
}

// Do runs f once a slot is free, or reports canceled if ctx ends first.
func (c *Limiter) Do(ctx context.Context, f func()) (canceled bool) {
	select {
	case c.limit <- struct{}{}:
		defer func() {
			<-c.limit
		}()
		f()
		canceled = false
	case <-ctx.Done():
		canceled = true
	}
	return
}

// LimitConcurrency makes requests wait for a free slot of the limiter and answers
// 503 when the request context ends while waiting.
func LimitConcurrency(limiter *Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		canceled := limiter.Do(c.Request.Context(), func() {
			c.Next()
		})
		if canceled {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, models.BaseError{Error: "too many concurrent requests"})
		}
	}
}
