package handlers

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
)

// requestContext returns the request context, falling back to a background
// context when the handler is exercised without a real request.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// pathID parses an int64 route parameter, returning 0 when absent or bad.
// Services treat id 0 as not-found.
func pathID(c *gin.Context, name string) int64 {
	id, _ := strconv.ParseInt(c.Param(name), 10, 64)
	return id
}

func queryID(raw string) int64 {
	id, _ := strconv.ParseInt(raw, 10, 64)
	return id
}
