package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter mounts the API under /api.
func NewRouter(h *Handler, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(logger), gin.Recovery())

	r.GET("/healthz", h.healthz)

	api := r.Group("/api")

	expenses := api.Group("/expenses")
	expenses.GET("", h.listExpenses)
	expenses.POST("", h.createExpense)
	expenses.GET("/user/:userId", h.listUserExpenses)
	expenses.GET("/status/:statusId", h.listExpensesByStatus)
	expenses.GET("/pending", h.listPendingExpenses)
	expenses.GET("/summary", h.summary)
	expenses.GET("/:id", h.getExpense)
	expenses.PUT("/:id", h.updateExpense)
	expenses.DELETE("/:id", h.deleteExpense)
	expenses.POST("/:id/submit", h.submitExpense)
	expenses.POST("/:id/approve", h.approveExpense)
	expenses.POST("/:id/reject", h.rejectExpense)

	api.GET("/categories", h.listCategories)
	api.GET("/statuses", h.listStatuses)
	api.GET("/users", h.listUsers)
	api.GET("/users/:id", h.getUser)

	api.POST("/chat", h.chat)

	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if c.Writer.Status() >= 500 {
			logger.Warn("HTTP request", fields...)
			return
		}
		logger.Debug("HTTP request", fields...)
	}
}
