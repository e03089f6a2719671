package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// NewRouter wires middleware and routes. Every /api route except logout requires a session.
func NewRouter(handler *PaymentHandler, verifier *SessionVerifier, cfg *Config, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.ServiceName))
	r.Use(requestLogger(logger))
	r.Use(cors(cfg.CORS.AllowedOrigins))

	r.GET("/health", handler.HealthCheck)

	api := r.Group("/api")
	api.POST("/sessionLogout", func(c *gin.Context) {
		verifier.ClearSession(c)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := api.Group("", verifier.Middleware())
	authed.GET("/me", handler.Me)

	payment := authed.Group("/payment", requireJSON())
	payment.POST("/create-order", handler.CreateOrder)
	payment.POST("/verify-payment", handler.VerifyPayment)
	payment.POST("/report-failure", handler.ReportFailure)
	payment.GET("/purchase-status", handler.PurchaseStatus)
	payment.GET("/payment-history", handler.PaymentHistory)

	return r
}

// requestLogger logs method, route, status and latency for every request.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// requireJSON rejects POST bodies that are not application/json.
func requireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost && c.ContentType() != "application/json" {
			c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, gin.H{
				"success": false,
				"error":   apiError{Code: "UNSUPPORTED_MEDIA_TYPE", Message: "Content-Type must be application/json"},
			})
			return
		}
		c.Next()
	}
}

// cors allows credentialed requests from the configured origins only and rejects
// every other origin. Requests without an Origin header (curl, server-to-server) pass through.
func cors(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		preflight := c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != ""

		if _, ok := allowed[origin]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   apiError{Code: "CORS_FORBIDDEN", Message: "Not allowed by CORS"},
			})
			return
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Add("Vary", "Origin")

		if preflight {
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
