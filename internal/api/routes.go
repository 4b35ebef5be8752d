package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/coinjoin-coordinator/internal/round"
)

// SetupRouter wires the coordinator's request surface. Participant
// endpoints are public and rate-limited; the early-advance hook sits behind
// the admin bearer token.
func SetupRouter(coordinator *round.Coordinator, hub *Hub) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &Handler{coordinator: coordinator}

	// ── Public endpoints ───────────────────────────────────────
	pub := r.Group("/api/v1")
	{
		pub.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		pub.GET("/stream", hub.Subscribe)
		pub.GET("/round/status", handler.handleStatus)
	}

	// ── Participant endpoints (rate-limited, anonymous) ────────
	// Registration requests are cheap in-memory mutations, but input
	// admission fans out to gettxout calls — keep a lid per IP.
	part := r.Group("/api/v1/round")
	part.Use(NewRateLimiter(60, 10).Middleware())
	{
		part.POST("/inputs", handler.handleRegisterInputs)
		part.POST("/confirmation", handler.handleConfirmConnection)
		part.POST("/outputs", handler.handleRegisterOutput)
		part.POST("/signatures", handler.handleSubmitSignatures)
	}

	// ── Admin endpoints (bearer token) ─────────────────────────
	admin := r.Group("/api/v1/admin")
	admin.Use(AuthMiddleware())
	{
		admin.POST("/advance", handler.handleAdvancePhase)
	}

	return r
}
