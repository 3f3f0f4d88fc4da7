package ws

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/process"

	"github.com/chatwave/relay/internal/metrics"
)

// Route registers additional HTTP endpoints on the server's router.
func (s *Server) Route(fn func(r gin.IRouter)) {
	s.routes = append(s.routes, fn)
}

// Handler builds the HTTP surface: the WebSocket upgrade endpoint, health,
// Prometheus metrics and any routes added with Route.
func (s *Server) Handler() http.Handler {
	if s.config.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(CORS(s.config.AllowedOrigins))
	router.Use(RequestLogger())

	router.GET("/ws", gin.WrapF(s.handleUpgrade))
	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	for _, fn := range s.routes {
		fn(router)
	}
	return router
}

// handleHealth responds with the server's health status, including the
// current connection count, uptime and process resource usage.
func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":      "ok",
		"connections": s.conns.Count(),
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
		"goroutines":  runtime.NumGoroutine(),
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := p.MemoryInfo(); err == nil {
			resp["rss_bytes"] = mem.RSS
		}
		if cpu, err := p.CPUPercent(); err == nil {
			resp["cpu_percent"] = cpu
		}
	}

	c.JSON(http.StatusOK, resp)
}

// CORS allows browser clients served from another origin to call the HTTP
// API. An origin list containing "*" allows any origin.
func CORS(allowed []string) gin.HandlerFunc {
	wildcard := lo.Contains(allowed, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (wildcard || lo.Contains(allowed, origin)) {
			if wildcard {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestLogger writes one line per HTTP request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		fmt.Fprintf(gin.DefaultWriter.(io.Writer), "[%s] %s %s %d %s\n",
			c.ClientIP(),
			c.Request.Method,
			path,
			c.Writer.Status(),
			time.Since(start),
		)
	}
}
