package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/bibswap/swapchat/internal/api"
	"github.com/bibswap/swapchat/internal/bus"
	"github.com/bibswap/swapchat/internal/chat"
	"github.com/bibswap/swapchat/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options configures the HTTP API.
type Options struct {
	Addr           string
	AllowedOrigins []string
	// SendPerMinute caps message sends per user. Zero disables the limit.
	SendPerMinute uint
	PushBuffer    int
	PingInterval  time.Duration
	PongTimeout   time.Duration
	ShareBaseURL  string
}

func (o *Options) defaults() {
	if o.PushBuffer <= 0 {
		o.PushBuffer = 256
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 15 * time.Second
	}
}

// Server is the browser-facing JSON API and WebSocket push channel.
type Server struct {
	chat     *chat.Service
	auth     api.Authenticator
	bus      *bus.Bus
	opts     Options
	logger   *zap.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader

	httpServer *http.Server
	closing    chan struct{}
	closeOnce  sync.Once
}

// New builds the server and its routes. It does not listen until Start.
func New(c *chat.Service, auth api.Authenticator, b *bus.Bus, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.defaults()
	s := &Server{
		chat:    c,
		auth:    auth,
		bus:     b,
		opts:    opts,
		logger:  logger,
		closing: make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.engine = s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(s.logger))
	r.Use(gin.Recovery())
	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.opts.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
			AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	s.defineRoutes(r)
	return r
}

func (s *Server) defineRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apirouter := router.Group("/api/v1")
	apirouter.Use(s.authorize())

	apirouter.GET("/conversations", s.handleInbox())
	apirouter.POST("/conversations", s.handleStart())
	apirouter.GET("/conversations/:id", s.handleOpen())
	apirouter.DELETE("/conversations/:id", s.handleDelete())
	apirouter.POST("/conversations/:id/messages", s.limitSends(), s.handleSend())
	apirouter.POST("/conversations/:id/seen", s.handleSeen())
	apirouter.POST("/conversations/:id/block", s.handleBlock())
	apirouter.DELETE("/conversations/:id/block", s.handleUnblock())
	apirouter.POST("/conversations/:id/reports", s.handleReport())
	apirouter.GET("/conversations/:id/ws", s.handleWatch())
	apirouter.GET("/conversations/:id/share", s.handleShare())
	apirouter.GET("/messages/:id/translation", s.handleTranslate())
	apirouter.PUT("/listings/:id", s.handlePutListing())
	apirouter.POST("/listings/:id/interest", s.handleInterest())
	apirouter.GET("/c/:publicID", s.handleResolve())
}

// requestLogger writes one zap entry per request.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.String()))
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("http request failed", fields...)
			return
		}
		logger.Debug("http request", fields...)
	}
}

const userKey = "swapchat.user"

// authorize resolves the bearer token. Browsers cannot set headers on a
// WebSocket handshake, so access_token is accepted as a query parameter too.
func (s *Server) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := session.BearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			raw = c.Query("access_token")
		}
		u, err := s.auth.Authenticate(raw)
		switch {
		case errors.Is(err, session.ErrNoSession):
			abort(c, http.StatusUnauthorized, "NO_SESSION", "authentication required")
			return
		case err != nil:
			abort(c, http.StatusUnauthorized, "INVALID_SESSION", "invalid session")
			return
		}
		c.Set(userKey, u)
		c.Request = c.Request.WithContext(session.WithUser(c.Request.Context(), u))
		c.Next()
	}
}

func userOf(c *gin.Context) session.User {
	u, _ := c.Get(userKey)
	user, _ := u.(session.User)
	return user
}

func (s *Server) limitSends() gin.HandlerFunc {
	if s.opts.SendPerMinute == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	store := ratelimit.InMemoryStore(&ratelimit.InMemoryOptions{
		Rate:  time.Minute,
		Limit: s.opts.SendPerMinute,
	})
	return ratelimit.RateLimiter(store, &ratelimit.Options{
		ErrorHandler: func(c *gin.Context, info ratelimit.Info) {
			c.Header("Retry-After", time.Until(info.ResetTime).Round(time.Second).String())
			abort(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many messages, try again later")
		},
		KeyFunc: func(c *gin.Context) string {
			return userOf(c).ID
		},
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Start serves until Stop. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.opts.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes open WebSockets and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("HTTP server stopping")
	s.closeOnce.Do(func() { close(s.closing) })
	return s.httpServer.Shutdown(ctx)
}
