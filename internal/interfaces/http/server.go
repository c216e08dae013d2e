// Package http is the webhook intake surface: acknowledge fast, enqueue,
// and let the worker pool do the dialog work.
package http

import (
	"crypto/subtle"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dialogforge/dialogforge/internal/domain/platform"
	"github.com/dialogforge/dialogforge/internal/domain/repository"
	apperrors "github.com/dialogforge/dialogforge/pkg/errors"
)

// maxWebhookBody bounds an update payload; Telegram updates are small.
const maxWebhookBody = 1 << 20

// WebhookJob is one enqueued update awaiting a worker.
type WebhookJob struct {
	BotID    string
	Platform string
	Raw      []byte
	Received time.Time
}

// EnqueueFunc hands a job to the work queue; false means the queue is
// full and the job was dropped.
type EnqueueFunc func(job WebhookJob) bool

// Server is the gin intake server.
type Server struct {
	engine  *gin.Engine
	bots    repository.BotRepository
	enqueue EnqueueFunc
	logger  *zap.Logger
}

// NewServer builds the router. mode "production" silences gin's debug
// output.
func NewServer(mode string, bots repository.BotRepository, enqueue EnqueueFunc, logger *zap.Logger) *Server {
	if mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:  gin.New(),
		bots:    bots,
		enqueue: enqueue,
		logger:  logger.With(zap.String("component", "http-server")),
	}

	s.engine.Use(gin.Recovery())
	s.engine.GET("/health", s.handleHealth)
	s.engine.POST("/webhook/:platform/:bot_id", s.handleWebhook)

	return s
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.logger.Info("Webhook intake listening", zap.String("addr", addr))
	return s.engine.Run(addr)
}

// Handler exposes the router; tests drive it directly.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleWebhook authenticates the platform's secret scheme, enqueues the
// raw update and acknowledges. A full queue still acknowledges: the
// platform redelivers on its own schedule, and a 5xx would only make it
// hammer a server that is already saturated.
func (s *Server) handleWebhook(c *gin.Context) {
	platformName := c.Param("platform")
	botID := c.Param("bot_id")

	cred, err := s.bots.Credential(c.Request.Context(), botID, platformName)
	if err != nil {
		if apperrors.IsNotFound(err) {
			c.Status(http.StatusNotFound)
			return
		}
		s.logger.Error("Credential lookup failed", zap.String("bot_id", botID), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}

	if token := cred.SecretToken(); token != "" {
		got := secretHeader(c, platformName)
		if subtle.ConstantTimeCompare([]byte(token), []byte(got)) != 1 {
			c.Status(http.StatusForbidden)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil || len(body) == 0 {
		c.Status(http.StatusBadRequest)
		return
	}

	ok := s.enqueue(WebhookJob{
		BotID:    botID,
		Platform: platformName,
		Raw:      body,
		Received: time.Now(),
	})
	if !ok {
		s.logger.Warn("Work queue full, dropping update",
			zap.String("bot_id", botID),
			zap.String("platform", platformName),
		)
	}

	c.Status(http.StatusOK)
}

// secretHeader returns the platform's webhook authentication header.
func secretHeader(c *gin.Context, platformName string) string {
	switch platform.Name(platformName) {
	case platform.Telegram:
		return c.GetHeader("X-Telegram-Bot-Api-Secret-Token")
	default:
		return c.GetHeader("X-Webhook-Secret")
	}
}
