package consultation

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/consult-api/internal/config"
	"github.com/jwalitptl/consult-api/internal/handler"
	"github.com/jwalitptl/consult-api/internal/service/consultation"
	"github.com/jwalitptl/consult-api/pkg/auth"
	apperrors "github.com/jwalitptl/consult-api/pkg/errors"
	"github.com/jwalitptl/consult-api/pkg/metrics"
)

type Handler struct {
	hub      *consultation.Hub
	jwt      auth.JWTService
	cfg      config.ChatConfig
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewHandler(hub *consultation.Hub, jwt auth.JWTService, cfg config.ChatConfig, allowedOrigins []string, m *metrics.Metrics, logger zerolog.Logger) *Handler {
	return &Handler{
		hub: hub,
		jwt: jwt,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		metrics: m,
		logger:  logger.With().Str("component", "ws").Logger(),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", h.Serve)
}

// bearer reads the credential from the Authorization header, falling back
// to the token query parameter since browsers cannot set headers on a
// websocket handshake.
func bearer(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

func (h *Handler) Serve(c *gin.Context) {
	token := bearer(c)
	if token == "" {
		handler.Fail(c, apperrors.Unauthorized("missing bearer token"))
		return
	}
	caller, err := h.jwt.Validate(token)
	if err != nil {
		handler.Fail(c, apperrors.Unauthorized("invalid token"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		c.Abort()
		return
	}

	cl := newClient(caller, conn, h.hub, h.cfg, h.logger)
	h.metrics.ChatConnections.Inc()
	h.logger.Debug().Str("user_id", caller.ID.String()).Msg("websocket connected")

	go cl.writePump()
	cl.readPump(c.Request.Context())

	h.hub.Disconnect(cl)
	h.metrics.ChatConnections.Dec()
	h.logger.Debug().Str("user_id", caller.ID.String()).Msg("websocket disconnected")
}
