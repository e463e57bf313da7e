package transport

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teeban10/kasagi-main/internal/v1/dispatcher"
	"github.com/teeban10/kasagi-main/internal/v1/metrics"
	"github.com/teeban10/kasagi-main/internal/v1/ratelimit"
	"github.com/teeban10/kasagi-main/internal/v1/types"
)

// Server upgrades incoming HTTP requests to WebSocket connections and hands
// each one off to the Session Dispatcher, grounded on the teacher's
// Hub.ServeWs (session/hub.go) minus its auth handshake — KasagiEngine's
// Non-goals exclude authentication entirely.
type Server struct {
	dispatcher     *dispatcher.Dispatcher
	rateLimiter    *ratelimit.RateLimiter
	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewServer builds a Server bound to d. allowedOrigins is the comma
// separated ALLOWED_ORIGINS config value; an empty value allows any origin,
// matching the teacher's permissive CORS default for local development.
func NewServer(d *dispatcher.Dispatcher, rl *ratelimit.RateLimiter, allowedOrigins string) *Server {
	s := &Server{
		dispatcher:     d,
		rateLimiter:    rl,
		allowedOrigins: splitOrigins(allowedOrigins),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// ServeWS is the gin handler for GET /ws/room/:roomId. The roomId path
// param is informational only (useful for load balancer stickiness and
// access logs) — the authoritative room membership is established
// entirely by the first "join" control frame, per §4.6, so every accepted
// socket starts out unattached regardless of the URL it was opened on.
func (s *Server) ServeWS(c *gin.Context) {
	if s.rateLimiter != nil && !s.rateLimiter.CheckWebSocketConnect(c) {
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("transport: upgrade failed", "error", err, "remote", c.ClientIP())
		return
	}

	client := NewClient(conn)
	session := dispatcher.NewSession(types.SessionIDType(uuid.NewString()), client)

	metrics.IncConnection()
	client.Run(
		func(raw []byte) {
			s.dispatcher.HandleMessage(c.Request.Context(), session, raw)
		},
		func() {
			s.dispatcher.HandleDisconnect(session)
			metrics.DecConnection()
		},
	)
}

// checkOrigin mirrors the teacher's Hub origin validation: scheme+host
// equality against the configured allow-list, permissive when unset or
// when the request carries no Origin header at all (native/non-browser
// clients).
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.allowedOrigins) == 0 {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	for _, allowed := range s.allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}
