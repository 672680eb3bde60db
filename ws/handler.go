package ws

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/globals"
)

// Handler upgrades HTTP requests to websocket connections and serves them with the router.
type Handler struct {
	router     *Router
	upgrader   websocket.Upgrader
	sendBuffer int
	logger     hclog.Logger

	allowAll bool
	origins  map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[*Client]struct{}
	wg      sync.WaitGroup
}

func NewHandler(router *Router, cfg *config.Config) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		router:     router,
		sendBuffer: cfg.ChatConfig.SendBuffer,
		logger:     globals.AppLogger.Named("ws"),
		origins:    make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		clients:    make(map[*Client]struct{}),
	}
	for _, origin := range cfg.ServerConfig.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			h.allowAll = true
			continue
		}
		if normalized, ok := normalizeOrigin(origin); ok {
			h.origins[normalized] = struct{}{}
		} else {
			h.logger.Warn("ignoring invalid allowed origin", "origin", origin)
		}
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// checkOrigin admits requests without an Origin header (non-browser clients) and browsers from an allowed origin.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowAll {
		return true
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, ok = h.origins[normalized]
	return ok
}

// ServeHTTP handles websocket requests from the peer. The token may be given as query parameter "token".
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade error", "error", err)
		return
	}
	c := NewClient(conn, h.sendBuffer, h.logger)

	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		h.wg.Done()
	}()

	h.logger.Debug("client connected", "conn", c.Id(), "remote", r.RemoteAddr)
	go c.WriteLoop()
	s := h.router.Open(h.ctx, c, r.URL.Query().Get("token"))
	c.ReadLoop(h.ctx, h.router, s)
	h.logger.Debug("client disconnected", "conn", c.Id())
}

// NoClients returns the number of open websocket connections.
func (h *Handler) NoClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes all connections and waits until their sessions are torn down or ctx is done.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.cancel()
	h.mu.Lock()
	for c := range h.clients {
		c.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
