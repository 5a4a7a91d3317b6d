// Package web provides the HTTP dashboard for the fermenter daemon.
package web

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/fermenter/internal/command"
	"github.com/sweeney/fermenter/internal/config"
	"github.com/sweeney/fermenter/internal/logger"
	"github.com/sweeney/fermenter/internal/status"
)

const (
	maxCommandBytes = 4096
	writeTimeout    = 5 * time.Second
	pingInterval    = 30 * time.Second
)

var upgrader = websocket.Upgrader{}

// Server serves the status page, the JSON status and a live websocket feed.
// Commands are handed to the control loop over a channel; the server never
// touches the control machine directly.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	commands   chan<- command.Command
}

// New creates a Server that reads state from tracker and sends operator
// commands to the given channel.
func New(addr string, tracker *status.Tracker, commands chan<- command.Command) *Server {
	s := &Server{tracker: tracker, commands: commands}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/setpoint", s.handleSetpoint)
	mux.HandleFunc("/command", s.handleCommand)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		logger.Errorf(r.Context(), "render index: %v", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleSetpoint accepts the dashboard form post.
func (s *Server) handleSetpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	v, err := strconv.ParseFloat(r.FormValue("beer_setpoint"), 64)
	if err != nil {
		http.Error(w, "invalid beer_setpoint", http.StatusBadRequest)
		return
	}
	if err := config.ValidateSetpoint(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.submit(r.Context(), command.Command{Setpoint: &v, Source: "web"}) {
		http.Error(w, "controller busy", http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleCommand accepts a JSON command, the same payload as the MQTT command topic.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	cmd, err := command.Parse(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd.Source = "web"
	if !s.submit(r.Context(), cmd) {
		http.Error(w, "controller busy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) submit(ctx context.Context, cmd command.Command) bool {
	select {
	case s.commands <- cmd:
		return true
	default:
		logger.Warnf(ctx, "command channel full, dropping %s command", cmd.Source)
		return false
	}
}

// handleWS streams compact status JSON to the client after every tracker update.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf(r.Context(), "websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.tracker.Subscribe()
	defer cancel()

	// Reader goroutine only detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	if err := s.push(conn); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-updates:
			if err := s.push(conn); err != nil {
				logger.Debugf(r.Context(), "websocket write: %v", err)
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (s *Server) push(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, status.FormatCompact(s.tracker.Snapshot()))
}
