package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/airframesio/data-differ/cmd/reporter"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool {
			return true // the viewer only listens for local browsers
		},
	}

	// logBroadcast receives every log record; the viewer drains it while running
	logBroadcast = make(chan LogMessage, 1000)
)

// progressSource is what the viewer reads snapshots from
type progressSource interface {
	Current() reporter.Progress
	Subscribe(buffer int) *reporter.Subscription
}

// clientWrapper wraps a websocket connection with a write mutex to ensure thread-safe writes
type clientWrapper struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (cw *clientWrapper) writeJSON(v interface{}) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	_ = cw.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return cw.conn.WriteJSON(v)
}

// WSMessage is the envelope of every websocket message
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type LogMessage struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

type StatusResponse struct {
	Running     bool      `json:"running"`
	PID         int       `json:"pid,omitempty"`
	CurrentTask *TaskInfo `json:"currentTask,omitempty"`
	Version     string    `json:"version"`
}

// clientSet is a set of websocket clients receiving the same stream
type clientSet struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*clientWrapper
}

func newClientSet() *clientSet {
	return &clientSet{clients: make(map[*websocket.Conn]*clientWrapper)}
}

func (s *clientSet) add(conn *websocket.Conn) *clientWrapper {
	wrapper := &clientWrapper{conn: conn}
	s.mu.Lock()
	s.clients[conn] = wrapper
	s.mu.Unlock()
	return wrapper
}

func (s *clientSet) remove(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
}

func (s *clientSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// broadcast writes msg to every client and drops the ones that fail
func (s *clientSet) broadcast(msg interface{}) {
	s.mu.RLock()
	var failed []*websocket.Conn
	for conn, wrapper := range s.clients {
		if err := wrapper.writeJSON(msg); err != nil {
			failed = append(failed, conn)
		}
	}
	s.mu.RUnlock()

	if len(failed) > 0 {
		s.mu.Lock()
		for _, conn := range failed {
			if _, exists := s.clients[conn]; exists {
				conn.Close()
				delete(s.clients, conn)
			}
		}
		s.mu.Unlock()
	}
}

func (s *clientSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
}

// viewer serves live progress and logs of one run over HTTP and websockets
type viewer struct {
	source   progressSource
	progress *clientSet
	logs     *clientSet
}

func newViewer(source progressSource) *viewer {
	return &viewer{
		source:   source,
		progress: newClientSet(),
		logs:     newClientSet(),
	}
}

func (v *viewer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", v.serveIndex)
	r.Get("/api/progress", v.serveProgress)
	r.Get("/api/status", v.serveStatus)
	r.Get("/ws", v.handleWebSocket)
	r.Get("/ws/logs", v.handleLogsWebSocket)
	return r
}

// serve runs the HTTP server and the broadcast loops until ctx is done
func (v *viewer) serve(ctx context.Context, port int) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           v.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go v.pumpProgress(ctx)
	go v.pumpLogs(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		v.progress.closeAll()
		v.logs.closeAll()
	}()

	logger.Info(fmt.Sprintf("📊 Progress viewer on http://localhost:%d", port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("viewer server failed: %w", err)
	}
	return nil
}

// pumpProgress forwards snapshots to websocket clients until the terminal snapshot
func (v *viewer) pumpProgress(ctx context.Context) {
	sub := v.source.Subscribe(8)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-sub.C():
			if !ok {
				return
			}
			v.progress.broadcast(WSMessage{Type: "progress", Data: p})
		}
	}
}

func (v *viewer) pumpLogs(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-logBroadcast:
			v.logs.broadcast(msg)
		}
	}
}

func (v *viewer) serveIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(viewerHTML))
}

func (v *viewer) serveProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, v.source.Current())
}

func (v *viewer) serveStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, currentStatus())
}

// currentStatus reports the comparison running on this machine, if any
func currentStatus() StatusResponse {
	response := StatusResponse{Version: Version}
	pid, err := ReadPIDFile()
	if err != nil || !IsProcessRunning(pid) {
		return response
	}
	response.Running = true
	response.PID = pid
	if info, err := ReadTaskInfo(); err == nil {
		response.CurrentTask = info
	}
	return response
}

func writeJSONResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (v *viewer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug(fmt.Sprintf("WebSocket upgrade error: %v", err))
		return
	}
	defer conn.Close()

	wrapper := v.progress.add(conn)
	defer v.progress.remove(conn)

	_ = wrapper.writeJSON(WSMessage{Type: "progress", Data: v.source.Current()})
	readUntilClosed(conn)
}

func (v *viewer) handleLogsWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug(fmt.Sprintf("Logs WebSocket upgrade error: %v", err))
		return
	}
	defer conn.Close()

	v.logs.add(conn)
	defer v.logs.remove(conn)
	readUntilClosed(conn)
}

// readUntilClosed keeps a connection registered until the client goes away
func readUntilClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug(fmt.Sprintf("WebSocket error: %v", err))
			}
			return
		}
	}
}
