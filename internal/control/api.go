// Package control provides the daemon control plane API: JSON lines over a
// Unix socket, one request per line, responses matched by request ID and
// events pushed to every connected client.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/drewfead/ticketd/internal/logging"
)

// Server handles incoming connections on the Unix socket.
type Server struct {
	socketPath string
	listener   net.Listener
	handlers   map[string]HandlerFunc
	mu         sync.RWMutex
	clients    map[net.Conn]*sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// HandlerFunc is the signature for API method handlers. ctx is cancelled
// when the server stops.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Request represents an incoming API request.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     string          `json:"id,omitempty"`
}

// Response represents an outgoing API response.
type Response struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
	Code  string          `json:"code,omitempty"`
	ID    string          `json:"id,omitempty"`
}

// Event represents a pushed event to clients.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// CodedError lets a handler attach a machine-readable code to its error so
// clients can tell a rejection from a failure.
type CodedError interface {
	error
	Code() string
}

// NewServer creates a new control server.
func NewServer(socketPath string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		clients:    make(map[net.Conn]*sync.Mutex),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Handle registers a handler for a method.
func (s *Server) Handle(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// Start begins listening for connections.
func (s *Server) Start() error {
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = listener

	// The git user and the daemon share the socket.
	if err := os.Chmod(s.socketPath, 0770); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and every client connection.
func (s *Server) Stop() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	os.Remove(s.socketPath)
	return nil
}

// Broadcast sends an event to all connected clients.
func (s *Server) Broadcast(eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logging.Error("failed to encode event", "type", eventType, "error", err)
		return
	}
	data, err := json.Marshal(Event{Type: eventType, Payload: raw})
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.RLock()
	defer s.mu.RUnlock()

	for conn, wmu := range s.clients {
		wmu.Lock()
		conn.Write(data)
		wmu.Unlock()
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				logging.Warn("control accept failed", "error", err)
				continue
			}
		}

		wmu := &sync.Mutex{}
		s.mu.Lock()
		s.clients[conn] = wmu
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn, wmu)
	}
}

func (s *Server) handleConnection(conn net.Conn, wmu *sync.Mutex) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			s.send(conn, wmu, Response{Error: "invalid request: " + err.Error()})
			continue
		}

		s.mu.RLock()
		handler, ok := s.handlers[req.Method]
		s.mu.RUnlock()

		if !ok {
			s.send(conn, wmu, Response{ID: req.ID, Error: "unknown method: " + req.Method})
			continue
		}

		s.send(conn, wmu, s.call(req, handler))
	}
}

func (s *Server) call(req Request, handler HandlerFunc) (resp Response) {
	resp.ID = req.ID
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "method", req.Method)
			resp = Response{ID: req.ID, Error: fmt.Sprintf("internal error in %s", req.Method)}
		}
	}()

	data, err := handler(s.ctx, req.Params)
	if err != nil {
		resp.Error = err.Error()
		if coded, ok := err.(CodedError); ok {
			resp.Code = coded.Code()
		}
		return resp
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			resp.Error = "failed to encode response: " + err.Error()
			return resp
		}
		resp.Data = raw
	}
	return resp
}

func (s *Server) send(conn net.Conn, wmu *sync.Mutex, resp Response) {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return
	}
	wmu.Lock()
	defer wmu.Unlock()
	conn.Write(append(encoded, '\n'))
}
