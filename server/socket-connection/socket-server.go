package socket_connection

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go-tankloop/eventlog"
	"go-tankloop/logger"
)

const (
	eventBuffer  = 1000
	writeTimeout = 2 * time.Second
)

// Event is one line of the live feed.
type Event struct {
	Kind   string `json:"kind"`
	Record any    `json:"record"`
}

// Server broadcasts plant and controller records to every connected client
// as newline-delimited JSON. Clients only listen; anything they send is ignored.
type Server struct {
	log logger.Logger
	ln  net.Listener

	// clients holds active client connections.
	clients      map[net.Conn]struct{}
	clientsMutex sync.Mutex

	events  chan Event
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

func NewServer(log logger.Logger) *Server {
	return &Server{
		log:     log,
		clients: make(map[net.Conn]struct{}),
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}
}

// Listen opens the TCP listener on addr.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info("feed server started", "address", ln.Addr().String())

	return nil
}

func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts clients and broadcasts events until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	go s.broadcastEvents()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("error accepting connection", "error", err)
			continue
		}

		if !s.addClient(conn) {
			continue
		}
		s.log.Info("new client connected", "client", conn.RemoteAddr().String())

		go s.handleConnection(conn)
	}
}

// addClient registers conn unless the server is closing, in which case conn is closed.
func (s *Server) addClient(conn net.Conn) bool {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()

	select {
	case <-s.done:
		_ = conn.Close()
		return false
	default:
	}
	s.clients[conn] = struct{}{}

	return true
}

// Publish queues an event for broadcast. Events are dropped while the queue is full.
func (s *Server) Publish(kind string, record any) {
	select {
	case s.events <- Event{Kind: kind, Record: record}:
	default:
		if s.dropped.Add(1) == 1 {
			s.log.Warn("feed queue full, dropping events")
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Server) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Server) ClientCount() int {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()

	return len(s.clients)
}

// PlantSink returns a sink that publishes plant records as "plant" events.
func (s *Server) PlantSink() eventlog.Sink[eventlog.PlantRecord] {
	return eventlog.SinkFunc[eventlog.PlantRecord](func(rec eventlog.PlantRecord) error {
		s.Publish("plant", rec)
		return nil
	})
}

// ControllerSink returns a sink that publishes controller records as "controller" events.
func (s *Server) ControllerSink() eventlog.Sink[eventlog.ControllerRecord] {
	return eventlog.SinkFunc[eventlog.ControllerRecord](func(rec eventlog.ControllerRecord) error {
		s.Publish("controller", rec)
		return nil
	})
}

// Close stops accepting clients and disconnects the current ones.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.ln != nil {
			err = s.ln.Close()
		}

		s.clientsMutex.Lock()
		for conn := range s.clients {
			_ = conn.Close()
			delete(s.clients, conn)
		}
		s.clientsMutex.Unlock()
	})

	return err
}

// broadcastEvents sends every queued event to all connected clients.
func (s *Server) broadcastEvents() {
	for {
		var event Event
		select {
		case event = <-s.events:
		case <-s.done:
			return
		}

		data, err := json.Marshal(event)
		if err != nil {
			s.log.Error("error marshaling event", "kind", event.Kind, "error", err)
			continue
		}
		// Append a newline so clients can separate events.
		data = append(data, '\n')

		s.clientsMutex.Lock()
		for conn := range s.clients {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := conn.Write(data); err != nil {
				s.log.Warn("error writing to client, dropping it", "client", conn.RemoteAddr().String(), "error", err)
				_ = conn.Close()
				delete(s.clients, conn)
			}
		}
		s.clientsMutex.Unlock()
	}
}

// handleConnection monitors a client connection for disconnection by reading from it.
func (s *Server) handleConnection(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); err != nil {
			break
		}
	}

	// Remove the client when the connection is closed.
	s.clientsMutex.Lock()
	_, known := s.clients[conn]
	delete(s.clients, conn)
	s.clientsMutex.Unlock()

	if known {
		s.log.Info("client disconnected", "client", conn.RemoteAddr().String())
		_ = conn.Close()
	}
}
