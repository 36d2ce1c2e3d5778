// Package transport carries protocol requests between an editor process and
// the application processes it controls. Each request uses one TCP
// connection: the client writes the request and half-closes, the server
// answers with at most one reply and closes. A client that does not
// half-close is served once the request stops arriving for IdleTimeout.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	// DefaultBasePort is the first port a server tries to bind.
	DefaultBasePort = 20000
	// DefaultPortCount is the number of consecutive ports tried.
	DefaultPortCount = 10
	// DefaultHost is the interface servers bind and clients dial.
	DefaultHost = "localhost"
	// DefaultMaxPayload bounds a single request or reply.
	DefaultMaxPayload = 16 << 20
	// DefaultReadTimeout bounds how long the server waits for a request.
	DefaultReadTimeout = 5 * time.Second
	// DefaultIdleTimeout is the pause after which a request that was not
	// half-closed counts as complete.
	DefaultIdleTimeout = 100 * time.Millisecond
)

var (
	// ErrNoPort is returned by Listen when every candidate port is taken.
	ErrNoPort = errors.New("no free port")
	// ErrTooLarge is returned when a request or reply exceeds MaxPayload.
	ErrTooLarge = errors.New("payload exceeds limit")
)

// Dispatcher turns a request into a reply. ok is false when no handler
// accepted the request.
type Dispatcher interface {
	Dispatch(ctx context.Context, request string) (reply string, ok bool)
}

// Options configures a Server.
type Options struct {
	Host        string
	BasePort    int
	PortCount   int
	MaxPayload  int64
	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Host == "" {
		o.Host = DefaultHost
	}
	if o.BasePort == 0 {
		o.BasePort = DefaultBasePort
	}
	if o.PortCount <= 0 {
		o.PortCount = DefaultPortCount
	}
	if o.MaxPayload <= 0 {
		o.MaxPayload = DefaultMaxPayload
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	return o
}

// Server accepts connections one at a time and hands each request to its
// dispatcher. A client that connects and sends nothing holds up every other
// client until ReadTimeout expires.
type Server struct {
	app        string
	dispatcher Dispatcher
	opts       Options

	mu       sync.Mutex
	listener net.Listener
	port     int
	closed   bool
}

// NewServer creates a server for the application app.
func NewServer(app string, dispatcher Dispatcher, opts Options) *Server {
	return &Server{
		app:        app,
		dispatcher: dispatcher,
		opts:       opts.withDefaults(),
	}
}

// Listen binds the first free port of BasePort..BasePort+PortCount-1.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("server for %s is already listening on port %d", s.app, s.port)
	}

	last := s.opts.BasePort + s.opts.PortCount - 1
	for port := s.opts.BasePort; port <= last; port++ {
		addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(port))
		l, err := net.Listen("tcp", addr)
		if err != nil {
			log.Printf("[Server] Port %d unavailable: %v", port, err)
			continue
		}
		s.listener = l
		s.port = port
		log.Printf("[Server] %s listening on %s", s.app, l.Addr())
		return nil
	}

	return fmt.Errorf("%w for %s (range %d-%d exhausted)", ErrNoPort, s.app, s.opts.BasePort, last)
}

// Serve runs the accept loop until ctx is cancelled or Close is called.
// Requests are handled sequentially in arrival order.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return fmt.Errorf("server for %s is not listening", s.app)
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				log.Printf("[Server] %s stopped accepting on port %d", s.app, s.port)
				return nil
			}
			log.Printf("[Server] Accept failed: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.handle(ctx, conn)
	}
}

// Start binds a port and serves it in a new goroutine.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	go func() {
		if err := s.Serve(ctx); err != nil {
			log.Printf("[Server] Serve failed: %v", err)
		}
	}()
	return nil
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	data, err := s.readRequest(conn)
	if err != nil {
		log.Printf("[Server] Failed to read request from %s: %v", conn.RemoteAddr(), err)
		return
	}
	if len(data) == 0 {
		return
	}

	reply, ok := s.dispatcher.Dispatch(ctx, string(data))
	if !ok || reply == "" {
		return
	}

	if err := conn.SetWriteDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
		log.Printf("[Server] Failed to set write deadline: %v", err)
		return
	}
	if _, err := io.WriteString(conn, reply); err != nil {
		log.Printf("[Server] Failed to write reply to %s: %v", conn.RemoteAddr(), err)
	}
}

// readRequest reads until EOF, or until nothing has arrived for IdleTimeout
// after the first bytes. The first bytes must arrive within ReadTimeout.
func (s *Server) readRequest(conn net.Conn) ([]byte, error) {
	var data []byte
	buf := make([]byte, 32<<10)
	deadline := time.Now().Add(s.opts.ReadTimeout)

	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
		n, err := conn.Read(buf)
		data = append(data, buf[:n]...)
		if int64(len(data)) > s.opts.MaxPayload {
			return nil, fmt.Errorf("%w: request is over %d bytes", ErrTooLarge, s.opts.MaxPayload)
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return data, nil
		case isTimeout(err):
			// Nothing at all before ReadTimeout is not an error
			return data, nil
		default:
			return nil, err
		}
		if n > 0 {
			deadline = time.Now().Add(s.opts.IdleTimeout)
		}
	}
}

// App returns the application name the server was created for.
func (s *Server) App() string { return s.app }

// Port returns the bound port, or 0 before Listen succeeds.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Addr returns the listener address, or nil before Listen succeeds.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops the accept loop. It is safe to call more than once.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil || s.closed {
		return nil
	}
	s.closed = true
	return s.listener.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
