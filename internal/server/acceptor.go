package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/lexiqai/perception-voice/internal/observability"
	"github.com/lexiqai/perception-voice/internal/protocol"
)

// Options controls the socket acceptor
type Options struct {
	SocketPath      string
	ReadTimeout     time.Duration // deadline for receiving the full request
	WriteTimeout    time.Duration // deadline for writing the response
	ShutdownTimeout time.Duration // how long Serve waits for in-flight handlers
	MaxMessageSize  int
	MaxConnections  int64 // concurrent handlers; extra connections are closed immediately
}

// DefaultOptions returns the acceptor defaults for socketPath
func DefaultOptions(socketPath string) Options {
	return Options{
		SocketPath:      socketPath,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxMessageSize:  protocol.DefaultMaxMessageSize,
		MaxConnections:  64,
	}
}

// ErrAlreadyRunning is returned by Listen when another process answers on the socket
var ErrAlreadyRunning = errors.New("server already running on socket")

// Server accepts unix socket connections and answers one request per connection
type Server struct {
	opts       Options
	dispatcher *Dispatcher
	sem        *semaphore.Weighted
	logger     zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New creates a server. Zero-valued options fall back to DefaultOptions.
func New(dispatcher *Dispatcher, opts Options) *Server {
	def := DefaultOptions(opts.SocketPath)
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = def.ShutdownTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = def.MaxConnections
	}

	return &Server{
		opts:       opts,
		dispatcher: dispatcher,
		sem:        semaphore.NewWeighted(opts.MaxConnections),
		logger:     observability.GetLogger().With().Str("component", "acceptor").Logger(),
	}
}

// Listen binds the unix socket, replacing a stale socket file left by a dead process.
// The socket is restricted to the owner.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	if err := removeStaleSocket(s.opts.SocketPath); err != nil {
		return err
	}

	lis, err := net.Listen("unix", s.opts.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.SocketPath, err)
	}
	if err := os.Chmod(s.opts.SocketPath, 0o600); err != nil {
		lis.Close()
		return fmt.Errorf("failed to restrict socket permissions: %w", err)
	}

	s.listener = lis
	return nil
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat socket path: %w", err)
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("refusing to replace non-socket file %s", path)
	}

	if conn, err := net.DialTimeout("unix", path, 500*time.Millisecond); err == nil {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, path)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	return nil
}

// SocketPath returns the path the server listens on
func (s *Server) SocketPath() string {
	return s.opts.SocketPath
}

// Serve accepts connections until ctx is cancelled. On shutdown it stops accepting,
// waits up to ShutdownTimeout for in-flight requests and removes the socket file.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	lis := s.listener
	s.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			lis.Close()
		case <-stop:
		}
	}()

	s.logger.Info().Str("socket", s.opts.SocketPath).Msg("Server listening")

	var backoff time.Duration
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}

			// Transient failures such as EMFILE: back off and keep serving
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			observability.RecordError("accept", "acceptor")
			s.logger.Error().Err(err).Dur("retry_in", backoff).Msg("Accept error")
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		if !s.sem.TryAcquire(1) {
			observability.RecordRejectedConnection()
			s.logger.Warn().Int64("max_connections", s.opts.MaxConnections).Msg("Connection limit reached, rejecting client")
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}

	s.drain()

	if err := os.Remove(s.opts.SocketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn().Err(err).Msg("Failed to remove socket file")
	}
	s.logger.Info().Msg("Server stopped")
	return nil
}

// drain waits for in-flight handlers, giving up after ShutdownTimeout
func (s *Server) drain() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.opts.ShutdownTimeout):
		s.logger.Warn().Dur("timeout", s.opts.ShutdownTimeout).Msg("Abandoning in-flight requests")
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.sem.Release(1)
	defer conn.Close()

	observability.ConnectionOpened()
	defer observability.ConnectionClosed()

	logger := observability.WithCorrelationID("").With().Str("component", "acceptor").Logger()

	if err := conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout)); err != nil {
		logger.Debug().Err(err).Msg("Failed to set read deadline")
		return
	}

	payload, err := protocol.ReadFrame(conn, s.opts.MaxMessageSize)
	if err != nil {
		s.handleReadError(conn, logger, err)
		return
	}

	resp := s.dispatcher.HandlePayload(logger, payload)
	s.writeResponse(conn, logger, resp)
}

func (s *Server) handleReadError(conn net.Conn, logger zerolog.Logger, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		// Peer connected and left without a request
		logger.Debug().Msg("Client closed connection before sending a request")
		return
	case errors.As(err, &netErr) && netErr.Timeout():
		observability.RecordError("read_timeout", "acceptor")
		logger.Warn().Dur("timeout", s.opts.ReadTimeout).Msg("Client did not send a complete request in time")
		return
	case errors.Is(err, protocol.ErrMessageTooLarge):
		observability.RecordRequest("invalid", protocol.StatusError, 0)
		logger.Warn().Err(err).Msg("Rejected oversized request")
		s.writeResponse(conn, logger, protocol.Error(err.Error()))
	default:
		observability.RecordError("read", "acceptor")
		logger.Warn().Err(err).Msg("Failed to read request")
		s.writeResponse(conn, logger, protocol.Error(fmt.Sprintf("failed to read request: %v", err)))
	}
}

func (s *Server) writeResponse(conn net.Conn, logger zerolog.Logger, resp protocol.Response) {
	payload, err := protocol.EncodeResponse(resp)
	if err == nil && len(payload) > s.opts.MaxMessageSize {
		payload, err = protocol.EncodeResponse(protocol.Error("response too large"))
	}
	if err != nil {
		observability.RecordError("encode", "acceptor")
		logger.Error().Err(err).Msg("Failed to encode response")
		return
	}

	if err := conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
		logger.Debug().Err(err).Msg("Failed to set write deadline")
		return
	}
	if err := protocol.WriteFrame(conn, payload, s.opts.MaxMessageSize); err != nil {
		// Client went away; the request already took effect and nothing is owed
		logger.Debug().Err(err).Msg("Failed to write response")
	}
}
