// Package server provides the TCP connection lifecycle shared by the vaultd
// listener: accept loop, TCP_NODELAY, connection-count limiting, and
// graceful shutdown. It is grounded on the teacher's BaseAdapter, trimmed
// from a multi-protocol (NFS/SMB) abstraction down to the single vaultd
// wire protocol.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/vaultd/internal/logger"
)

// ConnectionHandler represents an accepted connection that can serve the
// vaultd protocol. The Serve method blocks until the connection closes or
// the context is cancelled, handling exactly one request/response cycle
// per connection (§6.2).
type ConnectionHandler interface {
	Serve(ctx context.Context)
}

// ConnectionFactory creates a ConnectionHandler for each accepted TCP
// connection.
type ConnectionFactory interface {
	NewConnection(conn net.Conn) ConnectionHandler
}

// Config holds the TCP listener configuration.
type Config struct {
	// BindAddress is the IP address to bind to.
	// Empty string or "0.0.0.0" binds to all interfaces.
	BindAddress string

	// Port is the TCP port to listen on.
	Port int

	// MaxConnections limits the number of concurrent client connections.
	// 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout is the maximum duration to wait for active connections
	// to complete during graceful shutdown.
	ShutdownTimeout time.Duration

	// MetricsLogInterval is the interval at which to log server metrics.
	// 0 disables periodic metrics logging.
	MetricsLogInterval time.Duration
}

// MetricsRecorder allows the server to record connection lifecycle metrics.
// Nil means no metrics are collected.
type MetricsRecorder interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)
}

// BaseServer provides shared TCP lifecycle management: listener setup,
// graceful shutdown, connection tracking, and metrics logging.
//
// Thread safety:
// All exported methods are safe for concurrent use. The shutdown mechanism uses
// sync.Once to ensure idempotent behavior even if Stop() is called multiple times.
type BaseServer struct {
	// Config holds the shared configuration (bind address, port, limits, timeouts)
	Config Config

	// Metrics is an optional recorder for connection lifecycle metrics.
	// If nil, no metrics are collected (zero overhead).
	Metrics MetricsRecorder

	// listener is the TCP listener for accepting connections.
	// Closed during shutdown to stop accepting new connections.
	listener net.Listener

	// activeConns tracks all currently active connections for graceful shutdown.
	// Each connection calls Add(1) when starting and Done() when complete.
	activeConns sync.WaitGroup

	// shutdownOnce ensures shutdown is only initiated once.
	shutdownOnce sync.Once

	// Shutdown signals that graceful shutdown has been initiated.
	Shutdown chan struct{}

	// ConnCount tracks the current number of active connections.
	ConnCount atomic.Int32

	// connSemaphore limits the number of concurrent connections if MaxConnections > 0.
	connSemaphore chan struct{}

	// ShutdownCtx is cancelled during shutdown to abort in-flight requests.
	ShutdownCtx context.Context

	// CancelRequests cancels ShutdownCtx during shutdown.
	CancelRequests context.CancelFunc

	// ActiveConnections tracks all active TCP connections for forced closure.
	// Maps remote address (string) to net.Conn.
	ActiveConnections sync.Map

	// ListenerReady is closed when the listener is ready to accept connections.
	// Used by tests to synchronize with server startup.
	ListenerReady chan struct{}

	// listenerMu protects access to the listener field.
	listenerMu sync.RWMutex
}

// NewBaseServer creates a new BaseServer with the specified configuration.
// The server is created in a stopped state. Call ServeWithFactory() to start.
//
// Returns a pointer to avoid copying sync primitives (WaitGroup, Once, Map, RWMutex).
func NewBaseServer(config Config) *BaseServer {
	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("connection limit", "max_connections", config.MaxConnections)
	} else {
		logger.Debug("connection limit", "max_connections", "unlimited")
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &BaseServer{
		Config:         config,
		Shutdown:       make(chan struct{}),
		connSemaphore:  connSemaphore,
		ShutdownCtx:    shutdownCtx,
		CancelRequests: cancelRequests,
		ListenerReady:  make(chan struct{}),
	}
}

// ServeWithFactory runs the TCP accept loop, delegating to factory for
// connection creation.
//
// Returns nil on graceful shutdown, or an error if the shutdown timeout
// elapsed before all connections finished.
func (b *BaseServer) ServeWithFactory(ctx context.Context, factory ConnectionFactory) error {
	listenAddr := fmt.Sprintf("%s:%d", b.Config.BindAddress, b.Config.Port)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to create listener on port %d: %w", b.Config.Port, err)
	}

	b.listenerMu.Lock()
	b.listener = listener
	b.listenerMu.Unlock()
	close(b.ListenerReady)

	logger.Info("vaultd listening", "port", b.Config.Port)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received", "error", ctx.Err())
		b.initiateShutdown()
	}()

	if b.Config.MetricsLogInterval > 0 {
		go b.logMetrics(ctx)
	}

	for {
		if b.connSemaphore != nil {
			select {
			case b.connSemaphore <- struct{}{}:
			case <-b.Shutdown:
				return b.gracefulShutdown()
			}
		}

		tcpConn, err := b.listener.Accept()
		if err != nil {
			if b.connSemaphore != nil {
				<-b.connSemaphore
			}

			select {
			case <-b.Shutdown:
				return b.gracefulShutdown()
			default:
				logger.Debug("error accepting connection", "error", err)
				continue
			}
		}

		if tcp, ok := tcpConn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("failed to set TCP_NODELAY", "error", err)
			}
		}

		b.activeConns.Add(1)
		b.ConnCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		b.ActiveConnections.Store(connAddr, tcpConn)

		currentConns := b.ConnCount.Load()
		if b.Metrics != nil {
			b.Metrics.RecordConnectionAccepted()
			b.Metrics.SetActiveConnections(currentConns)
		}

		logger.Debug("connection accepted", "address", tcpConn.RemoteAddr(), "active", currentConns)

		conn := factory.NewConnection(tcpConn)

		go func(addr string, tcp net.Conn) {
			defer func() {
				b.ActiveConnections.Delete(addr)

				b.activeConns.Done()
				b.ConnCount.Add(-1)
				if b.connSemaphore != nil {
					<-b.connSemaphore
				}

				if b.Metrics != nil {
					b.Metrics.RecordConnectionClosed()
					b.Metrics.SetActiveConnections(b.ConnCount.Load())
				}

				logger.Debug("connection closed", "address", tcp.RemoteAddr(), "active", b.ConnCount.Load())
			}()

			conn.Serve(b.ShutdownCtx)
		}(connAddr, tcpConn)
	}
}

// initiateShutdown signals the server to begin graceful shutdown.
//
// Shutdown sequence:
//  1. Close shutdown channel (signals accept loop to stop)
//  2. Close listener (stops accepting new connections)
//  3. Interrupt blocking reads on all active connections
//  4. Cancel shutdownCtx (signals in-flight requests to abort)
func (b *BaseServer) initiateShutdown() {
	b.shutdownOnce.Do(func() {
		logger.Debug("shutdown initiated")

		close(b.Shutdown)

		b.listenerMu.Lock()
		if b.listener != nil {
			if err := b.listener.Close(); err != nil {
				logger.Debug("error closing listener", "error", err)
			}
		}
		b.listenerMu.Unlock()

		b.interruptBlockingReads()

		b.CancelRequests()
		logger.Debug("request cancellation signal sent to all in-flight operations")
	})
}

// interruptBlockingReads sets a short deadline on all active connections
// to interrupt any blocking read operations during shutdown.
func (b *BaseServer) interruptBlockingReads() {
	deadline := time.Now().Add(100 * time.Millisecond)

	b.ActiveConnections.Range(func(key, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			if err := conn.SetReadDeadline(deadline); err != nil {
				logger.Debug("error setting shutdown deadline on connection",
					"address", key, "error", err)
			}
		}
		return true
	})
	logger.Debug("shutdown: interrupted blocking reads on all connections")
}

// gracefulShutdown waits for active connections to complete or timeout.
func (b *BaseServer) gracefulShutdown() error {
	activeCount := b.ConnCount.Load()
	logger.Info("graceful shutdown: waiting for active connections",
		"active", activeCount, "timeout", b.Config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("graceful shutdown complete: all connections closed")
		return nil

	case <-time.After(b.Config.ShutdownTimeout):
		remaining := b.ConnCount.Load()
		logger.Warn("shutdown timeout exceeded - forcing closure",
			"active", remaining, "timeout", b.Config.ShutdownTimeout)

		b.forceCloseConnections()

		return fmt.Errorf("shutdown timeout: %d connections force-closed", remaining)
	}
}

// forceCloseConnections closes all active TCP connections to accelerate shutdown.
func (b *BaseServer) forceCloseConnections() {
	logger.Info("force-closing active connections")

	closedCount := 0
	b.ActiveConnections.Range(func(key, value any) bool {
		addr := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("error force-closing connection", "address", addr, "error", err)
		} else {
			closedCount++
			logger.Debug("force-closed connection", "address", addr)
			if b.Metrics != nil {
				b.Metrics.RecordConnectionForceClosed()
			}
		}

		return true
	})

	if closedCount == 0 {
		logger.Debug("no connections to force-close")
	} else {
		logger.Info("force-closed connections", "count", closedCount)
	}
}

// Stop initiates graceful shutdown of the server.
//
// Stop is safe to call multiple times and safe to call concurrently with
// ServeWithFactory(). It signals the server to begin shutdown and waits for
// active connections to complete until ctx is cancelled. With a nil ctx it
// waits up to ShutdownTimeout instead and then force-closes the remaining
// connections.
func (b *BaseServer) Stop(ctx context.Context) error {
	b.initiateShutdown()

	if ctx == nil {
		return b.gracefulShutdown()
	}

	activeCount := b.ConnCount.Load()
	logger.Info("graceful shutdown: waiting for active connections (context timeout)",
		"active", activeCount)

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("graceful shutdown complete: all connections closed")
		return nil

	case <-ctx.Done():
		remaining := b.ConnCount.Load()
		logger.Warn("shutdown context cancelled", "active", remaining, "error", ctx.Err())
		return ctx.Err()
	}
}

// logMetrics periodically logs server metrics for monitoring.
func (b *BaseServer) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(b.Config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("metrics", "active_connections", b.ConnCount.Load())
		}
	}
}

// GetActiveConnections returns the current number of active connections.
func (b *BaseServer) GetActiveConnections() int32 {
	return b.ConnCount.Load()
}

// GetListenerAddr returns the address the server is listening on.
// This method blocks until the listener is ready, making it safe for tests.
func (b *BaseServer) GetListenerAddr() string {
	<-b.ListenerReady

	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()

	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// Port returns the configured TCP port.
func (b *BaseServer) Port() int {
	return b.Config.Port
}
