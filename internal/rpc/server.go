// Package rpc implements C6 — a line-delimited JSON-RPC 2.0 endpoint over
// loopback TCP (spec.md §4.6, §6.2).
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"github.com/thusser/pybs/internal/daemon"
	"github.com/thusser/pybs/internal/metrics"
	"github.com/thusser/pybs/internal/requestid"
)

// Server accepts connections on a loopback listener, one task per
// connection, each serving exactly one request/response pair before
// closing (spec.md §6.2's "connections are one-shot").
type Server struct {
	daemon   *daemon.Daemon
	logger   *slog.Logger
	listener net.Listener
}

func NewServer(d *daemon.Daemon, logger *slog.Logger) *Server {
	return &Server{daemon: d, logger: logger.With("component", "rpc")}
}

// Listen binds addr (e.g. "127.0.0.1:16219"). The caller must not broaden
// this beyond loopback without adding authentication (spec.md §9).
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr returns the bound listener's address — mainly useful in tests that
// bind to port 0 and need to learn the assigned port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled or the listener closes.
func (s *Server) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	s.logger.Info("rpc server listening", "addr", s.listener.Addr().String())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("accept rpc connection", "error", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	ctx = requestid.WithRequestID(ctx, requestid.New())
	logger := s.logger.With("request_id", requestid.FromContext(ctx))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeResponse(conn, newError(0, CodeApplicationError, "malformed request: "+err.Error()))
		return
	}

	fn, ok := methods[req.Method]
	if !ok {
		metrics.RPCRequestsTotal.WithLabelValues(req.Method, "unknown_method").Inc()
		logger.Warn("unknown rpc method", "method", req.Method)
		s.writeResponse(conn, newError(req.ID, CodeMethodNotFound, "unknown method: "+req.Method))
		return
	}

	started := time.Now()
	result, err := fn(ctx, s.daemon, req.Params)
	metrics.RPCRequestDuration.WithLabelValues(req.Method).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.RPCRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		logger.Warn("rpc handler error", "method", req.Method, "error", err)
		s.writeResponse(conn, newError(req.ID, CodeApplicationError, err.Error()))
		return
	}
	metrics.RPCRequestsTotal.WithLabelValues(req.Method, "ok").Inc()
	s.writeResponse(conn, newResult(req.ID, result))
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	enc := json.NewEncoder(conn)
	if err := enc.Encode(resp); err != nil {
		s.logger.Error("write rpc response", "error", err)
	}
}
