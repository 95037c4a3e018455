// Package server accepts task-board TCP connections, frames requests with the
// protocol codec and runs them through the session dispatcher. Each
// connection gets one handler goroutine, so a session's operations are
// processed strictly in order while the store's lock serializes cross-session
// state.
package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/worthlabs/worth/internal/protocol"
)

const readBufferSize = 2048

// Server owns the listening socket and the per-connection sessions.
type Server struct {
	disp *Dispatcher
	log  *zap.SugaredLogger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// New builds a server around the dispatcher.
func New(disp *Dispatcher, log *zap.SugaredLogger) *Server {
	return &Server{disp: disp, log: log}
}

// ListenAndServe binds addr and accepts connections until ctx is canceled.
// Existing connections are left to drain naturally; canceling ctx only stops
// the accept loop.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Infow("tcp server listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Addr returns the bound listener address, for tests that listen on port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	sess := NewSession()
	log := s.log.With("session", sess.ID, "remote", conn.RemoteAddr().String())
	log.Debugw("connection accepted")

	// End-of-stream, read errors and protocol errors all take the same path:
	// implicit logout (if bound) and close, so presence stays consistent.
	defer s.disp.ImplicitLogout(sess)

	var dec protocol.Decoder
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			log.Debugw("connection closed", "err", err)
			return
		}
		dec.Write(buf[:n])

		for {
			var req protocol.Request
			err := dec.Next(&req)
			if errors.Is(err, protocol.ErrIncompleteFrame) {
				break
			}
			if err != nil {
				log.Warnw("malformed frame, dropping connection", "err", err)
				return
			}

			resp, closing := s.disp.Dispatch(sess, req)
			if closing {
				log.Debugw("client exit")
				return
			}

			frame, err := protocol.EncodeFrame(resp)
			if err != nil {
				log.Errorw("response encoding failed", "command", req.Command, "err", err)
				return
			}
			if _, err := conn.Write(frame); err != nil {
				log.Debugw("write failed", "err", err)
				return
			}
		}
	}
}
