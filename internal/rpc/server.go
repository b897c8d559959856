/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kentakayama/uptane-secondary/internal/logging"
	"github.com/kentakayama/uptane-secondary/internal/util"
	"github.com/sirupsen/logrus"
)

const DefaultReadTimeout = 30 * time.Second

// Server answers requests on a listener. Connections are served one after
// another, each carrying a single request and its response.
type Server struct {
	ln          net.Listener
	handlers    *Handlers
	logger      logging.Logger
	readTimeout time.Duration

	closeOnce sync.Once
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithReadTimeout bounds how long a peer may take to send its request.
func WithReadTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readTimeout = d
		}
	}
}

func NewServer(ln net.Listener, handlers *Handlers, logger logging.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{ln: ln, handlers: handlers, logger: logger, readTimeout: DefaultReadTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.logger.WithField("addr", s.ln.Addr().String()).Info("listening")
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.serveConn(ctx, conn)
	}
}

func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.ln.Close() })
	return err
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := s.logger.WithField("peer", conn.RemoteAddr().String())

	if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		log.WithError(err).Warn("cannot set read deadline")
	}
	kind, payload, err := ReadFrame(conn)
	if err != nil {
		log.WithError(err).Error("cannot read request")
		return
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		log.WithError(err).Warn("cannot clear read deadline")
	}
	s.trace(log, "request", kind, payload)

	// a kind this side does not serve is answered whatever its payload
	var resp *Message
	if kind.isRequest() {
		req, err := DecodeMessage(kind, payload)
		if err != nil {
			log.WithError(err).Error("cannot decode request")
			return
		}
		resp = s.handlers.Dispatch(ctx, req, log)
	} else {
		resp = notSupported(kind)
	}
	if resp.Kind == KindNotSupportedResp {
		log.WithField("request", kind.String()).Warn("request not supported")
	}
	if err := WriteMessage(conn, resp); err != nil {
		log.WithError(err).Error("cannot write response")
		return
	}
	log.WithFields(logrus.Fields{"request": kind.String(), "response": resp.Kind.String()}).Debug("request served")
}

// trace renders frames only when trace logging is on.
func (s *Server) trace(log *logrus.Entry, what string, kind Kind, payload []byte) {
	if !log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		return
	}
	rendered, err := util.RenderCBOR(payload)
	if err != nil {
		rendered = fmt.Sprintf("(%d bytes, not CBOR)", len(payload))
	}
	log.WithField("kind", kind.String()).Tracef("%s %s", what, rendered)
}
