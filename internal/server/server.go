/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"

	"github.com/kentakayama/uptane-secondary/internal/agent"
	"github.com/kentakayama/uptane-secondary/internal/config"
	"github.com/kentakayama/uptane-secondary/internal/infra/sqlite"
	"github.com/kentakayama/uptane-secondary/internal/keys"
	"github.com/kentakayama/uptane-secondary/internal/logging"
	"github.com/kentakayama/uptane-secondary/internal/rpc"
	"github.com/kentakayama/uptane-secondary/internal/secondary"
)

// Server wires storage, keys, the update agent and the RPC listener.
type Server struct {
	cfg       *config.Config
	db        *sql.DB
	secondary *secondary.Secondary
	rpc       *rpc.Server
	logger    logging.Logger
}

type Option func(*options)

type options struct {
	ln net.Listener
}

// WithListener serves on ln instead of listening on the configured address.
func WithListener(ln net.Listener) Option {
	return func(o *options) { o.ln = ln }
}

// New constructs a Server using the provided configuration. The ECU is
// provisioned and an interrupted install recovered before it returns.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Storage.Path, 0o700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	db, err := sqlite.InitDB(ctx, cfg.SQLDBPath())
	if err != nil {
		return nil, err
	}

	s, err := build(ctx, cfg, db, o, logger)
	if err != nil {
		sqlite.CloseDB(db)
		return nil, err
	}
	return s, nil
}

func build(ctx context.Context, cfg *config.Config, db *sql.DB, o options, logger logging.Logger) (*Server, error) {
	kt, err := cfg.KeyType()
	if err != nil {
		return nil, err
	}
	km, err := keys.LoadOrGenerate(ctx, sqlite.NewKeyRepository(db), kt, logging.Component(logger, "keys"))
	if err != nil {
		return nil, err
	}

	sec, err := secondary.New(ctx, secondary.Config{
		ECUSerial:      cfg.Uptane.ECUSerial,
		HardwareID:     cfg.Uptane.ECUHardwareID,
		ImportBasePath: cfg.Import.BasePath,
	}, secondary.Storage{
		Serials:   sqlite.NewECUSerialRepository(db),
		Meta:      sqlite.NewMetaRepository(db),
		Installed: sqlite.NewInstalledVersionRepository(db),
		Results:   sqlite.NewInstallationResultRepository(db),
	}, km, newAgent(cfg, logger), logging.Component(logger, "secondary"))
	if err != nil {
		return nil, err
	}

	ln := o.ln
	if ln == nil {
		ln, err = net.Listen("tcp", cfg.ListenAddr())
		if err != nil {
			return nil, fmt.Errorf("listen: %w", err)
		}
	}
	timeout, err := cfg.Timeout()
	if err != nil {
		return nil, err
	}
	h := newHandler(sec, timeout, logging.Component(logger, "handler"))
	rpcSrv := rpc.NewServer(ln, h.handlers(), logging.Component(logger, "rpc"), rpc.WithReadTimeout(timeout))

	id := sec.Identity()
	logger.WithField("ecu_serial", id.Serial).WithField("hardware_id", id.HardwareID).Info("secondary ready")
	return &Server{cfg: cfg, db: db, secondary: sec, rpc: rpcSrv, logger: logger}, nil
}

func newAgent(cfg *config.Config, logger logging.Logger) agent.UpdateAgent {
	switch cfg.Pacman.Type {
	case config.PacmanOSTree:
		sysroot := agent.NewExecSysroot(cfg.Pacman.Sysroot, cfg.Pacman.OS, cfg.Storage.Path)
		return agent.NewDeploymentUpdateAgent(sysroot, cfg.Pacman.OSTreeServer, logging.Component(logger, "ostree"))
	default:
		return agent.NewFileUpdateAgent(cfg.TargetFilepath(), cfg.Pacman.TargetName, logging.Component(logger, "file"))
	}
}

func (s *Server) Addr() net.Addr {
	return s.rpc.Addr()
}

func (s *Server) Secondary() *secondary.Secondary {
	return s.secondary
}

// Serve blocks until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	return s.rpc.Serve(ctx)
}

// Close stops the listener and closes the database.
func (s *Server) Close() error {
	s.rpc.Close()
	return sqlite.CloseDB(s.db)
}
