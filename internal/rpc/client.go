/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package rpc

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/kentakayama/uptane-secondary/internal/logging"
	"github.com/kentakayama/uptane-secondary/internal/uptane"
	"golang.org/x/sync/errgroup"
)

// MaxDownloadSize bounds a target fetched over a data connection.
const MaxDownloadSize = 1 << 30

// Dialer opens one connection per call.
type Dialer func(ctx context.Context) (net.Conn, error)

// TCPDialer dials addr over TCP.
func TCPDialer(addr string) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}

// Client is the primary side of the protocol, talking to one secondary.
type Client struct {
	dial   Dialer
	logger logging.Logger

	// firmware transfers and installs are not interleaved
	installMu sync.Mutex
}

func NewClient(dial Dialer, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{dial: dial, logger: logger}
}

func (c *Client) call(ctx context.Context, req *Message) (*Message, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := WriteMessage(conn, req); err != nil {
		return nil, fmt.Errorf("%s: %w", req.Kind, err)
	}
	resp, _, err := ReadMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", req.Kind, err)
	}
	return resp, nil
}

func expect(resp *Message, kind Kind) error {
	if resp.Kind == kind {
		return nil
	}
	if resp.Kind == KindNotSupportedResp {
		return fmt.Errorf("%w: %s", ErrNotSupported, resp.RequestKind)
	}
	return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedResponse, resp.Kind, kind)
}

// GetInfo asks the secondary for its identity.
func (c *Client) GetInfo(ctx context.Context) (Info, error) {
	resp, err := c.call(ctx, &Message{Kind: KindGetInfoReq})
	if err != nil {
		return Info{}, err
	}
	if err := expect(resp, KindGetInfoResp); err != nil {
		return Info{}, err
	}
	return Info{
		Serial:     resp.Serial,
		HardwareID: resp.HardwareID,
		PublicKey:  uptane.PublicKey{Type: resp.KeyType, Value: resp.PublicKey},
	}, nil
}

// Ping reports whether the secondary answers an info request.
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.GetInfo(ctx)
	return err == nil
}

// PutMetadata sends a bundle; the result tells whether it was accepted.
func (c *Client) PutMetadata(ctx context.Context, pack uptane.RawMetaPack) (bool, error) {
	c.logger.Info("sending metadata to the secondary")
	resp, err := c.call(ctx, &Message{Kind: KindPutMetaReq, Meta: pack})
	if err != nil {
		return false, err
	}
	if err := expect(resp, KindPutMetaResp); err != nil {
		return false, err
	}
	return resp.OK, nil
}

// SendFirmware sends firmware inline. The named request is tried first and
// the legacy one only when the secondary does not support it.
func (c *Client) SendFirmware(ctx context.Context, name string, data []byte) (bool, error) {
	c.installMu.Lock()
	defer c.installMu.Unlock()

	resp, err := c.call(ctx, &Message{Kind: KindSendFirmwareReqV1, TargetName: name, Firmware: data})
	if err != nil {
		return false, err
	}
	if resp.Kind == KindNotSupportedResp {
		c.logger.Warn("named firmware request not supported, falling back to the legacy request")
		resp, err = c.call(ctx, &Message{Kind: KindSendFirmwareReq, Firmware: data})
		if err != nil {
			return false, err
		}
	}
	if err := expect(resp, KindSendFirmwareResp); err != nil {
		return false, err
	}
	return resp.OK, nil
}

// Install asks the secondary to install the pending target called name.
// A response of the wrong kind yields InternalError.
func (c *Client) Install(ctx context.Context, name string) (uptane.ResultCode, error) {
	c.installMu.Lock()
	defer c.installMu.Unlock()

	c.logger.WithField("target", name).Info("invoking install on the secondary")
	resp, err := c.call(ctx, &Message{Kind: KindInstallReq, TargetName: name})
	if err != nil {
		return uptane.ResultInternalError, err
	}
	if err := expect(resp, KindInstallResp); err != nil {
		return uptane.ResultInternalError, err
	}
	return resp.Code, nil
}

// GetManifest fetches the signed manifest. A payload that is not a JSON
// manifest yields an empty manifest rather than an error.
func (c *Client) GetManifest(ctx context.Context) (*uptane.Manifest, error) {
	resp, err := c.call(ctx, &Message{Kind: KindManifestReq})
	if err != nil {
		return nil, err
	}
	if err := expect(resp, KindManifestResp); err != nil {
		return nil, err
	}
	if resp.ManifestFormat != ManifestFormatJSON {
		c.logger.WithField("format", resp.ManifestFormat).Error("manifest is not in JSON format")
		return &uptane.Manifest{}, nil
	}
	m, err := uptane.ParseManifest(resp.Manifest)
	if err != nil {
		c.logger.WithError(err).Error("cannot parse manifest")
		return &uptane.Manifest{}, nil
	}
	return m, nil
}

// DownloadFile serves data on ln and asks the secondary to fetch and install
// it as name. An error of the data transfer wins over the response.
func (c *Client) DownloadFile(ctx context.Context, ln net.Listener, name string, data []byte) (uptane.ResultCode, error) {
	c.installMu.Lock()
	defer c.installMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveData(gctx, ln, data)
	})

	resp, err := c.call(ctx, &Message{
		Kind:       KindDownloadFileReq,
		TargetName: name,
		DataAddr:   ln.Addr().String(),
		Length:     uint64(len(data)),
	})
	// the secondary has fetched the data by the time it answers
	ln.Close()
	if werr := g.Wait(); werr != nil {
		return uptane.ResultDownloadFailed, werr
	}
	if err != nil {
		return uptane.ResultInternalError, err
	}
	if resp.Kind == KindInstallResp {
		// older secondaries answer with an install response
		return resp.Code, nil
	}
	if err := expect(resp, KindDownloadFileResp); err != nil {
		return uptane.ResultInternalError, err
	}
	return resp.Code, nil
}

// serveData writes data to the first connection accepted on ln.
func serveData(ctx context.Context, ln net.Listener, data []byte) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDataNotFetched, err)
	}
	defer conn.Close()
	ln.Close()

	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("serve data: %w", err)
	}
	return nil
}

// FetchData is the secondary side of DownloadFile: it dials addr and reads
// exactly length bytes.
func FetchData(ctx context.Context, addr string, length uint64) ([]byte, error) {
	if length > MaxDownloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, length)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial data address: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// the buffer grows with what the peer actually sends, not with the
	// announced length
	data, err := io.ReadAll(io.LimitReader(conn, int64(length)))
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	if uint64(len(data)) != length {
		return nil, fmt.Errorf("read data: %w after %d of %d bytes", io.ErrUnexpectedEOF, len(data), length)
	}
	return data, nil
}
