/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package rpc

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/kentakayama/uptane-secondary/internal/uptane"
	"github.com/kentakayama/uptane-secondary/internal/uptane/uptanetest"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, h *Handlers) *Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(ln, h, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return NewClient(TCPDialer(ln.Addr().String()), nil)
}

// pipeClient answers every call with resp, without a server.
func pipeClient(resp *Message) *Client {
	return NewClient(func(context.Context) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			defer server.Close()
			if _, _, err := ReadMessage(server); err != nil {
				return
			}
			WriteMessage(server, resp)
		}()
		return client, nil
	}, nil)
}

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, KindInstallReq, []byte{1, 2, 3}))
	assert.Equal(t, []byte{3, 0, 0, 0, byte(KindInstallReq), 1, 2, 3}, buf.Bytes())

	kind, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindInstallReq, kind)
	assert.Equal(t, []byte{1, 2, 3}, payload)
}

func TestFrame_TooLarge(t *testing.T) {
	var hdr [5]byte
	binary.LittleEndian.PutUint32(hdr[:4], MaxPayloadSize+1)
	hdr[4] = byte(KindSendFirmwareReq)
	_, _, err := ReadFrame(bytes.NewReader(hdr[:]))
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	err = WriteFrame(&bytes.Buffer{}, KindSendFirmwareReq, make([]byte, MaxPayloadSize+1))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestMessage_Codec(t *testing.T) {
	cases := []*Message{
		{Kind: KindPutMetaReq, Meta: uptane.RawMetaPack{DirectorRoot: "dr", DirectorTargets: "dt", ImageRoot: "ir", ImageTargets: "it", ImageSnapshot: "is", ImageTimestamp: "its"}},
		{Kind: KindSendFirmwareReqV1, TargetName: "fw.bin", Firmware: []byte("data")},
		{Kind: KindDownloadFileReq, TargetName: "fw.bin", DataAddr: "127.0.0.1:8333", Length: 42},
		{Kind: KindInstallResp, Code: uptane.ResultNeedCompletion},
		{Kind: KindNotSupportedResp, RequestKind: KindSendFirmwareReqV1},
	}
	for _, want := range cases {
		t.Run(want.Kind.String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteMessage(&buf, want))
			got, _, err := ReadMessage(&buf)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestMessage_UnknownCode(t *testing.T) {
	payload, err := cbor.Marshal([]any{77})
	require.NoError(t, err)
	m := &Message{Kind: KindInstallResp}
	require.NoError(t, cbor.Unmarshal(payload, m))
	assert.Equal(t, uptane.ResultUnknown, m.Code)
}

func TestMessage_Malformed(t *testing.T) {
	payload, err := cbor.Marshal([]any{"only-name"})
	require.NoError(t, err)
	err = cbor.Unmarshal(payload, &Message{Kind: KindDownloadFileReq})
	require.ErrorIs(t, err, ErrMalformedMessage)

	err = cbor.Unmarshal(payload, &Message{Kind: Kind(200)})
	require.ErrorIs(t, err, ErrUnknownKind)

	_, err = cbor.Marshal(&Message{Kind: KindUnknown})
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestClient_Operations(t *testing.T) {
	key := uptanetest.NewKey(t)
	var gotPack uptane.RawMetaPack
	h := &Handlers{
		GetInfo: func(context.Context) (Info, error) {
			return Info{Serial: "ecu-1", HardwareID: "hw-1", PublicKey: key.Pub}, nil
		},
		PutMetadata: func(_ context.Context, pack uptane.RawMetaPack) error {
			gotPack = pack
			if pack.DirectorRoot == "bad" {
				return errors.New("rejected")
			}
			return nil
		},
		Install: func(_ context.Context, name string) uptane.ResultCode {
			if name == "fw.bin" {
				return uptane.ResultOk
			}
			return uptane.ResultInternalError
		},
		GetManifest: func(context.Context) (*uptane.Manifest, error) {
			return uptane.NewManifestIssuer(key, "ecu-1").Issue(uptane.InstalledImageInfo{Name: "fw.bin", Length: 2, Hash: "ab"}, nil)
		},
	}
	c := startServer(t, h)
	ctx := context.Background()

	info, err := c.GetInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ecu-1", info.Serial)
	assert.Equal(t, "hw-1", info.HardwareID)
	assert.True(t, key.Pub.Equal(info.PublicKey))
	assert.True(t, c.Ping(ctx))

	ok, err := c.PutMetadata(ctx, uptane.RawMetaPack{DirectorRoot: "good", ImageTimestamp: "ts"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ts", gotPack.ImageTimestamp)
	ok, err = c.PutMetadata(ctx, uptane.RawMetaPack{DirectorRoot: "bad"})
	require.NoError(t, err)
	assert.False(t, ok)

	code, err := c.Install(ctx, "fw.bin")
	require.NoError(t, err)
	assert.Equal(t, uptane.ResultOk, code)

	m, err := c.GetManifest(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Verify(key.Pub))

	_, err = c.SendFirmware(ctx, "fw.bin", []byte("x"))
	require.ErrorIs(t, err, ErrNotSupported)
}

func TestClient_SendFirmwareFallback(t *testing.T) {
	var legacy []byte
	c := startServer(t, &Handlers{
		SendFirmware: func(_ context.Context, data []byte) error {
			legacy = data
			return nil
		},
	})
	ok, err := c.SendFirmware(context.Background(), "fw.bin", []byte("firmware"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("firmware"), legacy)
}

func TestClient_SendFirmwareV1(t *testing.T) {
	var name string
	legacyCalled := false
	c := startServer(t, &Handlers{
		SendFirmwareV1: func(_ context.Context, n string, _ []byte) error {
			name = n
			return errors.New("hash mismatch")
		},
		SendFirmware: func(context.Context, []byte) error {
			legacyCalled = true
			return nil
		},
	})
	ok, err := c.SendFirmware(context.Background(), "fw.bin", []byte("firmware"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "fw.bin", name)
	assert.False(t, legacyCalled)
}

func TestClient_InstallWrongResponse(t *testing.T) {
	c := pipeClient(&Message{Kind: KindPutMetaResp, OK: true})
	code, err := c.Install(context.Background(), "fw.bin")
	require.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.Equal(t, uptane.ResultInternalError, code)
}

func TestClient_ManifestNotJSON(t *testing.T) {
	m, err := pipeClient(&Message{Kind: KindManifestResp, ManifestFormat: 1, Manifest: []byte{0x30}}).GetManifest(context.Background())
	require.NoError(t, err)
	assert.True(t, m.IsEmpty())

	m, err = pipeClient(&Message{Kind: KindManifestResp, Manifest: []byte("not json")}).GetManifest(context.Background())
	require.NoError(t, err)
	assert.True(t, m.IsEmpty())
}

func TestClient_DownloadFile(t *testing.T) {
	payload := bytes.Repeat([]byte("firmware"), 1024)
	var fetched []byte
	var fetchedName string
	c := startServer(t, &Handlers{
		DownloadFile: func(ctx context.Context, req DownloadFileRequest) uptane.ResultCode {
			data, err := FetchData(ctx, req.DataAddr, req.Length)
			if err != nil {
				return uptane.ResultDownloadFailed
			}
			fetched, fetchedName = data, req.TargetName
			return uptane.ResultOk
		},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	code, err := c.DownloadFile(context.Background(), ln, "fw.bin", payload)
	require.NoError(t, err)
	assert.Equal(t, uptane.ResultOk, code)
	assert.Equal(t, payload, fetched)
	assert.Equal(t, "fw.bin", fetchedName)
}

func TestClient_DownloadFileNotFetched(t *testing.T) {
	c := startServer(t, &Handlers{
		DownloadFile: func(context.Context, DownloadFileRequest) uptane.ResultCode {
			return uptane.ResultOk
		},
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	code, err := c.DownloadFile(context.Background(), ln, "fw.bin", []byte("data"))
	require.ErrorIs(t, err, ErrDataNotFetched)
	assert.Equal(t, uptane.ResultDownloadFailed, code)
}

func TestFetchData_Limits(t *testing.T) {
	ctx := context.Background()
	_, err := FetchData(ctx, "127.0.0.1:1", MaxDownloadSize+1)
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("short"))
	}()
	data, err := FetchData(ctx, ln.Addr().String(), MaxDownloadSize)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Nil(t, data)
}

func TestServer_UnknownKind(t *testing.T) {
	c := startServer(t, &Handlers{})
	ctx := context.Background()

	cases := []struct {
		name    string
		kind    Kind
		payload []byte
	}{
		{"empty array", Kind(99), []byte{0x80}},
		{"empty payload", Kind(99), []byte{}},
		{"map payload", Kind(99), []byte{0xa1, 0x01, 0x02}},
		{"integer payload", Kind(99), []byte{0x05}},
		{"response kind", KindInstallResp, []byte{0x05}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn, err := c.dial(ctx)
			require.NoError(t, err)
			defer conn.Close()
			require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

			require.NoError(t, WriteFrame(conn, tc.kind, tc.payload))
			resp, _, err := ReadMessage(conn)
			require.NoError(t, err)
			assert.Equal(t, KindNotSupportedResp, resp.Kind)
			assert.Equal(t, tc.kind, resp.RequestKind)
		})
	}
}

func TestDispatch_ManifestErrorLogged(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	h := &Handlers{
		GetManifest: func(context.Context) (*uptane.Manifest, error) {
			return nil, errors.New("no key")
		},
	}
	resp := h.Dispatch(context.Background(), &Message{Kind: KindManifestReq}, logger)
	assert.Equal(t, KindManifestResp, resp.Kind)
	assert.Equal(t, []byte("{}"), resp.Manifest)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "manifest", entry.Data["kind"])
	assert.EqualError(t, entry.Data[logrus.ErrorKey].(error), "no key")
}

func TestServer_StopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(ln, &Handlers{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestDispatch_NonRequestKinds(t *testing.T) {
	h := &Handlers{}
	for _, k := range []Kind{KindUnknown, KindInstallResp, KindNotSupportedResp, Kind(99)} {
		resp := h.Dispatch(context.Background(), &Message{Kind: k}, nil)
		assert.Equal(t, KindNotSupportedResp, resp.Kind, k.String())
		assert.Equal(t, k, resp.RequestKind, k.String())
	}
}
