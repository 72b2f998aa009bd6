// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/sbsmon/pkg/canbus"
	"github.com/Thermoquad/sbsmon/pkg/config"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
	"github.com/Thermoquad/sbsmon/pkg/serialcan"
	"github.com/Thermoquad/sbsmon/pkg/socketcan"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// PasswordEnv holds the WebSocket password when set
const PasswordEnv = "SBSMON_PASSWORD"

const dialTimeout = 15 * time.Second

// ErrNoConnection is returned when no connection mode was configured
var ErrNoConnection = errors.New("one of --port, --url, --tcp or --can-iface must be specified")

// wsStream exposes the binary messages of a WebSocket as a byte stream.
// Text messages are skipped. One goroutine may read while another writes.
type wsStream struct {
	conn *websocket.Conn
	cur  io.Reader

	writeMu sync.Mutex
}

func (w *wsStream) Read(p []byte) (int, error) {
	for {
		if w.cur != nil {
			n, err := w.cur.Read(p)
			if err == io.EOF {
				w.cur = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}

		kind, r, err := w.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if kind == websocket.BinaryMessage {
			w.cur = r
		}
	}
}

func (w *wsStream) Write(p []byte) (int, error) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsStream) Close() error {
	return w.conn.Close()
}

// OpenWebSocket dials a WebSocket serial bridge with optional HTTP Basic auth
func OpenWebSocket(ctx context.Context, wsURL, username, password string, skipSSLVerify bool) (io.ReadWriteCloser, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	switch u.Scheme {
	case "ws":
	case "wss":
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipSSLVerify}
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

// GetPassword retrieves the password from the environment or prompts the user
func GetPassword() (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err == nil {
		return string(passwordBytes), nil
	}

	// not a terminal, read a plain line instead
	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(password), nil
}

// OpenBus opens the configured transport as a canbus.Bus and returns a
// description of it. SocketCAN takes precedence, then the TCP bridge, the
// WebSocket and finally the serial port. Frames crossing the bus are logged
// at debug level.
func OpenBus(ctx context.Context, c config.ConnectionConfig) (canbus.Bus, string, error) {
	var (
		bus  canbus.Bus
		desc string
	)

	switch {
	case c.CANInterface != "":
		b, err := socketcan.Open(c.CANInterface)
		if err != nil {
			return nil, "", err
		}
		bus, desc = b, fmt.Sprintf("SocketCAN: %s", c.CANInterface)

	case c.TCP != "":
		var d net.Dialer
		dctx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := d.DialContext(dctx, "tcp", c.TCP)
		cancel()
		if err != nil {
			return nil, "", fmt.Errorf("failed to connect to bridge %s: %w", c.TCP, err)
		}
		// records arrive in TCP segments, gap resync would only split them
		bus = serialcan.New(conn, serialcan.WithFrameGap(0), serialcan.WithLogger(logger))
		desc = fmt.Sprintf("TCP: %s", c.TCP)

	case c.URL != "":
		password := ""
		if c.Username != "" {
			var err error
			if password, err = GetPassword(); err != nil {
				return nil, "", err
			}
		}
		conn, err := OpenWebSocket(ctx, c.URL, c.Username, password, c.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		bus = serialcan.New(conn, serialcan.WithFrameGap(0), serialcan.WithLogger(logger))
		desc = fmt.Sprintf("WebSocket: %s", c.URL)

	case c.Port != "":
		b, err := serialcan.OpenSerial(c.Port, c.Baud,
			serialcan.WithFrameGap(c.FrameGap), serialcan.WithLogger(logger))
		if err != nil {
			return nil, "", err
		}
		bus, desc = b, fmt.Sprintf("Serial: %s @ %d baud", c.Port, c.Baud)

	default:
		return nil, "", ErrNoConnection
	}

	logger.Info("Connected", zap.String("transport", desc))
	return canbus.NewLoggedBus(bus, logger, zapcore.DebugLevel, canbus.LogAll), desc, nil
}

// receiveFrames pumps frames from bus into the returned channel until the
// bus fails or ctx is done. The channel is closed afterwards and the cause
// is delivered on the error channel.
func receiveFrames(ctx context.Context, bus canbus.Bus) (<-chan sbs.Frame, <-chan error) {
	frames := make(chan sbs.Frame, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(frames)
		for {
			f, err := bus.Receive(ctx)
			if err != nil {
				errc <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()
	return frames, errc
}

// endOfStream converts the error that ended a receive loop into the command
// result: a clean close or cancellation is not an error
func endOfStream(ctx context.Context, err error) error {
	switch {
	case err == nil, ctx.Err() != nil, errors.Is(err, canbus.ErrClosed):
		return nil
	}
	return fmt.Errorf("receive failed: %w", err)
}
