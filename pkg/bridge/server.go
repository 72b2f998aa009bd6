// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge shares one CAN bus with TCP clients. Clients receive every
// BMS frame as a 12-byte serial CAN record and may send 14-byte transmit
// records; only control frames are forwarded to the bus.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/gnet/v2"
	"go.uber.org/zap"

	"github.com/Thermoquad/sbsmon/pkg/canbus"
	"github.com/Thermoquad/sbsmon/pkg/sbs"
	"github.com/Thermoquad/sbsmon/pkg/serialcan"
)

const outboundQueue = 16

// connContext holds per-connection state
type connContext struct {
	splitter *serialcan.Splitter
	addr     string
}

// Stats is a point-in-time copy of the server counters
type Stats struct {
	Clients   int
	Broadcast uint64
	Forwarded uint64
	Rejected  uint64
}

// Server is a gnet event handler bridging a canbus.Bus to TCP clients
type Server struct {
	gnet.BuiltinEventEngine

	addr         string
	multicore    bool
	allowControl bool
	logger       *zap.Logger

	mu    sync.RWMutex
	conns map[gnet.Conn]struct{}

	outbound chan sbs.Frame

	broadcast atomic.Uint64
	forwarded atomic.Uint64
	rejected  atomic.Uint64
}

// NewServer creates a bridge listening on addr, e.g. "tcp://0.0.0.0:7160"
func NewServer(addr string, multicore, allowControl bool, logger *zap.Logger) *Server {
	return &Server{
		addr:         addr,
		multicore:    multicore,
		allowControl: allowControl,
		logger:       logger,
		conns:        make(map[gnet.Conn]struct{}),
		outbound:     make(chan sbs.Frame, outboundQueue),
	}
}

func (s *Server) OnBoot(eng gnet.Engine) (action gnet.Action) {
	s.logger.Info("Frame bridge is booting", zap.String("address", s.addr))
	return
}

func (s *Server) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	addr := c.RemoteAddr().String()
	s.logger.Info("Client connected", zap.String("remote_addr", addr))

	c.SetContext(&connContext{
		splitter: serialcan.NewSplitter(serialcan.TxRecordLen, 0),
		addr:     addr,
	})

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	return
}

func (s *Server) OnTraffic(c gnet.Conn) (action gnet.Action) {
	ctx, ok := c.Context().(*connContext)
	if !ok {
		return gnet.Close
	}

	buf, _ := c.Next(-1)
	for _, f := range s.ingest(ctx, buf) {
		select {
		case s.outbound <- f:
		default:
			s.rejected.Add(1)
			s.logger.Warn("Control queue full, dropping frame", zap.String("remote_addr", ctx.addr))
		}
	}
	return
}

// ingest splits client bytes into transmit records and returns the frames
// that may be forwarded to the bus
func (s *Server) ingest(ctx *connContext, data []byte) []sbs.Frame {
	var accepted []sbs.Frame
	for _, rec := range ctx.splitter.Feed(data, time.Time{}) {
		f, err := serialcan.ParseTx(rec)
		if err != nil {
			s.rejected.Add(1)
			s.logger.Warn("Invalid record from client", zap.String("remote_addr", ctx.addr), zap.Error(err))
			continue
		}
		if err := s.permit(f); err != nil {
			s.rejected.Add(1)
			s.logger.Warn("Rejected frame from client",
				zap.String("remote_addr", ctx.addr),
				zap.Stringer("frame", f),
				zap.Error(err))
			continue
		}
		accepted = append(accepted, f)
	}
	return accepted
}

var (
	errControlDisabled = errors.New("control is disabled on this bridge")
	errNotControl      = errors.New("only control frames may be sent")
	errUnknownState    = errors.New("unassigned control state")
)

func (s *Server) permit(f sbs.Frame) error {
	cs, ok := sbs.DecodeControl(f)
	if !ok {
		return errNotControl
	}
	if !cs.Valid() {
		return fmt.Errorf("%w: %d", errUnknownState, uint8(cs))
	}
	if !s.allowControl {
		return errControlDisabled
	}
	return nil
}

func (s *Server) OnClose(c gnet.Conn, err error) (action gnet.Action) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()

	s.logger.Info("Client disconnected", zap.String("remote_addr", c.RemoteAddr().String()), zap.Error(err))
	return
}

func (s *Server) OnShutdown(eng gnet.Engine) {
	s.logger.Info("Frame bridge is shutting down")
}

// Broadcast sends a frame to every connected client
func (s *Server) Broadcast(f sbs.Frame) {
	rec := serialcan.EncodeRx(f)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.conns {
		if err := c.AsyncWrite(rec, nil); err != nil {
			s.logger.Debug("Failed to queue frame for client", zap.Error(err))
		}
	}
	s.broadcast.Add(1)
}

// Stats returns the current counters
func (s *Server) Stats() Stats {
	s.mu.RLock()
	clients := len(s.conns)
	s.mu.RUnlock()
	return Stats{
		Clients:   clients,
		Broadcast: s.broadcast.Load(),
		Forwarded: s.forwarded.Load(),
		Rejected:  s.rejected.Load(),
	}
}

// Serve runs the TCP server and pumps frames between bus and clients until
// ctx is cancelled or the bus fails. BMS frames are broadcast; control
// frames from clients are sent on the bus.
func (s *Server) Serve(ctx context.Context, bus canbus.Bus) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- gnet.Run(s, s.addr,
			gnet.WithMulticore(s.multicore),
			gnet.WithLogger(s.logger.Sugar()),
			gnet.WithReusePort(true),
		)
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.forward(ctx, bus)
	}()

	busErr := s.pump(ctx, bus)
	cancel()
	wg.Wait()

	if err := gnet.Stop(context.Background(), s.addr); err != nil {
		s.logger.Debug("Frame bridge stop", zap.Error(err))
	}
	if runErr := <-errc; runErr != nil && busErr == nil {
		return fmt.Errorf("frame bridge: %w", runErr)
	}
	return busErr
}

func (s *Server) pump(ctx context.Context, bus canbus.Bus) error {
	for {
		f, err := bus.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.Broadcast(f)
	}
}

func (s *Server) forward(ctx context.Context, bus canbus.Bus) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.outbound:
			if err := bus.Send(ctx, f); err != nil {
				s.logger.Error("Failed to forward control frame", zap.Stringer("frame", f), zap.Error(err))
				continue
			}
			s.forwarded.Add(1)
			cs, _ := sbs.DecodeControl(f)
			s.logger.Info("Forwarded control frame", zap.Stringer("state", cs))
		}
	}
}
