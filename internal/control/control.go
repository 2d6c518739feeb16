// Package control implements the session's RPC-style control plane
// (spec.md's ambient control surface, carried forward from
// rpc_server.go's SourceControl): a net/rpc service over
// jsonrpc exposing Stop, WriteControl, and Status (there is no Start
// handler; a session starts when its Run is called), plus a
// periodic heartbeat broadcast. This is local lifecycle control, not
// the data plane (§6), which is served separately by internal/publisher.
package control

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync/atomic"
	"time"
)

// Session is the subset of session lifecycle the control plane drives.
// internal/session.Session implements it; this package never imports
// internal/session to avoid a cycle.
type Session interface {
	Stop()
	SetRecording(on bool) error
	Status() Status
}

// Status mirrors rpc_server.go's ServerStatus, trimmed to this module's
// fields.
type Status struct {
	Running        bool
	SourceKind     string
	Channels       int
	SampleRate     int
	RecordEnabled  bool
	SamplesEmitted int64
}

// Heartbeat is broadcast every tick with a running total, mirroring
// rpc_server.go's Heartbeat{Running, Time, DataMB}.
type Heartbeat struct {
	Running    bool
	UptimeSec  float64
	BatchCount int64
}

// SessionControl is the RPC-registered service. Its exported methods
// following the (args, *reply) error net/rpc convention are the control
// surface; everything else is unexported plumbing.
type SessionControl struct {
	session atomic.Value // holds sessionSlot; nil until Attach
	start   time.Time
	batches int64
}

// NewSessionControl builds an unattached control service; Attach binds
// it to a running session once one exists.
func NewSessionControl() *SessionControl {
	return &SessionControl{start: time.Now()}
}

// Attach binds the control service to a live session. Call once per
// session start (spec.md §8 scenario 6 restart: re-Attach on each
// restart with a fresh session).
func (c *SessionControl) Attach(s Session) {
	c.session.Store(sessionSlot{s})
}

// Detach clears the bound session, e.g. after it stops.
func (c *SessionControl) Detach() {
	c.session.Store(sessionSlot{})
}

// sessionSlot wraps the bound Session so the atomic.Value always stores
// one concrete type, including the empty slot Detach leaves behind.
type sessionSlot struct{ s Session }

func (c *SessionControl) current() (Session, bool) {
	v := c.session.Load()
	if v == nil {
		return nil, false
	}
	s := v.(sessionSlot).s
	return s, s != nil
}

// Stop is the RPC-callable handler for session shutdown.
func (c *SessionControl) Stop(dummy *string, reply *bool) error {
	s, ok := c.current()
	if !ok {
		return fmt.Errorf("control: no session attached")
	}
	s.Stop()
	*reply = true
	return nil
}

// WriteControlRequest toggles the recorder plugin on or off.
type WriteControlRequest struct {
	Enabled bool
}

// WriteControl is the RPC-callable handler mirroring rpc_server.go's
// WriteControl(config, reply) — here scoped to this module's single
// CSV recorder rather than DASTARD's multi-format writer set.
func (c *SessionControl) WriteControl(req *WriteControlRequest, reply *bool) error {
	s, ok := c.current()
	if !ok {
		return fmt.Errorf("control: no session attached")
	}
	if err := s.SetRecording(req.Enabled); err != nil {
		*reply = false
		return err
	}
	*reply = true
	return nil
}

// Status is the RPC-callable handler reporting current session status.
func (c *SessionControl) Status(dummy *string, reply *Status) error {
	s, ok := c.current()
	if !ok {
		*reply = Status{}
		return nil
	}
	*reply = s.Status()
	return nil
}

// RecordBatch increments the heartbeat's lifetime batch counter; the
// session calls this once per published SampleBatch.
func (c *SessionControl) RecordBatch() {
	atomic.AddInt64(&c.batches, 1)
}

// RunRPCServer registers SessionControl and serves jsonrpc connections
// until ln is closed, following rpc_server.go's RunRPCServer connection-
// per-goroutine, ServeRequest-in-a-loop shape (one codec per TCP
// connection, requests on that connection served synchronously so the
// service itself needs no per-call locking beyond the atomic fields
// above).
func RunRPCServer(c *SessionControl, addr string, heartbeats chan<- Heartbeat) (net.Listener, error) {
	server := rpc.NewServer()
	if err := server.Register(c); err != nil {
		return nil, fmt.Errorf("control: register: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("control: listen %s: %w", addr, err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				log.Printf("control: accept: %v", err)
				return
			}
			go func() {
				codec := jsonrpc.NewServerCodec(conn)
				for {
					if err := server.ServeRequest(codec); err != nil {
						log.Printf("control: connection closed: %v", err)
						return
					}
				}
			}()
		}
	}()

	if heartbeats != nil {
		go func() {
			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				s, running := c.current()
				_ = s
				heartbeats <- Heartbeat{
					Running:    running,
					UptimeSec:  time.Since(c.start).Seconds(),
					BatchCount: atomic.LoadInt64(&c.batches),
				}
			}
		}()
	}

	return ln, nil
}
