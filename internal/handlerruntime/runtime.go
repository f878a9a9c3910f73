// Package handlerruntime is the library a handler process embeds (4.J): it
// binds a reply socket for incoming method calls, registers that address
// with the server's registration endpoint, and maintains the registration
// with periodic heartbeats, re-registering after repeated failures.
package handlerruntime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schedulezero/schedulezero/internal/transport"
)

// MethodFunc is re-exported so callers need not import internal/transport
// directly to implement handler methods.
type MethodFunc = transport.MethodFunc

const maxHeartbeatFailures = 3

// Config holds the runtime's tunables; zero values take spec.md's defaults.
type Config struct {
	ListenAddr        string // defaults to "127.0.0.1:0" (ephemeral)
	HeartbeatInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:0"
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	return c
}

// Runtime is one handler process's connection to the scheduler.
type Runtime struct {
	handlerID        string
	registrationAddr string
	methods          map[string]MethodFunc
	cfg              Config
	logger           *slog.Logger

	caller func(addr string, req transport.Envelope) (transport.Envelope, error)
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

func WithConfig(cfg Config) Option { return func(rt *Runtime) { rt.cfg = cfg } }

// withCaller overrides the transport call for tests.
func withCaller(c func(addr string, req transport.Envelope) (transport.Envelope, error)) Option {
	return func(rt *Runtime) { rt.caller = c }
}

func New(handlerID, registrationAddr string, methods map[string]MethodFunc, logger *slog.Logger, opts ...Option) *Runtime {
	rt := &Runtime{
		handlerID:        handlerID,
		registrationAddr: registrationAddr,
		methods:          methods,
		cfg:              Config{}.withDefaults(),
		logger:           logger.With("component", "handler_runtime", "handler_id", handlerID),
		caller:           transport.Call,
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.cfg = rt.cfg.withDefaults()
	return rt
}

// Start binds the reply socket, registers with the server, and runs the
// heartbeat loop until ctx is cancelled. It blocks for the runtime's
// lifetime; callers typically run it in its own goroutine.
func (rt *Runtime) Start(ctx context.Context) error {
	server, addr, err := transport.Listen(rt.cfg.ListenAddr, rt.methods)
	if err != nil {
		return fmt.Errorf("bind reply socket: %w", err)
	}
	defer server.Close()

	go func() {
		if err := server.Serve(); err != nil {
			rt.logger.Debug("reply server stopped", "error", err)
		}
	}()

	if err := rt.register(addr); err != nil {
		return fmt.Errorf("initial registration: %w", err)
	}
	rt.logger.Info("registered", "address", addr, "methods", methodNames(rt.methods))

	rt.heartbeatLoop(ctx, addr)
	return nil
}

func (rt *Runtime) register(addr string) error {
	req := transport.Envelope{
		V:      transport.EnvelopeVersion,
		Op:     transport.OpCall,
		Method: "register",
		Params: map[string]any{
			"handler_id": rt.handlerID,
			"address":    addr,
			"methods":    methodNames(rt.methods),
		},
	}
	reply, err := rt.caller(rt.registrationAddr, req)
	if err != nil {
		return err
	}
	if reply.Status == transport.StatusError {
		return fmt.Errorf("registration rejected: %s", reply.Error)
	}
	return nil
}

func (rt *Runtime) heartbeat() error {
	req := transport.Envelope{
		V:      transport.EnvelopeVersion,
		Op:     transport.OpCall,
		Method: "heartbeat",
		Params: map[string]any{"handler_id": rt.handlerID},
	}
	reply, err := rt.caller(rt.registrationAddr, req)
	if err != nil {
		return err
	}
	if reply.Status == transport.StatusError {
		return fmt.Errorf("heartbeat rejected: %s", reply.Error)
	}
	return nil
}

// heartbeatLoop pings the registration endpoint once per HeartbeatInterval.
// After maxHeartbeatFailures consecutive failures it re-registers, in case
// the server restarted and lost its in-memory registry.
func (rt *Runtime) heartbeatLoop(ctx context.Context, addr string) {
	ticker := time.NewTicker(rt.cfg.HeartbeatInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rt.heartbeat(); err != nil {
				failures++
				rt.logger.Warn("heartbeat failed", "error", err, "consecutive_failures", failures)
				if failures >= maxHeartbeatFailures {
					if err := rt.register(addr); err != nil {
						rt.logger.Error("re-registration failed", "error", err)
						continue
					}
					rt.logger.Info("re-registered after heartbeat failures")
					failures = 0
				}
				continue
			}
			failures = 0
		}
	}
}

func methodNames(methods map[string]MethodFunc) []string {
	out := make([]string, 0, len(methods))
	for name := range methods {
		out = append(out, name)
	}
	return out
}
