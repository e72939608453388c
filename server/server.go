// Package server hosts one application: named procedures that run against parameter
// containers sent by sessions.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Codec.Decode → Middleware Chain → dispatch → procedure(ctx, container) → Codec.Encode → write response
//
// A procedure that returns a *scperr.Error fails "normally": the reply carries the error in
// its OSCA block and the session classifies it. Anything else (unknown procedure, undecodable
// container, plain error, panic) is reported in the reply's Error text.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"proxygen/codec"
	"proxygen/config"
	"proxygen/logging"
	"proxygen/message"
	"proxygen/middleware"
	"proxygen/pdo"
	"proxygen/protocol"
	"proxygen/registry"
	"proxygen/scperr"
)

// Server serves the procedures of one application.
type Server struct {
	application   string
	procedures    map[string]ProcedureFunc // "SCP_HelloWorld" → procedure
	mu            sync.RWMutex             // guards procedures
	callers       sync.Map                 // map[int32]Caller, open session contexts
	nextContext   atomic.Int32
	lnMu          sync.Mutex // guards listener, registry and advertiseAddr
	listener      net.Listener
	wg            sync.WaitGroup          // Tracks in-flight requests for graceful shutdown
	shutdown      atomic.Bool             // Set to true during shutdown to suppress Accept errors
	middlewares   []middleware.Middleware // Registered middlewares (applied in order)
	handler       middleware.HandlerFunc  // middleware(middleware(...(dispatch)))
	registry      registry.Registry       // nil if not using discovery
	advertiseAddr string                  // Address registered in etcd, e.g. "127.0.0.1:7300"
	ttl           int64
	weight        int
	log           zerolog.Logger
}

type Option func(*Server)

// WithRegistryTTL sets the lease TTL, in seconds, used when registering with a registry.
func WithRegistryTTL(ttl int64) Option {
	return func(s *Server) { s.ttl = ttl }
}

// WithWeight sets the weight advertised to weighted balancers.
func WithWeight(w int) Option {
	return func(s *Server) { s.weight = w }
}

func NewServer(application string, opts ...Option) *Server {
	s := &Server{
		application: application,
		procedures:  make(map[string]ProcedureFunc),
		ttl:         10,
		weight:      1,
		log:         logging.Component("server").With().Str("application", application).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig builds a server for cfg.Application with the standard middleware stack:
// logging, metrics, rate limiting and a request timeout.
func NewFromConfig(cfg config.Config, opts ...Option) *Server {
	opts = append([]Option{WithRegistryTTL(cfg.Server.RegistryTTL)}, opts...)
	s := NewServer(cfg.Application, opts...)
	s.Use(middleware.LoggingMiddleware(s.log))
	s.Use(middleware.MetricsMiddleware())
	if cfg.Server.RateLimit > 0 {
		s.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.Burst))
	}
	if cfg.Server.RequestTimeout > 0 {
		s.Use(middleware.TimeOutMiddleware(cfg.Server.RequestTimeout))
	}
	return s
}

func (svr *Server) Application() string { return svr.application }

// Handle registers fn under name.
func (svr *Server) Handle(name string, fn ProcedureFunc) error {
	if name == "" || name[0] == '$' {
		return fmt.Errorf("server: invalid procedure name %q", name)
	}
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if _, dup := svr.procedures[name]; dup {
		return fmt.Errorf("server: procedure %s already registered", name)
	}
	svr.procedures[name] = fn
	return nil
}

// Register registers every exported method of rcvr shaped like a ProcedureFunc, using the
// method name as the procedure name.
func (svr *Server) Register(rcvr any) error {
	svc, err := NewService(rcvr)
	if err != nil {
		return err
	}
	for name, mt := range svc.method {
		if err := svr.Handle(name, svc.procedure(mt)); err != nil {
			return err
		}
	}
	return nil
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on address and serves until Shutdown. See ServeListener.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener registers with reg, when given, and enters the Accept loop.
//
//   - advertiseAddr: the address to register, e.g. "127.0.0.1:7300". It differs from the
//     listen address because ":7300" is not routable from other hosts.
//   - reg: the registry implementation. Pass nil to skip service discovery.
func (svr *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	// Chain(A, B, C)(handler) → A(B(C(handler)))
	svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatch)

	svr.lnMu.Lock()
	if svr.shutdown.Load() {
		svr.lnMu.Unlock()
		listener.Close()
		return nil
	}
	svr.listener = listener
	svr.advertiseAddr = advertiseAddr
	svr.registry = reg
	svr.lnMu.Unlock()
	if reg != nil {
		inst := registry.ServiceInstance{Addr: advertiseAddr, Weight: svr.weight}
		if err := reg.Register(context.Background(), svr.application, inst, svr.ttl); err != nil {
			listener.Close()
			return err
		}
	}
	svr.log.Info().Str("addr", listener.Addr().String()).Msg("serving")

	for {
		conn, err := listener.Accept()
		if err != nil {
			// listener.Close() during shutdown also ends Accept with an error
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// Run listens on cfg.Listen and serves until ctx is done, then shuts down within
// cfg.ShutdownTimeout. The listen address is advertised when cfg.Advertise is empty.
func (svr *Server) Run(ctx context.Context, cfg config.ServerConfig, reg registry.Registry) error {
	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	advertise := cfg.Advertise
	if advertise == "" {
		advertise = listener.Addr().String()
	}
	served := make(chan error, 1)
	go func() { served <- svr.ServeListener(listener, advertise, reg) }()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}
	if err := svr.Shutdown(cfg.ShutdownTimeout); err != nil {
		return err
	}
	return <-served
}

// handleConn reads frames from one connection and dispatches each request to its own
// goroutine. All responses on the connection share one write lock.
func (svr *Server) handleConn(conn net.Conn) {
	cs := &connState{ids: map[int32]struct{}{}}
	defer func() {
		conn.Close()
		for _, id := range cs.drain() {
			svr.callers.Delete(id)
		}
	}()
	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			break // Connection closed or protocol error
		}
		if header.MsgType != protocol.MsgTypeRequest {
			continue
		}
		svr.wg.Add(1)
		go svr.handleRequest(header, body, conn, writeMu, cs)
	}
}

// handleRequest processes one request: decode → middleware → dispatch → encode → write.
func (svr *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex, cs *connState) {
	defer svr.wg.Done()

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	var resp *message.RPCMessage
	msg := message.RPCMessage{}
	if err := c.Decode(body, &msg); err != nil {
		resp = &message.RPCMessage{Error: "malformed request: " + err.Error()}
	} else {
		resp = svr.handler(withConn(context.Background(), cs), &msg)
	}

	result, err := c.Encode(resp)
	if err != nil {
		svr.log.Error().Err(err).Str("procedure", msg.Procedure).Msg("encode reply")
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	// Same Seq as the request: this is how the client matches responses
	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
		BodyLen:   uint32(len(result)),
	}
	if err := protocol.Encode(conn, &replyHeader, result); err != nil {
		svr.log.Warn().Err(err).Str("procedure", msg.Procedure).Msg("write reply")
	}
}

// Shutdown performs graceful shutdown:
//  1. Set shutdown flag (so Accept error is recognized as intentional)
//  2. Deregister from the registry (clients stop routing to this server)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight requests to finish (with timeout)
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.lnMu.Lock()
	svr.shutdown.Store(true)
	listener, reg, addr := svr.listener, svr.registry, svr.advertiseAddr
	svr.lnMu.Unlock()

	if reg != nil {
		if err := reg.Deregister(context.Background(), svr.application, addr); err != nil {
			svr.log.Warn().Err(err).Msg("deregister")
		}
	}

	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

// dispatch is the innermost handler. It answers the handshake procedures itself and runs
// everything else against the caller's container.
func (svr *Server) dispatch(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	switch req.Procedure {
	case message.ProcConnect:
		return svr.connect(ctx, req)
	case message.ProcDisconnect:
		svr.callers.Delete(req.OSCA.ContextID)
		if cs := connFrom(ctx); cs != nil {
			cs.remove(req.OSCA.ContextID)
		}
		return &message.RPCMessage{Procedure: req.Procedure, OSCA: message.OSCA{ContextID: req.OSCA.ContextID}}
	}

	v, ok := svr.callers.Load(req.OSCA.ContextID)
	if !ok {
		return &message.RPCMessage{Procedure: req.Procedure, Error: message.ErrTextNotConnected}
	}
	caller := v.(Caller)

	svr.mu.RLock()
	fn, ok := svr.procedures[req.Procedure]
	svr.mu.RUnlock()
	if !ok {
		return &message.RPCMessage{Procedure: req.Procedure, Error: message.ErrTextUnknownProcedure + ": " + req.Procedure}
	}

	c := pdo.NewContainer()
	if err := json.Unmarshal(req.Payload, c); err != nil {
		return &message.RPCMessage{Procedure: req.Procedure, Error: "malformed container: " + err.Error()}
	}
	c.Seal()

	resp := &message.RPCMessage{Procedure: req.Procedure, OSCA: message.OSCA{ContextID: caller.ContextID}}
	err := invoke(context.WithValue(ctx, callerKey{}, caller), fn, c)
	if err != nil {
		re, ok := scperr.As(err)
		if !ok {
			resp.Error = err.Error()
			return resp
		}
		if n := re.ErrorNumber(); n <= 0 || n > math.MaxInt32 {
			svr.log.Warn().Str("procedure", req.Procedure).Int("error_number", n).Msg("procedure failed with an invalid error number")
			resp.Error = fmt.Sprintf("invalid error number %d: %s", n, re.Message())
			return resp
		}
		resp.OSCA.ErrorNo = int32(re.ErrorNumber())
		resp.OSCA.ErrorType = int32(re.Severity())
		resp.OSCA.MsgText = re.Message()
		// An informational failure still delivers the values the procedure wrote
		if re.Severity() != scperr.SeverityInformational {
			return resp
		}
	}

	payload, err := json.Marshal(c)
	if err != nil {
		resp.Error = "encode container: " + err.Error()
		return resp
	}
	resp.Payload = payload
	return resp
}

func (svr *Server) connect(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	var args message.ConnectArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return &message.RPCMessage{Procedure: req.Procedure, Error: "malformed connect: " + err.Error()}
	}
	if args.Application != svr.application {
		return &message.RPCMessage{Procedure: req.Procedure, Error: fmt.Sprintf("unknown application %q", args.Application)}
	}
	id := svr.nextContext.Add(1)
	svr.callers.Store(id, Caller{ContextID: id, Application: args.Application, User: args.User, Location: args.Location})
	if cs := connFrom(ctx); cs != nil {
		cs.add(id)
	}
	svr.log.Debug().Int32("context", id).Str("user", args.User).Str("location", args.Location).Msg("session opened")
	return &message.RPCMessage{Procedure: req.Procedure, OSCA: message.OSCA{ContextID: id}}
}

// invoke runs fn and turns a panic into an error.
func invoke(ctx context.Context, fn ProcedureFunc, c *pdo.Container) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("procedure panicked: %v", r)
		}
	}()
	return fn(ctx, c)
}
