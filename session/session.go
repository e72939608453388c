// Package session holds the connection between a client and one application server.
//
// A Session resolves the server (a fixed host, or the registry plus a balancer), performs
// the $connect handshake and then carries sealed parameter containers to named procedures:
//
//	Connect ──► dial ──► $connect ──► context id
//	Invoke  ──► encode container ──► logging ──► retry ──► transport ──► merge reply
//
// A fatal fault reported by the server poisons the session. Every further Invoke fails with
// ErrSessionFatal until the session is disconnected and connected again.
package session

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"proxygen/codec"
	"proxygen/config"
	"proxygen/loadbalance"
	"proxygen/logging"
	"proxygen/message"
	"proxygen/metrics"
	"proxygen/middleware"
	"proxygen/pdo"
	"proxygen/registry"
	"proxygen/scperr"
	"proxygen/transport"
)

var (
	ErrInvalidApplication = errors.New("session: application name is required")
	ErrNotConnected       = errors.New("session: not connected")
	ErrSessionFatal       = errors.New("session: unusable after a fatal error")
	ErrNoRoute            = errors.New("session: no host given and no registry configured")
	// ErrRejected is the cause of every failure the server reported outside the OSCA block.
	ErrRejected = errors.New("session: rejected by server")
)

// Credentials identify the caller to the application server.
type Credentials struct {
	User     string
	Location string
}

type Session struct {
	mu          sync.Mutex
	t           *transport.ClientTransport
	contextID   int32
	application string
	addr        string
	fatal       bool

	retryLimit  int
	retryDelay  time.Duration
	codec       codec.CodecType
	heartbeat   time.Duration
	callTimeout time.Duration
	callRetries int
	registry    registry.Registry
	balancer    loadbalance.Balancer
	log         zerolog.Logger
	middlewares []middleware.Middleware
	owned       io.Closer // registry opened by Open
}

type Option func(*Session)

// WithConnectRetry sets how often Connect retries a failed attempt and the pause between attempts.
func WithConnectRetry(limit int, delay time.Duration) Option {
	return func(s *Session) {
		s.retryLimit = limit
		s.retryDelay = delay
	}
}

func WithCodec(c codec.CodecType) Option {
	return func(s *Session) { s.codec = c }
}

// WithHeartbeat sets the heartbeat interval of the connection. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Session) { s.heartbeat = d }
}

// WithCallTimeout bounds every round trip. Zero leaves calls bounded by the caller's context only.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Session) { s.callTimeout = d }
}

// WithCallRetries sets how often a call rejected by the server's rate limiter is resent.
func WithCallRetries(n int) Option {
	return func(s *Session) { s.callRetries = n }
}

// WithRegistry lets Connect discover the server when no host is given.
func WithRegistry(reg registry.Registry) Option {
	return func(s *Session) { s.registry = reg }
}

func WithBalancer(b loadbalance.Balancer) Option {
	return func(s *Session) { s.balancer = b }
}

func New(opts ...Option) *Session {
	s := &Session{
		retryLimit:  3,
		retryDelay:  500 * time.Millisecond,
		codec:       codec.CodecTypeJSON,
		heartbeat:   30 * time.Second,
		callTimeout: 30 * time.Second,
		callRetries: 3,
		balancer:    &loadbalance.RoundRobinBalancer{},
		log:         logging.Component("session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.middlewares = []middleware.Middleware{
		middleware.LoggingMiddleware(s.log),
		middleware.RetryMiddleware(s.callRetries, s.retryDelay, s.log),
	}
	return s
}

// NewFromConfig builds a session from loaded settings. reg may be nil when cfg names a host.
func NewFromConfig(cfg config.Config, reg registry.Registry) (*Session, error) {
	ct, err := codec.ParseCodecType(cfg.Codec)
	if err != nil {
		return nil, err
	}
	bal, err := loadbalance.ByName(cfg.Balancer)
	if err != nil {
		return nil, err
	}
	return New(
		WithConnectRetry(cfg.ConnectRetryLimit, cfg.ConnectRetryDelay),
		WithCodec(ct),
		WithHeartbeat(cfg.HeartbeatInterval),
		WithCallTimeout(cfg.CallTimeout),
		WithCallRetries(cfg.CallRetries),
		WithRegistry(reg),
		WithBalancer(bal),
	), nil
}

// Open builds a session from cfg and connects it to cfg.Application. When reg is nil and cfg
// lists etcd endpoints, Open connects to etcd itself; Close releases that client.
func Open(ctx context.Context, cfg config.Config, reg registry.Registry) (*Session, error) {
	var owned *registry.EtcdRegistry
	if reg == nil && len(cfg.EtcdEndpoints) > 0 {
		var err error
		if owned, err = registry.NewEtcdRegistry(cfg.EtcdEndpoints); err != nil {
			return nil, errors.Wrap(err, "open etcd registry")
		}
		reg = owned
	}
	s, err := NewFromConfig(cfg, reg)
	if err != nil {
		if owned != nil {
			owned.Close()
		}
		return nil, err
	}
	if owned != nil {
		s.owned = owned
	}
	creds := Credentials{User: cfg.User, Location: cfg.Location}
	if err := s.Connect(ctx, cfg.Application, cfg.Host, creds); err != nil {
		s.Close(ctx)
		return nil, err
	}
	return s, nil
}

// Connect opens a session with application. An empty host discovers the server through the
// registry, picking an instance keyed by the user. Connecting a connected session does nothing.
func (s *Session) Connect(ctx context.Context, application, host string, creds Credentials) error {
	if application == "" {
		return ErrInvalidApplication
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t != nil {
		select {
		case <-s.t.Done():
			s.log.Info().Str("application", s.application).Msg("connection lost, reconnecting")
			s.t, s.contextID, s.fatal = nil, 0, false
		default:
			return nil
		}
	}

	var err error
	attempt := 0
	for ; attempt <= s.retryLimit; attempt++ {
		if attempt > 0 {
			s.log.Debug().Err(err).Str("application", application).Int("attempt", attempt).Msg("retrying connect")
			select {
			case <-ctx.Done():
				metrics.RecordConnect(application, metrics.OutcomeTransport)
				return errors.Wrapf(ctx.Err(), "connect %s", application)
			case <-time.After(s.retryDelay):
			}
		}
		if err = s.connect(ctx, application, host, creds); err == nil {
			metrics.RecordConnect(application, metrics.OutcomeOK)
			s.log.Info().Str("application", application).Str("addr", s.addr).Int32("context", s.contextID).Msg("connected")
			return nil
		}
		// The server answered; asking again gives the same answer
		if errors.Is(err, ErrRejected) {
			attempt++
			break
		}
	}
	metrics.RecordConnect(application, metrics.OutcomeTransport)
	return errors.Wrapf(err, "connect %s after %d attempt(s)", application, attempt)
}

func (s *Session) connect(ctx context.Context, application, host string, creds Credentials) error {
	addr, err := s.resolve(ctx, application, host, creds.User)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	t, err := transport.Dial(ctx, addr, s.codec, s.heartbeat)
	if err != nil {
		return errors.Wrapf(err, "dial %s", addr)
	}
	payload, err := json.Marshal(message.ConnectArgs{Application: application, User: creds.User, Location: creds.Location})
	if err != nil {
		t.Close()
		return err
	}
	resp, err := s.roundTrip(ctx, t, &message.RPCMessage{Procedure: message.ProcConnect, Payload: payload})
	if err != nil {
		t.Close()
		return err
	}
	s.t = t
	s.contextID = resp.OSCA.ContextID
	s.application = application
	s.addr = addr
	s.fatal = false
	return nil
}

func (s *Session) resolve(ctx context.Context, application, host, user string) (string, error) {
	if host != "" {
		return host, nil
	}
	if s.registry == nil {
		return "", ErrNoRoute
	}
	instances, err := s.registry.Discover(ctx, application)
	if err != nil {
		return "", errors.Wrapf(err, "discover %s", application)
	}
	inst, err := s.balancer.Pick(user, instances)
	if err != nil {
		return "", errors.Wrapf(err, "pick %s instance", application)
	}
	return inst.Addr, nil
}

// Invoke runs procedure on the server with the sealed container c. A procedure failure is
// returned as a Fault. On success the reply values are merged into c; after a fatal or user
// fault c is left as it was, after an informational fault the values the procedure wrote
// are merged as well.
func (s *Session) Invoke(ctx context.Context, procedure string, c *pdo.Container) (*scperr.Fault, error) {
	s.mu.Lock()
	t, id, fatal := s.t, s.contextID, s.fatal
	s.mu.Unlock()
	if fatal {
		return nil, ErrSessionFatal
	}
	if t == nil {
		return nil, ErrNotConnected
	}
	if !c.Sealed() {
		return nil, pdo.ErrNotSealed
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "encode container")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	req := &message.RPCMessage{Procedure: procedure, OSCA: message.OSCA{ContextID: id}, Payload: payload}
	resp, err := s.roundTrip(ctx, t, req)
	if err != nil {
		return nil, errors.WithMessagef(err, "invoke %s", procedure)
	}

	var fault *scperr.Fault
	if resp.OSCA.Failed() {
		fault = &scperr.Fault{
			ErrorNumber:  int(resp.OSCA.ErrorNo),
			ErrorMessage: resp.OSCA.MsgText,
			Severity:     int(resp.OSCA.ErrorType),
		}
		switch scperr.Classify(*fault).Severity() {
		case scperr.SeverityFatal:
			s.poison(t)
			return fault, nil
		case scperr.SeverityUser:
			return fault, nil
		}
		if len(resp.Payload) == 0 {
			return fault, nil
		}
	}

	if len(resp.Payload) == 0 {
		return nil, errors.Errorf("invoke %s: reply carries no container", procedure)
	}
	reply := pdo.NewContainer()
	if err := json.Unmarshal(resp.Payload, reply); err != nil {
		return nil, errors.Wrapf(err, "decode reply of %s", procedure)
	}
	if err := c.Merge(reply); err != nil {
		return nil, err
	}
	return fault, nil
}

func (s *Session) poison(t *transport.ClientTransport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t == t {
		s.fatal = true
		s.log.Warn().Str("application", s.application).Int32("context", s.contextID).Msg("session poisoned by fatal error")
	}
}

// Disconnect ends the server context and closes the connection. It also clears a fatal state.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	t, id := s.t, s.contextID
	s.t, s.contextID, s.fatal = nil, 0, false
	s.mu.Unlock()
	if t == nil {
		return nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.roundTrip(ctx, t, &message.RPCMessage{Procedure: message.ProcDisconnect, OSCA: message.OSCA{ContextID: id}})
	if cerr := t.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "close connection")
	}
	return err
}

// Close disconnects and releases what Open acquired.
func (s *Session) Close(ctx context.Context) error {
	err := s.Disconnect(ctx)
	s.mu.Lock()
	owned := s.owned
	s.owned = nil
	s.mu.Unlock()
	if owned != nil {
		if cerr := owned.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Connected reports whether the session holds an open connection.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t != nil
}

// ContextID returns the context issued by the server, or 0 when not connected.
func (s *Session) ContextID() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contextID
}

// Addr returns the address of the connected server.
func (s *Session) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

// roundTrip sends req through the client middleware chain. A transport failure is returned
// as is; a reply carrying an error text is returned as ErrRejected.
func (s *Session) roundTrip(ctx context.Context, t *transport.ClientTransport, req *message.RPCMessage) (*message.RPCMessage, error) {
	var callErr error
	handler := middleware.Chain(s.middlewares...)(func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
		resp, err := t.Call(ctx, req)
		callErr = err
		if err != nil {
			return &message.RPCMessage{Procedure: req.Procedure, Error: err.Error()}
		}
		return resp
	})
	resp := handler(ctx, req)
	if callErr != nil {
		return nil, callErr
	}
	if resp.Error != "" {
		return nil, errors.WithMessage(ErrRejected, resp.Error)
	}
	return resp, nil
}
