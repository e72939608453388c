package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"proxygen/codec"
	"proxygen/config"
	"proxygen/message"
	"proxygen/middleware"
	"proxygen/pdo"
	"proxygen/protocol"
	"proxygen/registry"
	"proxygen/scperr"
)

type counterApp struct{}

func (a *counterApp) Add(ctx context.Context, c *pdo.Container) error {
	x, err := pdo.GetInteger(c, "a")
	if err != nil {
		return err
	}
	y, err := pdo.GetInteger(c, "b")
	if err != nil {
		return err
	}
	return c.Write("sum", x+y)
}

func (a *counterApp) Warn(ctx context.Context, c *pdo.Container) error {
	if err := c.Write("sum", 1); err != nil {
		return err
	}
	return scperr.Informational(3, "rounded")
}

func (a *counterApp) Refuse(ctx context.Context, c *pdo.Container) error {
	return scperr.User(42, "bad input")
}

func (a *counterApp) Fail(ctx context.Context, c *pdo.Container) error {
	return errors.New("plain failure")
}

func (a *counterApp) Unnumbered(ctx context.Context, c *pdo.Container) error {
	return scperr.User(0, "no number")
}

// Helper has the wrong shape for a procedure.
func (a *counterApp) Helper(n int) int { return n }

type rawClient struct {
	t    *testing.T
	conn net.Conn
	cdc  codec.Codec
	seq  uint32
}

func dial(t *testing.T, addr string) *rawClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return &rawClient{t: t, conn: conn, cdc: codec.GetCodec(codec.CodecTypeJSON)}
}

func (rc *rawClient) call(req *message.RPCMessage) *message.RPCMessage {
	rc.t.Helper()
	body, err := rc.cdc.Encode(req)
	if err != nil {
		rc.t.Fatal(err)
	}
	rc.seq++
	header := protocol.Header{
		CodecType: byte(codec.CodecTypeJSON),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       rc.seq,
		BodyLen:   uint32(len(body)),
	}
	if err := protocol.Encode(rc.conn, &header, body); err != nil {
		rc.t.Fatal(err)
	}

	replyHeader, replyBody, err := protocol.Decode(rc.conn)
	if err != nil {
		rc.t.Fatal(err)
	}
	if replyHeader.Seq != header.Seq {
		rc.t.Fatalf("expect seq %d, got %d", header.Seq, replyHeader.Seq)
	}
	if replyHeader.MsgType != protocol.MsgTypeResponse {
		rc.t.Fatalf("expect response frame, got %v", replyHeader.MsgType)
	}
	resp := &message.RPCMessage{}
	if err := rc.cdc.Decode(replyBody, resp); err != nil {
		rc.t.Fatal(err)
	}
	return resp
}

func (rc *rawClient) connect(application string) *message.RPCMessage {
	payload, _ := json.Marshal(message.ConnectArgs{Application: application, User: "bob"})
	return rc.call(&message.RPCMessage{Procedure: message.ProcConnect, Payload: payload})
}

func addRequest(t *testing.T, id int32, a, b int32) *message.RPCMessage {
	t.Helper()
	c := pdo.NewContainer()
	pdo.DeclareInteger(c, "a", pdo.In)
	pdo.DeclareInteger(c, "b", pdo.In)
	pdo.DeclareInteger(c, "sum", pdo.Out)
	c.Set("a", a)
	c.Set("b", b)
	c.Seal()
	payload, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	return &message.RPCMessage{Procedure: "Add", OSCA: message.OSCA{ContextID: id}, Payload: payload}
}

func sumOf(t *testing.T, resp *message.RPCMessage) int32 {
	t.Helper()
	c := pdo.NewContainer()
	if err := json.Unmarshal(resp.Payload, c); err != nil {
		t.Fatal(err)
	}
	n, err := pdo.GetInteger(c, "sum")
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func serve(t *testing.T, svr *Server, reg registry.Registry) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(ln, ln.Addr().String(), reg)
	t.Cleanup(func() { svr.Shutdown(3 * time.Second) })
	return ln.Addr().String()
}

func newCounterServer(t *testing.T) *Server {
	t.Helper()
	svr := NewServer("Counter")
	if err := svr.Register(&counterApp{}); err != nil {
		t.Fatal(err)
	}
	return svr
}

func TestServer(t *testing.T) {
	rc := dial(t, serve(t, newCounterServer(t), nil))

	resp := rc.connect("Counter")
	if resp.Error != "" || resp.OSCA.ContextID <= 0 {
		t.Fatalf("connect: %+v", resp)
	}
	id := resp.OSCA.ContextID

	resp = rc.call(addRequest(t, id, 1, 2))
	if resp.Error != "" || resp.OSCA.Failed() {
		t.Fatalf("Add: %+v", resp)
	}
	if resp.OSCA.ContextID != id {
		t.Fatalf("context not echoed: %d", resp.OSCA.ContextID)
	}
	if sum := sumOf(t, resp); sum != 3 {
		t.Fatalf("expect 3, got %d", sum)
	}
}

func TestServerFailures(t *testing.T) {
	rc := dial(t, serve(t, newCounterServer(t), nil))
	id := rc.connect("Counter").OSCA.ContextID

	req := addRequest(t, id, 0, 0)
	req.Procedure = "Refuse"
	resp := rc.call(req)
	if resp.OSCA.ErrorNo != 42 || resp.OSCA.ErrorType != int32(scperr.SeverityUser) || resp.OSCA.MsgText != "bad input" {
		t.Fatalf("unexpected OSCA %+v", resp.OSCA)
	}
	if len(resp.Payload) != 0 {
		t.Fatal("user failure must not carry values")
	}

	req.Procedure = "Warn"
	resp = rc.call(req)
	if resp.OSCA.ErrorType != int32(scperr.SeverityInformational) || sumOf(t, resp) != 1 {
		t.Fatalf("informational failure: %+v", resp)
	}

	req.Procedure = "Fail"
	if resp = rc.call(req); resp.Error != "plain failure" {
		t.Fatalf("plain error: %q", resp.Error)
	}

	req.Procedure = "Unnumbered"
	resp = rc.call(req)
	if !strings.HasPrefix(resp.Error, "invalid error number 0") || resp.OSCA.Failed() || len(resp.Payload) != 0 {
		t.Fatalf("unnumbered failure: %+v", resp)
	}

	req.Procedure = "Helper"
	if resp = rc.call(req); !strings.HasPrefix(resp.Error, message.ErrTextUnknownProcedure) {
		t.Fatalf("unknown procedure: %q", resp.Error)
	}

	req.Procedure = "Add"
	req.Payload = []byte("{not json")
	if resp = rc.call(req); !strings.HasPrefix(resp.Error, "malformed container") {
		t.Fatalf("malformed container: %q", resp.Error)
	}
}

func TestServerSessions(t *testing.T) {
	addr := serve(t, newCounterServer(t), nil)
	rc := dial(t, addr)

	if resp := rc.connect("Other"); resp.Error == "" {
		t.Fatal("unknown application accepted")
	}
	if resp := rc.call(addRequest(t, 1, 1, 1)); resp.Error != message.ErrTextNotConnected {
		t.Fatalf("expect %q, got %q", message.ErrTextNotConnected, resp.Error)
	}

	id := rc.connect("Counter").OSCA.ContextID
	rc.call(&message.RPCMessage{Procedure: message.ProcDisconnect, OSCA: message.OSCA{ContextID: id}})
	if resp := rc.call(addRequest(t, id, 1, 1)); resp.Error != message.ErrTextNotConnected {
		t.Fatalf("context survived disconnect: %+v", resp)
	}

	// Contexts end with their connection
	other := dial(t, addr)
	id = other.connect("Counter").OSCA.ContextID
	other.conn.Close()
	time.Sleep(50 * time.Millisecond)
	if resp := rc.call(addRequest(t, id, 1, 1)); resp.Error != message.ErrTextNotConnected {
		t.Fatalf("context survived its connection: %+v", resp)
	}
}

func TestServerRateLimit(t *testing.T) {
	svr := newCounterServer(t)
	svr.Use(middleware.RateLimitMiddleware(1, 2))
	rc := dial(t, serve(t, svr, nil))

	id := rc.connect("Counter").OSCA.ContextID // consumes one token
	rc.call(addRequest(t, id, 1, 1))
	if resp := rc.call(addRequest(t, id, 1, 1)); resp.Error != message.ErrTextRateLimited {
		t.Fatalf("expect rate limiting, got %+v", resp)
	}
}

func TestServerPanic(t *testing.T) {
	svr := NewServer("Counter")
	if err := svr.Handle("Boom", func(ctx context.Context, c *pdo.Container) error { panic("boom") }); err != nil {
		t.Fatal(err)
	}
	rc := dial(t, serve(t, svr, nil))
	id := rc.connect("Counter").OSCA.ContextID
	resp := rc.call(&message.RPCMessage{Procedure: "Boom", OSCA: message.OSCA{ContextID: id}, Payload: []byte(`{"slots":[],"values":[]}`)})
	if !strings.Contains(resp.Error, "panicked") {
		t.Fatalf("expect panic report, got %q", resp.Error)
	}

	// The server keeps serving
	if resp := rc.connect("Counter"); resp.Error != "" {
		t.Fatal(resp.Error)
	}
}

func TestRegistration(t *testing.T) {
	svr := NewServer("Counter")
	noop := func(ctx context.Context, c *pdo.Container) error { return nil }

	for _, name := range []string{"", "$connect"} {
		if err := svr.Handle(name, noop); err == nil {
			t.Errorf("Handle(%q) accepted", name)
		}
	}
	if err := svr.Handle("Ping", noop); err != nil {
		t.Fatal(err)
	}
	if err := svr.Handle("Ping", noop); err == nil {
		t.Fatal("duplicate procedure accepted")
	}

	if err := svr.Register(counterApp{}); err == nil {
		t.Fatal("non-pointer receiver accepted")
	}
	type empty struct{}
	if err := svr.Register(&empty{}); err == nil {
		t.Fatal("receiver without procedures accepted")
	}

	svc, err := NewService(&counterApp{})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"Add", "Warn", "Refuse", "Fail"} {
		if _, ok := svc.method[name]; !ok {
			t.Errorf("procedure %s not found", name)
		}
	}
	if _, ok := svc.method["Helper"]; ok {
		t.Error("Helper registered as procedure")
	}
}

func TestShutdownDeregisters(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svr := newCounterServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- svr.ServeListener(ln, ln.Addr().String(), reg) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		insts, _ := reg.Discover(context.Background(), "Counter")
		if len(insts) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatalf("ServeListener returned %v", err)
	}
	if insts, _ := reg.Discover(context.Background(), "Counter"); len(insts) != 0 {
		t.Fatalf("still registered: %v", insts)
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Application = "Counter"
	cfg.Server.RateLimit = 1000
	cfg.Server.RequestTimeout = time.Second

	svr := NewFromConfig(cfg)
	if svr.Application() != "Counter" || svr.ttl != cfg.Server.RegistryTTL || len(svr.middlewares) != 4 {
		t.Fatalf("unexpected server %s ttl=%d middlewares=%d", svr.Application(), svr.ttl, len(svr.middlewares))
	}
	if err := svr.Register(&counterApp{}); err != nil {
		t.Fatal(err)
	}
	rc := dial(t, serve(t, svr, nil))
	id := rc.connect("Counter").OSCA.ContextID
	if sum := sumOf(t, rc.call(addRequest(t, id, 20, 22))); sum != 42 {
		t.Fatalf("expect 42, got %d", sum)
	}
}

func discoverOne(t *testing.T, reg registry.Registry, application string) registry.ServiceInstance {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		insts, _ := reg.Discover(context.Background(), application)
		if len(insts) == 1 {
			return insts[0]
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s never registered", application)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRun(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svr := newCounterServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.ServerConfig{Listen: "127.0.0.1:0", ShutdownTimeout: time.Second}
	done := make(chan error, 1)
	go func() { done <- svr.Run(ctx, cfg, reg) }()

	rc := dial(t, discoverOne(t, reg, "Counter").Addr)
	id := rc.connect("Counter").OSCA.ContextID
	if sum := sumOf(t, rc.call(addRequest(t, id, 2, 3))); sum != 5 {
		t.Fatalf("expect 5, got %d", sum)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if insts, _ := reg.Discover(context.Background(), "Counter"); len(insts) != 0 {
		t.Fatalf("still registered: %v", insts)
	}
}

func TestRunAdvertise(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svr := newCounterServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.ServerConfig{Listen: "127.0.0.1:0", Advertise: "counter.example:7300", ShutdownTimeout: time.Second}
	done := make(chan error, 1)
	go func() { done <- svr.Run(ctx, cfg, reg) }()

	if inst := discoverOne(t, reg, "Counter"); inst.Addr != cfg.Advertise {
		t.Fatalf("advertised %q, want %q", inst.Addr, cfg.Advertise)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if err := NewServer("Other").Run(context.Background(), config.ServerConfig{Listen: "not an address"}, nil); err == nil {
		t.Fatal("expect listen error")
	}
}
