package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"proxygen/params"
	"proxygen/pdo"
	"proxygen/scperr"
)

// remoteFunc plays the server side of a procedure on a copy of the sent container.
type remoteFunc func(c *pdo.Container) error

type fakeInvoker struct {
	procs map[string]remoteFunc
	fault *scperr.Fault // returned as is when set
	err   error
	calls int
}

func (f *fakeInvoker) Invoke(ctx context.Context, procedure string, c *pdo.Container) (*scperr.Fault, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.fault != nil {
		return f.fault, nil
	}
	fn, ok := f.procs[procedure]
	if !ok {
		return nil, fmt.Errorf("unknown procedure %s", procedure)
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	reply := pdo.NewContainer()
	if err := json.Unmarshal(b, reply); err != nil {
		return nil, err
	}
	if err := fn(reply); err != nil {
		re, ok := scperr.As(err)
		if !ok {
			return nil, err
		}
		fault := &scperr.Fault{ErrorNumber: re.ErrorNumber(), ErrorMessage: re.Message(), Severity: int(re.Severity())}
		if re.Severity() != scperr.SeverityInformational {
			return fault, nil
		}
		return fault, c.Merge(reply)
	}
	return nil, c.Merge(reply)
}

func helloWorld(c *pdo.Container) error {
	name, err := pdo.GetString(c, "name")
	if err != nil {
		return err
	}
	return c.Write("greeting", "Hello, "+name)
}

func TestCallScalars(t *testing.T) {
	p := New(&fakeInvoker{procs: map[string]remoteFunc{"SCP_HelloWorld": helloWorld}})

	name, greeting := "World", ""
	err := p.Call(context.Background(), "SCP_HelloWorld",
		In("name", &name, pdo.String),
		Out("greeting", &greeting, pdo.String),
	)
	if err != nil {
		t.Fatal(err)
	}
	if greeting != "Hello, World" {
		t.Fatalf("expect %q, got %q", "Hello, World", greeting)
	}
}

func TestUserFaultLeavesCallerUntouched(t *testing.T) {
	inv := &fakeInvoker{procs: map[string]remoteFunc{
		"Validate": func(c *pdo.Container) error {
			c.Write("x", "changed")
			return scperr.User(42, "bad input")
		},
	}}
	p := New(inv)

	x := "original"
	err := p.Call(context.Background(), "Validate", InOut("x", &x, pdo.String))
	re, ok := scperr.As(err)
	if !ok {
		t.Fatalf("expect *scperr.Error, got %v", err)
	}
	if !scperr.IsUser(err) || re.ErrorNumber() != 42 || re.Message() != "bad input" {
		t.Fatalf("unexpected error %v", err)
	}
	if x != "original" {
		t.Fatalf("caller value changed to %q", x)
	}
}

func TestFaultClassification(t *testing.T) {
	cases := []struct {
		severity int
		is       func(error) bool
	}{
		{int(scperr.SeverityFatal), scperr.IsFatal},
		{int(scperr.SeverityUser), scperr.IsUser},
		{int(scperr.SeverityInformational), scperr.IsInformational},
		{9, scperr.IsFatal}, // unknown discriminator
	}
	for _, tc := range cases {
		inv := &fakeInvoker{fault: &scperr.Fault{ErrorNumber: 5, ErrorMessage: "failed", Severity: tc.severity}}
		err := New(inv).Call(context.Background(), "Anything")
		if !tc.is(err) {
			t.Errorf("severity %d: unexpected classification %v", tc.severity, err)
		}
	}
}

func TestEchoEmptyString(t *testing.T) {
	inv := &fakeInvoker{procs: map[string]remoteFunc{
		"Echo": func(c *pdo.Container) error {
			v, err := pdo.GetString(c, "x")
			if err != nil {
				return err
			}
			return c.Write("x", v)
		},
	}}
	proc := Procedure{Name: "Echo", Params: []Param{{Name: "x", Type: pdo.String, Dir: pdo.InOut}}}

	set := params.New().Put("x", "")
	if err := New(inv).CallSet(context.Background(), proc, set); err != nil {
		t.Fatal(err)
	}
	if v, ok := set.Get("x"); !ok || v != "" {
		t.Fatalf("expect empty string, got %v, %v", v, ok)
	}
}

func TestMissingSlot(t *testing.T) {
	inv := &fakeInvoker{procs: map[string]remoteFunc{
		"Partial": func(c *pdo.Container) error { return c.Write("a", int32(1)) },
	}}

	var a, b int32 = -1, -1
	err := New(inv).Call(context.Background(), "Partial",
		Out("a", &a, pdo.Integer),
		Out("b", &b, pdo.Integer),
	)
	var ae *pdo.AttrError
	if !errors.Is(err, pdo.ErrMissingSlot) || !errors.As(err, &ae) || ae.Attr != "b" {
		t.Fatalf("expect missing slot b, got %v", err)
	}
	if a != -1 || b != -1 {
		t.Fatalf("caller values changed: a=%d b=%d", a, b)
	}
}

func TestInformationalHandler(t *testing.T) {
	inv := &fakeInvoker{procs: map[string]remoteFunc{
		"Refresh": func(c *pdo.Container) error {
			c.Write("count", int32(3))
			return scperr.Informational(8, "cache was stale")
		},
	}}

	count := int32(0)
	err := New(inv).Call(context.Background(), "Refresh", Out("count", &count, pdo.Integer))
	if !scperr.IsInformational(err) || count != 0 {
		t.Fatalf("without handler: err=%v count=%d", err, count)
	}

	var got *scperr.Error
	p := New(inv, WithInformationalHandler(func(procedure string, err *scperr.Error) {
		if procedure != "Refresh" {
			t.Errorf("handler got procedure %q", procedure)
		}
		got = err
	}))
	if err := p.Call(context.Background(), "Refresh", Out("count", &count, pdo.Integer)); err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ErrorNumber() != 8 {
		t.Fatalf("handler not called with the fault: %v", got)
	}
	if count != 3 {
		t.Fatalf("expect populated count 3, got %d", count)
	}

	// The handler does not swallow other severities
	inv.procs["Refresh"] = func(c *pdo.Container) error { return scperr.User(1, "no") }
	if err := p.Call(context.Background(), "Refresh", Out("count", &count, pdo.Integer)); !scperr.IsUser(err) {
		t.Fatalf("expect user error, got %v", err)
	}
}

func TestCallSetSwap(t *testing.T) {
	inv := &fakeInvoker{procs: map[string]remoteFunc{
		"Swap": func(c *pdo.Container) error {
			a, _ := pdo.GetInteger(c, "a")
			b, _ := pdo.GetInteger(c, "b")
			if err := c.Write("a", b); err != nil {
				return err
			}
			return c.Write("b", a)
		},
	}}
	proc := Procedure{Name: "Swap", Params: []Param{
		{Name: "a", Type: pdo.Integer, Dir: pdo.InOut},
		{Name: "b", Type: pdo.Integer, Dir: pdo.InOut},
	}}

	set := params.New().Put("a", 1).Put("b", 2)
	if err := New(inv).CallSet(context.Background(), proc, set); err != nil {
		t.Fatal(err)
	}
	a, _ := params.Value[int](set, "a")
	b, _ := params.Value[int](set, "b")
	if a != 2 || b != 1 {
		t.Fatalf("expect a=2 b=1, got a=%d b=%d", a, b)
	}
}

func TestContractErrorsSkipInvoke(t *testing.T) {
	inv := &fakeInvoker{procs: map[string]remoteFunc{}}
	p := New(inv)

	x, y := "a", "b"
	err := p.Call(context.Background(), "Dup", In("x", &x, pdo.String), In("x", &y, pdo.String))
	if !errors.Is(err, pdo.ErrDeclarationConflict) {
		t.Fatalf("expect declaration conflict, got %v", err)
	}

	n := 70000
	err = p.Call(context.Background(), "Small", In("n", &n, pdo.SmallInt))
	if !errors.Is(err, pdo.ErrTypeMismatch) {
		t.Fatalf("expect type mismatch, got %v", err)
	}

	err = New(inv).CallSet(context.Background(), Procedure{Name: "Need", Params: []Param{
		{Name: "missing", Type: pdo.String, Dir: pdo.In},
	}}, params.New())
	var me *params.ErrMissing
	if !errors.As(err, &me) {
		t.Fatalf("expect ErrMissing, got %v", err)
	}

	if inv.calls != 0 {
		t.Fatalf("invoker called %d times", inv.calls)
	}
}

func TestInvokerError(t *testing.T) {
	broken := errors.New("connection reset")
	x := "keep"
	err := New(&fakeInvoker{err: broken}).Call(context.Background(), "Any", InOut("x", &x, pdo.String))
	if !errors.Is(err, broken) {
		t.Fatalf("expect invoker error, got %v", err)
	}
	if x != "keep" {
		t.Fatalf("caller value changed to %q", x)
	}
}

func TestOutcome(t *testing.T) {
	cases := map[string]error{
		"ok":            nil,
		"fatal":         scperr.Fatal(1, "x"),
		"user":          scperr.User(1, "x"),
		"informational": scperr.Informational(1, "x"),
		"contract":      &pdo.AttrError{Attr: "a", Err: pdo.ErrMissingSlot},
		"transport":     errors.New("eof"),
	}
	for want, err := range cases {
		if got := outcomeOf(err, false); got != want {
			t.Errorf("outcomeOf(%v) = %s, want %s", err, got, want)
		}
	}
	if got := outcomeOf(nil, true); got != "informational" {
		t.Errorf("handled informational outcome = %s", got)
	}
}

// miscast declares an INTEGER slot but reads it as a string.
type miscast struct {
	Label string
	Count string
}

func (m *miscast) DeclareAttributes(c *pdo.Container, name string) error {
	if err := pdo.DeclareString(c, pdo.Attr(name, "label"), pdo.Out); err != nil {
		return err
	}
	return pdo.DeclareInteger(c, pdo.Attr(name, "count"), pdo.Out)
}

func (m *miscast) SetAttributes(c *pdo.Container, name string) error { return nil }

func (m *miscast) PopulateAttributes(c *pdo.Container, name string) (err error) {
	if m.Label, err = pdo.GetString(c, pdo.Attr(name, "label")); err != nil {
		return err
	}
	m.Count, err = pdo.GetString(c, pdo.Attr(name, "count"))
	return err
}

func TestPopulateAllOrNothing(t *testing.T) {
	inv := &fakeInvoker{procs: map[string]remoteFunc{
		"Scalars": func(c *pdo.Container) error {
			c.Write("a", int32(7))
			return c.Write("b", int32(9))
		},
		"Mixed": func(c *pdo.Container) error {
			c.Write("a", int32(7))
			c.Write("m.label", "written")
			return c.Write("m.count", int32(9))
		},
	}}
	p := New(inv)

	a, b := int32(1), "before"
	err := p.Call(context.Background(), "Scalars", Out("a", &a, pdo.Integer), Out("b", &b, pdo.Integer))
	var ae *pdo.AttrError
	if !errors.Is(err, pdo.ErrTypeMismatch) || !errors.As(err, &ae) || ae.Attr != "b" {
		t.Fatalf("expect type mismatch on b, got %v", err)
	}
	if inv.calls != 0 {
		t.Fatalf("mismatched binding reached the server")
	}
	if a != 1 || b != "before" {
		t.Fatalf("caller values changed: a=%d b=%q", a, b)
	}

	m := &miscast{Label: "before", Count: "before"}
	err = p.Call(context.Background(), "Mixed", Out("a", &a, pdo.Integer), Object("m", m))
	if !errors.Is(err, pdo.ErrTypeMismatch) {
		t.Fatalf("expect type mismatch, got %v", err)
	}
	if a != 1 || m.Label != "before" || m.Count != "before" {
		t.Fatalf("caller values changed: a=%d m=%+v", a, m)
	}
}
