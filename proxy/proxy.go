// Package proxy runs typed procedure calls against an application server.
//
// Generated proxies, and hand-written ones, describe a call as a list of named arguments.
// Call moves them through one fresh container:
//
//	declare all ──► set all ──► seal ──► Invoke ──► fault? ──► unwritten? ──► stage all ──► commit all
//
// Every out value is read and converted before any caller variable is assigned, so the
// caller's variables only change when the whole call succeeded.
package proxy

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"proxygen/logging"
	"proxygen/metrics"
	"proxygen/params"
	"proxygen/pdo"
	"proxygen/scperr"
)

// Invoker carries a sealed container to a procedure and merges the reply into it.
// *session.Session is the production Invoker.
type Invoker interface {
	Invoke(ctx context.Context, procedure string, c *pdo.Container) (*scperr.Fault, error)
}

// InformationalHandler receives informational faults when installed with
// WithInformationalHandler.
type InformationalHandler func(procedure string, err *scperr.Error)

type Option func(*Proxy)

// WithInformationalHandler hands informational faults to h instead of returning them. The
// call then completes like a successful one.
func WithInformationalHandler(h InformationalHandler) Option {
	return func(p *Proxy) { p.onInfo = h }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Proxy) { p.log = l }
}

type Proxy struct {
	inv    Invoker
	onInfo InformationalHandler
	log    zerolog.Logger
}

func New(inv Invoker, opts ...Option) *Proxy {
	p := &Proxy{inv: inv, log: logging.Component("proxy")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Call invokes procedure with args. Remote failures are returned as *scperr.Error, contract
// violations as *pdo.AttrError, anything else as the Invoker returned it.
func (p *Proxy) Call(ctx context.Context, procedure string, args ...Arg) (err error) {
	start := time.Now()
	info := false
	defer func() {
		outcome := outcomeOf(err, info)
		metrics.RecordProxyCall(procedure, outcome, time.Since(start))
		ev := p.log.Debug()
		if err != nil {
			ev = p.log.Warn().Err(err)
		}
		ev.Str("procedure", procedure).Str("outcome", outcome).Dur("duration", time.Since(start)).Msg("call")
	}()

	c := pdo.NewContainer()
	for _, a := range args {
		if err := a.M.DeclareAttributes(c, a.Name); err != nil {
			return err
		}
	}
	for _, a := range args {
		if err := a.M.SetAttributes(c, a.Name); err != nil {
			return err
		}
	}
	c.Seal()

	fault, err := p.inv.Invoke(ctx, procedure, c)
	if err != nil {
		return err
	}
	if fault != nil {
		rerr := scperr.Classify(*fault)
		if rerr.Severity() != scperr.SeverityInformational || p.onInfo == nil {
			return rerr
		}
		info = true
		p.onInfo(procedure, rerr)
	}

	if missing := c.Unwritten(); len(missing) > 0 {
		return &pdo.AttrError{Attr: missing[0], Err: pdo.ErrMissingSlot}
	}
	commits := make([]func(), 0, len(args))
	for _, a := range args {
		commit, err := pdo.Stage(c, a.Name, a.M)
		if err != nil {
			return err
		}
		commits = append(commits, commit)
	}
	for _, commit := range commits {
		commit()
	}
	return nil
}

// Param describes one parameter of a procedure called with a parameter set.
type Param struct {
	Name string
	Type pdo.AttrType
	Dir  pdo.Direction
}

// Procedure describes a procedure called with a parameter set.
type Procedure struct {
	Name   string
	Params []Param
}

// CallSet invokes proc with the entries of set named by its parameters. Out and in-out
// entries are replaced by the values the procedure wrote.
func (p *Proxy) CallSet(ctx context.Context, proc Procedure, set *params.Set) error {
	args := make([]Arg, len(proc.Params))
	for i, prm := range proc.Params {
		args[i] = Arg{Name: prm.Name, M: params.Bind(set, prm.Name, prm.Type, prm.Dir)}
	}
	return p.Call(ctx, proc.Name, args...)
}

func outcomeOf(err error, info bool) string {
	if err == nil {
		if info {
			return metrics.OutcomeInformational
		}
		return metrics.OutcomeOK
	}
	if re, ok := scperr.As(err); ok {
		switch re.Severity() {
		case scperr.SeverityUser:
			return metrics.OutcomeUser
		case scperr.SeverityInformational:
			return metrics.OutcomeInformational
		}
		return metrics.OutcomeFatal
	}
	var ae *pdo.AttrError
	var me *params.ErrMissing
	if errors.As(err, &ae) || errors.As(err, &me) {
		return metrics.OutcomeContract
	}
	return metrics.OutcomeTransport
}
