package server

import (
	"context"
	"fmt"
	"reflect"

	"proxygen/pdo"
)

// ProcedureFunc runs one procedure against the caller's parameter container. It reads in
// and in-out attributes and writes out and in-out attributes with Container.Write.
// Returning a *scperr.Error reports the failure to the caller through the OSCA block.
type ProcedureFunc func(ctx context.Context, c *pdo.Container) error

type methodType struct {
	method reflect.Method
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// NewService wraps rcvr and scans it for procedure methods.
func NewService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	srv := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	srv.RegisterMethods()
	if len(srv.method) == 0 {
		return nil, fmt.Errorf("server: %s has no procedure methods", srv.name)
	}
	return srv, nil
}

var (
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
	contextType   = reflect.TypeOf((*context.Context)(nil)).Elem()
	containerType = reflect.TypeOf((*pdo.Container)(nil))
)

// RegisterMethods keeps the exported methods shaped like a ProcedureFunc:
// (receiver, context.Context, *pdo.Container) error.
func (s *service) RegisterMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumIn() != 3 || mt.NumOut() != 1 || mt.Out(0) != errorType ||
			mt.In(1) != contextType || mt.In(2) != containerType {
			continue
		}
		s.method[method.Name] = &methodType{method: method}
	}
}

// procedure binds a scanned method to the receiver.
func (s *service) procedure(mType *methodType) ProcedureFunc {
	return func(ctx context.Context, c *pdo.Container) error {
		args := [3]reflect.Value{s.rcvr, reflect.ValueOf(ctx), reflect.ValueOf(c)}
		results := mType.method.Func.Call(args[:])
		if !results[0].IsNil() {
			return results[0].Interface().(error)
		}
		return nil
	}
}
