package server

import (
	"context"
	"fmt"
	"reflect"

	"interop-rpc/message"
)

type methodType struct {
	method    reflect.Method
	hasCtx    bool // first argument after the receiver is a context.Context
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	messageType = reflect.TypeOf((*message.Message)(nil)).Elem()
)

// NewService builds a service named after the receiver's type and scans its methods.
func NewService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	return newService(typ.Elem().Name(), rcvr)
}

func newService(name string, rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %T", rcvr)
	}
	srv := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	srv.RegisterMethods()
	if len(srv.method) == 0 {
		return nil, fmt.Errorf("rpc: type %s has no exported methods of suitable type", typ)
	}
	return srv, nil
}

// RegisterMethods keeps the exported methods shaped like either of
//
//	func (r *T) Method(args *Args, reply *Reply) error
//	func (r *T) Method(ctx context.Context, args *Args, reply *Reply) error
//
// where *Args and *Reply implement message.Message.
func (s *service) RegisterMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}

		first := 1
		hasCtx := false
		switch {
		case mt.NumIn() == 4 && mt.In(1) == contextType:
			first, hasCtx = 2, true
		case mt.NumIn() == 3:
		default:
			continue
		}
		argT, replyT := mt.In(first), mt.In(first+1)
		if argT.Kind() != reflect.Ptr || replyT.Kind() != reflect.Ptr ||
			!argT.Implements(messageType) || !replyT.Implements(messageType) {
			continue
		}

		s.method[method.Name] = &methodType{
			method:    method,
			hasCtx:    hasCtx,
			ArgType:   argT.Elem(),
			ReplyType: replyT.Elem(),
		}
	}
}

// Call invokes the method via reflection.
func (s *service) Call(ctx context.Context, mType *methodType, argv, replyv reflect.Value) error {
	var args []reflect.Value
	if mType.hasCtx {
		args = []reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv}
	} else {
		args = []reflect.Value{s.rcvr, argv, replyv}
	}
	results := mType.method.Func.Call(args)
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}
