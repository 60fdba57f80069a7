// Package server implements the RPC server with service registration, middleware chain,
// parallel request processing, streaming calls, and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → Request:    go handleRequest → Middleware Chain → businessHandler (reflect.Call) → write Response
//	  → StreamOpen: go runStream → Stream Middleware Chain → StreamHandler → write StreamClose
//	  → StreamMsg / StreamClose: routed to the open stream's inbox by Seq
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"interop-rpc/codec"
	"interop-rpc/message"
	"interop-rpc/middleware"
	"interop-rpc/protocol"
	"interop-rpc/registry"
)

// RegistryTTL is the lease, in seconds, attached to every registry entry.
const RegistryTTL int64 = 10

var (
	// ErrShutdownTimeout is returned by Shutdown when in-flight calls outlive the timeout.
	ErrShutdownTimeout = errors.New("server: timeout waiting for ongoing requests to finish")
	// ErrShuttingDown is the error sent for calls and streams that arrive after Shutdown began.
	ErrShuttingDown = errors.New("server: shutting down")
)

// Server is the RPC server that registers services and handles incoming requests.
type Server struct {
	serviceMap map[string]*service      // Registered services: "TestService" → *service
	streams    map[string]StreamHandler // "TestService.FullDuplexCall" → handler

	middlewares       []middleware.Middleware
	streamMiddlewares []middleware.StreamMiddleware
	handler           middleware.HandlerFunc // middleware(middleware(...(businessHandler)))

	log       *zap.Logger
	tlsConfig *tls.Config

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}

	wg       sync.WaitGroup // Tracks in-flight calls for graceful shutdown; Add only under mu
	shutdown atomic.Bool    // Set under mu when Shutdown begins

	registry      registry.Registry // nil if not using discovery
	advertiseAddr string            // Address registered in etcd, routable unlike ":8080"
}

// NewServer creates a new RPC server with an empty service map.
func NewServer() *Server {
	return &Server{
		serviceMap: make(map[string]*service),
		streams:    make(map[string]StreamHandler),
		conns:      make(map[net.Conn]struct{}),
		log:        zap.NewNop(),
	}
}

// SetLogger replaces the server's logger. A nil logger disables logging.
func (svr *Server) SetLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	svr.log = log
}

// SetTLSConfig makes Serve wrap its listener with TLS.
func (svr *Server) SetTLSConfig(c *tls.Config) {
	svr.tlsConfig = c
}

// Register registers a service receiver under its type name.
// The struct's exported methods that match the RPC signature will be available for remote calls.
func (svr *Server) Register(rcvr any) error {
	svc, err := NewService(rcvr)
	if err != nil {
		return err
	}
	svr.serviceMap[svc.name] = svc
	return nil
}

// RegisterName registers a service receiver under an explicit service name.
func (svr *Server) RegisterName(name string, rcvr any) error {
	if name == "" {
		return fmt.Errorf("rpc: empty service name for %T", rcvr)
	}
	svc, err := newService(name, rcvr)
	if err != nil {
		return err
	}
	svr.serviceMap[name] = svc
	return nil
}

// RegisterStream binds a streaming handler to a "Service.Method" name.
func (svr *Server) RegisterStream(serviceMethod string, h StreamHandler) error {
	if _, _, ok := splitServiceMethod(serviceMethod); !ok {
		return fmt.Errorf("rpc: invalid stream method %q", serviceMethod)
	}
	if h == nil {
		return fmt.Errorf("rpc: nil handler for %s", serviceMethod)
	}
	if _, dup := svr.streams[serviceMethod]; dup {
		return fmt.Errorf("rpc: stream method already registered: %s", serviceMethod)
	}
	svr.streams[serviceMethod] = h
	return nil
}

// Use registers a unary middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// UseStream registers a stream middleware.
func (svr *Server) UseStream(mw middleware.StreamMiddleware) {
	svr.streamMiddlewares = append(svr.streamMiddlewares, mw)
}

// Serve listens on the given address and serves until Shutdown.
//
// Parameters:
//   - advertiseAddr: the address to register in etcd (e.g., "127.0.0.1:8080").
//     This differs from the listen address because ":8080" resolves to "[::]:8080" locally.
//   - reg: the registry implementation. Pass nil to skip service discovery.
func (svr *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener serves connections accepted from l. If a TLS config is set, l is wrapped.
func (svr *Server) ServeListener(l net.Listener, advertiseAddr string, reg registry.Registry) error {
	if svr.tlsConfig != nil {
		l = tls.NewListener(l, svr.tlsConfig)
	}
	svr.mu.Lock()
	svr.listener = l
	svr.mu.Unlock()

	// Chain(A, B, C)(handler) → A(B(C(handler))), built once at startup
	svr.handler = middleware.Chain(svr.middlewares...)(svr.businessHandler)

	svr.advertiseAddr = advertiseAddr
	if reg != nil {
		svr.registry = reg
		for _, name := range svr.serviceNames() {
			inst := registry.ServiceInstance{Addr: advertiseAddr, Weight: 1}
			if err := reg.Register(context.Background(), name, inst, RegistryTTL); err != nil {
				l.Close()
				return fmt.Errorf("server: register %s: %w", name, err)
			}
			svr.log.Info("registered service", zap.String("service", name), zap.String("addr", advertiseAddr))
		}
	}

	svr.log.Info("serving", zap.Stringer("addr", l.Addr()), zap.Bool("tls", svr.tlsConfig != nil))
	for {
		conn, err := l.Accept()
		if err != nil {
			// listener.Close() during shutdown makes Accept fail
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// Addr returns the listening address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// serviceNames lists every service with at least one unary or stream method.
func (svr *Server) serviceNames() []string {
	set := make(map[string]struct{})
	for name := range svr.serviceMap {
		set[name] = struct{}{}
	}
	for method := range svr.streams {
		name, _, _ := splitServiceMethod(method)
		set[name] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// connWriter serializes frame writes from all calls on one connection.
type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
}

func (w *connWriter) write(h protocol.Header, env *message.RPCMessage) error {
	body, err := codec.GetCodec(codec.CodecType(h.CodecType)).Encode(env)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return protocol.Encode(w.conn, &h, body)
}

func (svr *Server) trackConn(conn net.Conn, add bool) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if add {
		svr.conns[conn] = struct{}{}
	} else {
		delete(svr.conns, conn)
	}
}

// handleConn processes a single connection.
// It runs a read loop in a single goroutine (reads must be sequential to parse frame boundaries),
// but dispatches each call to its own goroutine for parallel processing.
func (svr *Server) handleConn(conn net.Conn) {
	svr.trackConn(conn, true)
	ctx, cancel := context.WithCancel(context.Background())
	w := &connWriter{conn: conn}
	streams := &streamTable{m: make(map[uint32]*ServerStream)}
	log := svr.log.With(zap.Stringer("remote", conn.RemoteAddr()))

	defer func() {
		cancel()
		streams.closeAll()
		svr.trackConn(conn, false)
		conn.Close()
	}()

	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !isEOF(err) {
				log.Debug("connection read failed", zap.Error(err))
			}
			return
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		env := &message.RPCMessage{}
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, env); err != nil {
			log.Warn("bad envelope", zap.Stringer("type", header.MsgType), zap.Uint32("seq", header.Seq), zap.Error(err))
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeRequest:
			// Add before the goroutine starts so Shutdown's Wait cannot miss it
			if !svr.track() {
				svr.refuseRequest(*header, env, w)
				continue
			}
			go svr.handleRequest(ctx, *header, env, w)
		case protocol.MsgTypeStreamOpen:
			svr.openStream(ctx, *header, env, w, streams, log)
		case protocol.MsgTypeStreamMsg:
			if s := streams.get(header.Seq); s != nil {
				s.push(env.Payload)
			}
		case protocol.MsgTypeStreamClose:
			if s := streams.get(header.Seq); s != nil {
				s.closeRecv()
			}
		default:
			log.Debug("unexpected frame", zap.Stringer("type", header.MsgType), zap.Uint32("seq", header.Seq))
		}
	}
}

// track counts one more in-flight call. It reports false once Shutdown has begun,
// so no Add can race Shutdown's Wait.
func (svr *Server) track() bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.wg.Add(1)
	return true
}

func (svr *Server) refuseRequest(header protocol.Header, req *message.RPCMessage, w *connWriter) {
	reply := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Flags:     header.Flags & protocol.FlagCompressed,
		Seq:       header.Seq,
	}
	if err := w.write(reply, &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: ErrShuttingDown.Error()}); err != nil {
		svr.log.Debug("write refusal failed", zap.String("method", req.ServiceMethod), zap.Error(err))
	}
}

// handleRequest processes a single unary call: middleware → business logic → write response.
// The response mirrors the request's codec, sequence number and compression flag.
func (svr *Server) handleRequest(ctx context.Context, header protocol.Header, req *message.RPCMessage, w *connWriter) {
	defer svr.wg.Done()

	resp := svr.handler(ctx, req)
	if resp.ServiceMethod == "" {
		resp.ServiceMethod = req.ServiceMethod
	}

	reply := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Flags:     header.Flags & protocol.FlagCompressed,
		Seq:       header.Seq,
	}
	err := w.write(reply, resp)
	if errors.Is(err, protocol.ErrBodyTooLarge) {
		// the caller still gets an answer for its Seq
		svr.log.Warn("response too large", zap.String("method", req.ServiceMethod), zap.Error(err))
		err = w.write(reply, &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: "rpc: encode reply: " + err.Error()})
	}
	if err != nil {
		svr.log.Warn("write response failed", zap.String("method", req.ServiceMethod), zap.Error(err))
	}
}

func (svr *Server) openStream(ctx context.Context, header protocol.Header, env *message.RPCMessage, w *connWriter, streams *streamTable, log *zap.Logger) {
	closeHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeStreamClose,
		Flags:     header.Flags & protocol.FlagCompressed,
		Seq:       header.Seq,
	}
	h, ok := svr.streams[env.ServiceMethod]
	if !ok {
		msg := fmt.Sprintf("rpc: can't find stream method %s", env.ServiceMethod)
		if err := w.write(closeHeader, &message.RPCMessage{ServiceMethod: env.ServiceMethod, Error: msg}); err != nil {
			log.Warn("write stream close failed", zap.Error(err))
		}
		return
	}

	if !svr.track() {
		if err := w.write(closeHeader, &message.RPCMessage{ServiceMethod: env.ServiceMethod, Error: ErrShuttingDown.Error()}); err != nil {
			log.Debug("write stream close failed", zap.Error(err))
		}
		return
	}
	s := newServerStream(ctx, env.ServiceMethod, header, w)
	streams.put(s)
	go svr.runStream(s, h, streams, closeHeader)
}

func (svr *Server) runStream(s *ServerStream, h StreamHandler, streams *streamTable, closeHeader protocol.Header) {
	defer svr.wg.Done()
	defer streams.remove(s.seq)
	defer s.cancel()

	run := middleware.ChainStream(svr.streamMiddlewares...)(func(ctx context.Context, serviceMethod string) error {
		s.ctx = ctx
		return svr.callStream(s, h)
	})
	err := run(s.ctx, s.method)

	end := &message.RPCMessage{ServiceMethod: s.method}
	if err != nil {
		end.Error = err.Error()
	}
	if werr := s.w.write(closeHeader, end); werr != nil {
		svr.log.Warn("write stream close failed", zap.String("method", s.method), zap.Error(werr))
	}
}

func (svr *Server) callStream(s *ServerStream, h StreamHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			svr.log.Error("stream handler panicked", zap.String("method", s.method), zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("rpc: %s panicked: %v", s.method, r)
		}
	}()
	return h(s)
}

// Shutdown performs graceful shutdown:
//  1. Deregister all services from the registry (clients stop routing to this server)
//  2. Set shutdown flag (Accept errors become intentional, new calls and streams are refused)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight calls to finish (with timeout)
//  5. Close the remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		for _, name := range svr.serviceNames() {
			if err := svr.registry.Deregister(ctx, name, svr.advertiseAddr); err != nil {
				svr.log.Warn("deregister failed", zap.String("service", name), zap.Error(err))
			}
		}
		cancel()
	}

	svr.mu.Lock()
	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}
	svr.mu.Unlock()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = ErrShutdownTimeout
	}

	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	return err
}

// businessHandler is the core handler that dispatches unary calls to registered services.
// It is wrapped by the middleware chain and has the HandlerFunc signature.
//
// Flow: parse "Service.Method" → find service → find method → reflect.New(args) →
// args.Unmarshal(payload) → reflect.Call → reply.Marshal() → return RPCMessage
func (svr *Server) businessHandler(ctx context.Context, req *message.RPCMessage) (resp *message.RPCMessage) {
	serviceName, methodName, ok := splitServiceMethod(req.ServiceMethod)
	if !ok {
		return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: "rpc: invalid service method format: " + req.ServiceMethod}
	}
	svc := svr.serviceMap[serviceName]
	if svc == nil {
		return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: "rpc: can't find service " + serviceName}
	}
	mtype := svc.method[methodName]
	if mtype == nil {
		return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: "rpc: can't find method " + req.ServiceMethod}
	}

	argv := reflect.New(mtype.ArgType)
	replyv := reflect.New(mtype.ReplyType)
	if err := argv.Interface().(message.Message).Unmarshal(req.Payload); err != nil {
		return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: "rpc: decode args: " + err.Error()}
	}

	defer func() {
		if r := recover(); r != nil {
			svr.log.Error("handler panicked", zap.String("method", req.ServiceMethod), zap.Any("panic", r), zap.Stack("stack"))
			resp = &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: fmt.Sprintf("rpc: %s panicked: %v", req.ServiceMethod, r)}
		}
	}()

	if err := svc.Call(ctx, mtype, argv, replyv); err != nil {
		return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: err.Error()}
	}
	payload, err := replyv.Interface().(message.Message).Marshal()
	if err != nil {
		return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Error: "rpc: encode reply: " + err.Error()}
	}
	return &message.RPCMessage{ServiceMethod: req.ServiceMethod, Payload: payload}
}

// splitServiceMethod splits at the last dot so package-qualified service names survive.
func splitServiceMethod(serviceMethod string) (service, method string, ok bool) {
	i := strings.LastIndex(serviceMethod, ".")
	if i <= 0 || i == len(serviceMethod)-1 {
		return "", "", false
	}
	return serviceMethod[:i], serviceMethod[i+1:], true
}
