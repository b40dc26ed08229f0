// Package crpc implements a minimal CBOR-encoded request/response RPC
// over TCP. Registered services expose methods of the form
// Method(req *Args, res *Reply) error, addressed as "Service.Method".
package crpc

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"io"
	"net"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	log "github.com/sirupsen/logrus"
)

type methodType struct {
	method    reflect.Method
	argType   reflect.Type
	replyType reflect.Type
}

type service struct {
	name    string
	rcvr    reflect.Value
	methods map[string]*methodType
}

type Server struct {
	listener   net.Listener
	serviceMap sync.Map // map[string]*service
}

func NewServer(listener net.Listener) *Server {
	return &Server{
		listener: listener,
	}
}

func (srv *Server) Register(rcvr any) error {
	s := new(service)
	s.rcvr = reflect.ValueOf(rcvr)
	typ := reflect.TypeOf(rcvr)
	sname := reflect.Indirect(s.rcvr).Type().Name()
	if sname == "" || !token.IsExported(sname) {
		err := fmt.Errorf("rpc.Register: invalid service type %s", typ.String())
		log.Error(err)
		return err
	}
	s.name = sname

	s.methods = suitableMethods(typ)
	if len(s.methods) == 0 {
		err := errors.New("rpc.Register: type " + sname + " has no exported methods of suitable type")
		log.Error(err)
		return err
	}

	if _, dup := srv.serviceMap.LoadOrStore(sname, s); dup {
		return errors.New("rpc: service already defined: " + sname)
	}

	for m := range s.methods {
		log.Debugf("rpc.Register: %s.%s", sname, m)
	}

	return nil
}

// Is this type exported or a builtin?
func isExportedOrBuiltinType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	// PkgPath will be non-empty even for an exported type, so we need to check the type name as well.
	return token.IsExported(t.Name()) || t.PkgPath() == ""
}

// suitableMethods returns the methods of typ usable as RPC handlers:
// exported, two pointer arguments, a single error return.
func suitableMethods(typ reflect.Type) map[string]*methodType {
	methods := make(map[string]*methodType)
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		mtype := method.Type
		if !method.IsExported() {
			continue
		}
		if mtype.NumIn() != 3 || mtype.NumOut() != 1 {
			continue
		}
		argType := mtype.In(1)
		replyType := mtype.In(2)
		if !isExportedOrBuiltinType(argType) || replyType.Kind() != reflect.Pointer || !isExportedOrBuiltinType(replyType) {
			log.Errorf("rpc.Register: method %q has unsuitable argument or reply type", method.Name)
			continue
		}
		if mtype.Out(0) != reflect.TypeFor[error]() {
			continue
		}
		methods[method.Name] = &methodType{method: method, argType: argType, replyType: replyType}
	}
	return methods
}

func (srv *Server) Serve(ctx context.Context) error {
	// Closing the listener on context cancellation unblocks Accept.
	go func() {
		<-ctx.Done()
		log.Infof("crpc.Server: context cancelled, closing listener %s", srv.listener.Addr())
		if err := srv.listener.Close(); err != nil {
			log.Warnf("crpc.Server: error closing listener %s: %v", srv.listener.Addr(), err)
		}
	}()

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Infof("crpc.Server: shutting down listener %s", srv.listener.Addr())
				return ctx.Err()
			default:
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Warnf("crpc.Server: Accept error on %s: %v; retrying in %v", srv.listener.Addr(), err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			log.Errorf("crpc.Server: accept error on %s: %v, server stopping", srv.listener.Addr(), err)
			return err
		}

		tempDelay = 0
		log.Debugf("crpc.Server: accepted connection from %s", conn.RemoteAddr())
		go srv.serveConn(ctx, conn)
	}
}

// serveConn handles requests on one connection sequentially until the
// peer goes away or the server context is cancelled.
func (srv *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := cbor.NewDecoder(conn)
	encoder := cbor.NewEncoder(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		req := &RequestHeader{}
		if err := decoder.Decode(req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Debugf("crpc.Server: connection %s closed: %v", conn.RemoteAddr(), err)
			} else {
				log.Errorf("crpc.Server: error decoding request header from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		dot := strings.LastIndex(req.Method, ".")
		if dot < 0 {
			log.Errorf("crpc.Server: service/method request ill-formed: %q from %s", req.Method, conn.RemoteAddr())
			return
		}

		svci, ok := srv.serviceMap.Load(req.Method[:dot])
		if !ok {
			log.Errorf("crpc.Server: can't find service for method %q from %s", req.Method, conn.RemoteAddr())
			return
		}
		svc := svci.(*service)
		mtype := svc.methods[req.Method[dot+1:]]
		if mtype == nil {
			log.Errorf("crpc.Server: can't find method %q from %s", req.Method, conn.RemoteAddr())
			return
		}

		argv := reflect.New(mtype.argType.Elem())
		if err := decoder.Decode(argv.Interface()); err != nil {
			log.Errorf("crpc.Server: error decoding argument for %s from %s: %v", req.Method, conn.RemoteAddr(), err)
			return
		}

		replyv := reflect.New(mtype.replyType.Elem())
		callErr := svc.call(mtype, argv, replyv)

		repl := &ResponseHeader{Seq: req.Seq}
		if callErr != nil {
			repl.Err = callErr.Error()
		}

		if err := encoder.Encode(repl); err != nil {
			log.Errorf("crpc.Server: error encoding response header for %s: %v", req.Method, err)
			return
		}
		if callErr == nil {
			if err := encoder.Encode(replyv.Interface()); err != nil {
				log.Errorf("crpc.Server: error encoding response body for %s: %v", req.Method, err)
				return
			}
		}
	}
}

func (svc *service) call(mtype *methodType, argv, replyv reflect.Value) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("crpc.Server: panic during RPC call %s.%s: %v", svc.name, mtype.method.Name, r)
			err = fmt.Errorf("rpc: internal server error during %s.%s", svc.name, mtype.method.Name)
		}
	}()

	ret := mtype.method.Func.Call([]reflect.Value{svc.rcvr, argv, replyv})
	if e := ret[0].Interface(); e != nil {
		return e.(error)
	}
	return nil
}

// Addr returns the addresses on which the server is reachable. A listener
// bound to a specific IP yields that address; a wildcard listener yields
// the addresses of all active interfaces with the listener's port.
func (srv *Server) Addr() []net.Addr {
	tcpAddr, ok := srv.listener.Addr().(*net.TCPAddr)
	if !ok {
		return []net.Addr{srv.listener.Addr()}
	}

	if !tcpAddr.IP.IsUnspecified() && tcpAddr.IP != nil {
		return []net.Addr{tcpAddr}
	}

	interfaces, err := net.Interfaces()
	if err != nil {
		log.Errorf("crpc.Server.Addr: failed to get network interfaces: %v", err)
		return []net.Addr{tcpAddr}
	}

	var addresses []net.Addr
	for _, iface := range interfaces {
		if (iface.Flags & net.FlagUp) == 0 {
			continue
		}
		ifaddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range ifaddrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			addresses = append(addresses, &net.TCPAddr{IP: ipnet.IP, Port: tcpAddr.Port})
		}
	}

	if len(addresses) == 0 {
		return []net.Addr{tcpAddr}
	}
	return addresses
}
