// Package transport owns the three TCP listeners spec.md §4.A describes
// (node, local-service, client) and the per-connection accept loop that
// wraps each socket in a session.Session and hands it to the matching
// Dispatcher. Grounded on internal/api/server.go's http.Server-lifecycle
// shape (explicit listen/serve/shutdown, context-driven), generalized
// from one HTTP mux to three raw TCP accept loops.
package transport

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BasicAcid/locnet/internal/model"
	"github.com/BasicAcid/locnet/internal/overlay"
	"github.com/BasicAcid/locnet/internal/reactor"
	"github.com/BasicAcid/locnet/internal/session"
	"github.com/BasicAcid/locnet/internal/xerrors"
)

// ListenConfig names the three ports spec.md §6 requires a node to
// configure independently.
type ListenConfig struct {
	NodePort    int
	LocalPort   int
	ClientPort  int
	BindAddress string
}

// Server runs the three accept loops for one overlay Engine.
type Server struct {
	engine  *overlay.Engine
	reactor *reactor.Reactor
	log     *zap.Logger

	nodeLn   net.Listener
	localLn  net.Listener
	clientLn net.Listener

	wg sync.WaitGroup
}

// Listen opens all three listeners without yet accepting connections.
func Listen(cfg ListenConfig, engine *overlay.Engine, r *reactor.Reactor, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nodeLn, err := net.Listen("tcp", net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.NodePort)))
	if err != nil {
		return nil, xerrors.Transport.Wrap(err)
	}
	localLn, err := net.Listen("tcp", net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.LocalPort)))
	if err != nil {
		nodeLn.Close()
		return nil, xerrors.Transport.Wrap(err)
	}
	clientLn, err := net.Listen("tcp", net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.ClientPort)))
	if err != nil {
		nodeLn.Close()
		localLn.Close()
		return nil, xerrors.Transport.Wrap(err)
	}
	return &Server{
		engine:   engine,
		reactor:  r,
		log:      log.With(zap.String("component", "transport")),
		nodeLn:   nodeLn,
		localLn:  localLn,
		clientLn: clientLn,
	}, nil
}

// Serve runs all three accept loops until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) {
	s.wg.Add(3)
	go s.acceptLoop(ctx, s.nodeLn, "node", func(sess *session.Session) session.Dispatcher {
		return &session.NodeDispatcher{Handler: s.engine, Log: s.log}
	})
	go s.acceptLoop(ctx, s.localLn, "local", func(sess *session.Session) session.Dispatcher {
		return &session.LocalServiceDispatcher{Handler: s.engine, Reactor: s.reactor, Log: s.log}
	})
	go s.acceptLoop(ctx, s.clientLn, "client", func(sess *session.Session) session.Dispatcher {
		return &session.ClientDispatcher{Handler: s.engine}
	})
	<-ctx.Done()
	s.nodeLn.Close()
	s.localLn.Close()
	s.clientLn.Close()
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, name string, dispatcherFor func(*session.Session) session.Dispatcher) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.log.Warn("accept failed", zap.String("listener", name), zap.Error(err))
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		sess := session.New(conn, s.log)
		go func() {
			defer conn.Close()
			session.RunLoop(sess, dispatcherFor(sess), s.log)
		}()
	}
}

// Close tears down all three listeners immediately.
func (s *Server) Close() error {
	s.nodeLn.Close()
	s.localLn.Close()
	s.clientLn.Close()
	return nil
}

// Dialer is the overlay.Dialer implementation backing outbound node-to-node
// connections: plain TCP with a bounded connect timeout.
type Dialer struct {
	SelfPort    uint16
	DetectedIP  overlay.DetectedIPCallback
	DialTimeout time.Duration
	Log         *zap.Logger
}

func (d *Dialer) Dial(ctx context.Context, target model.NetworkInterface) (overlay.RemoteNode, error) {
	timeout := d.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.String())
	if err != nil {
		return nil, xerrors.Transport.Wrap(err)
	}
	return overlay.NewProxy(conn, d.SelfPort, d.DetectedIP, d.Log), nil
}
