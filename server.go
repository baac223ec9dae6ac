package rtmp

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/torresjeff/rtmpd/config"
	"go.uber.org/zap"
)

// Server represents the RTMP server, where a client/app can stream media to. The server listens for incoming connections.
type Server struct {
	Addr string
	// Logger defaults to a no-op logger.
	Logger      *zap.Logger
	Broadcaster *Broadcaster
	Config      *config.Config
}

func (s *Server) init() {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if s.Config == nil {
		s.Config = config.Default()
	}
	if s.Addr == "" {
		s.Addr = s.Config.RTMP.Addr
	}
	if s.Addr == "" {
		s.Addr = ":" + config.DefaultPort
	}
	if s.Broadcaster == nil {
		s.Broadcaster = NewBroadcaster(s.Logger, s.Config.RTMP.SubscriberBuffer)
	}
}

// ListenAndServe listens on Addr (":1935" if neither Addr nor the config set one) and serves connections
// until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.init()

	tcpAddress, err := net.ResolveTCPAddr("tcp", s.Addr)
	if err != nil {
		return errors.Errorf("[server] error resolving tcp address: %s", err)
	}
	listener, err := net.ListenTCP("tcp", tcpAddress)
	if err != nil {
		return errors.Wrap(err, "[server] listen")
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on ln and runs a session for each one. When ctx is canceled the listener is
// closed, every session is stopped and Serve returns nil once they have all finished.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.init()
	s.Logger.Info("[server] listening", zap.String("addr", ln.Addr().String()))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.Logger.Info("[server] shutting down")
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.Logger.Warn("[server] error accepting incoming connection", zap.Error(err))
				continue
			}
			ln.Close()
			return errors.Wrap(err, "[server] accept")
		}

		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}(conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	sess := NewSession(s.Logger, conn, s.Broadcaster, s.Config.RTMP)
	logger := s.Logger.With(zap.String("session_id", sess.ID()), zap.String("remote_addr", conn.RemoteAddr().String()))
	logger.Info("[server] accepted incoming connection")

	err := sess.Run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("[server] session ended")
	case IsClientClosed(err), errors.Is(err, ErrPublisherDisconnected):
		logger.Info("[server] session ended", zap.String("reason", err.Error()))
	default:
		logger.Error("[server] session ended with an error", zap.Error(err))
	}
}
