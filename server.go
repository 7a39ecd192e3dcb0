package jsonrpc2

import (
	"context"
	"io"

	"github.com/rs/zerolog"
)

// Listener is where server connections come from.
type Listener interface {
	// Accept an inbound connection. It must block until an inbound
	// connection is made, or the listener is shut down.
	Accept(context.Context) (io.ReadWriteCloser, error)

	// Close asks the listener to stop accepting new connections.
	Close() error
}

// Server accepts transports from a Listener and runs one engine Connection
// per transport, all sharing the options' handlers.
type Server struct {
	listen  Listener
	options ConnectionOptions
	log     zerolog.Logger
}

func NewServer(listener Listener, options ConnectionOptions, log zerolog.Logger) (*Server, error) {
	if options.Handler == nil && options.Notifier == nil {
		router := NewRouter()
		options.Handler = router
		options.Notifier = router
	}
	return &Server{
		listen:  listener,
		options: options,
		log:     log.With().Str("name", "server").Logger(),
	}, nil
}

// Run blocks accepting connections until the listener fails or ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	if r, ok := s.options.Handler.(*Router); ok {
		r.Start()
	}
	for {
		conn, err := s.listen.Accept(ctx)
		if err != nil {
			return err
		}
		s.log.Debug().Msg("received new connection")
		if _, err := NewConnection(context.WithoutCancel(ctx), conn, s.options, s.log); err != nil {
			return err
		}
	}
}
