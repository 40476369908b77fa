package drone

import (
	"io"
	"log/slog"
)

type settings struct {
	logger  *slog.Logger
	decoder Decoder
}

type Option func(s *settings)

// WithLogger sets the logger; components add their own "worker" attribute.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithDecoder sets the video decoder. The default keeps encoded units only.
func WithDecoder(d Decoder) Option {
	return func(s *settings) {
		s.decoder = d
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		decoder: passthroughDecoder{},
	}

	for _, o := range opts {
		o(&s)
	}

	return s
}

func (s settings) workerLogger(worker string) *slog.Logger {
	return s.logger.With(slog.String("worker", worker))
}
