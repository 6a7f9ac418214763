package switcher

import (
	"io"
	"log/slog"
)

// DefaultChunkSize is how many image bytes are read per flash access while
// verifying a checksum.
const DefaultChunkSize = 256

type config struct {
	logger    *slog.Logger
	chunkSize int
}

func defaultConfig() config {
	return config{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		chunkSize: DefaultChunkSize,
	}
}

// Option configures an Image.
type Option func(*config)

// WithLogger sets the logger used for boot decisions.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithChunkSize sets the read size used while streaming an image through
// the checksum. Non-positive sizes are ignored.
func WithChunkSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}
