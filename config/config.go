package config

import (
	"errors"
	"time"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Worker pool controls.
	WorkerCount int // default: runtime.NumCPU()
	QueueSize   int // max queued jobs before backpressure; default: 256
	JobTimeout  time.Duration

	// Streaming.
	ChunkSize     int // bytes the Processor feeds per read; default 32 KiB
	ReadChunkSize int // bytes a session pulls from its ByteSource per refill; default 4 KiB

	// Limits.  0 disables a limit.
	MaxImageBytes        int64 // decoded pixel buffer cap
	MaxDecompressedBytes int64 // inflated PNG image data cap
	MaxChunkBytes        int   // largest PNG ancillary chunk buffered whole

	// VerifyChecksums enables PNG chunk CRC-32 verification.
	VerifyChecksums bool

	// Logging.
	LogLevel string // "debug", "info", "warn", "error"
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		WorkerCount:     0, // resolved at runtime to NumCPU
		QueueSize:       256,
		JobTimeout:      30 * time.Second,
		ChunkSize:       32 * 1024,
		ReadChunkSize:   4 * 1024,
		MaxImageBytes:   256 << 20,
		MaxChunkBytes:   16 << 20,
		VerifyChecksums: true,
		LogLevel:        "info",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.ChunkSize <= 0 {
		return errors.New("config: ChunkSize must be positive")
	}
	if c.ReadChunkSize <= 0 {
		return errors.New("config: ReadChunkSize must be positive")
	}
	if c.MaxImageBytes < 0 || c.MaxDecompressedBytes < 0 || c.MaxChunkBytes < 0 {
		return errors.New("config: limits must not be negative")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.New("config: LogLevel must be one of debug, info, warn, error")
	}
	return nil
}
