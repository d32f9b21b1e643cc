//go:build linux

package server

import (
	"github.com/sirupsen/logrus"

	"github.com/kestrel-http/kestrel/pool"
)

const (
	DefaultHost       = "127.0.0.1"
	DefaultPort       = 8080
	DefaultQueueDepth = 256

	listenBacklog = 512
)

type config struct {
	host        string
	port        uint16
	queueDepth  uint32
	bufferSize  uint32
	bufferCount uint32
}

//Option customizes server initialization.
type Option func(*Server)

//WithAddr set the listen host and port.
func WithAddr(host string, port uint16) Option {
	return func(s *Server) {
		s.cfg.host = host
		s.cfg.port = port
	}
}

//WithQueueDepth set the io_uring submission queue depth.
func WithQueueDepth(entries uint32) Option {
	return func(s *Server) {
		s.cfg.queueDepth = entries
	}
}

//WithBufferSize set the length of each pool buffer.
func WithBufferSize(size uint32) Option {
	return func(s *Server) {
		s.cfg.bufferSize = size
	}
}

//WithBufferCount set the number of pool buffers.
func WithBufferCount(count uint32) Option {
	return func(s *Server) {
		s.cfg.bufferCount = count
	}
}

//WithLogger replace the default logger.
func WithLogger(log *logrus.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

func defaultConfig() config {
	return config{
		host:        DefaultHost,
		port:        DefaultPort,
		queueDepth:  DefaultQueueDepth,
		bufferSize:  pool.DefaultBufferSize,
		bufferCount: pool.DefaultBufferCount,
	}
}
