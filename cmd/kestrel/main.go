//go:build linux

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/kestrel-http/kestrel/server"
)

var (
	host        = flag.String("host", server.DefaultHost, "listen host")
	port        = flag.Uint("port", server.DefaultPort, "listen port")
	queueDepth  = flag.Uint("queue-depth", server.DefaultQueueDepth, "io_uring submission queue depth")
	bufferSize  = flag.Uint("buffer-size", 16*1024, "pool buffer size in bytes")
	bufferCount = flag.Uint("buffer-count", 1024, "pool buffer count")
	debug       = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	srv := server.New(
		server.WithAddr(*host, uint16(*port)),
		server.WithQueueDepth(uint32(*queueDepth)),
		server.WithBufferSize(uint32(*bufferSize)),
		server.WithBufferCount(uint32(*bufferCount)),
		server.WithLogger(log),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithField("signal", sig.String()).Info("shutting down")
		srv.Stop()
	}()

	err := srv.ListenAndServe()
	if cErr := srv.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		log.WithError(err).Fatal("server failed")
	}
}
