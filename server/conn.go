//go:build linux

package server

import (
	"github.com/bytedance/gopkg/lang/mcache"
)

const initialReassemblyCap = 4096

//clientConn per-connection state: the socket descriptor and the growable
//reassembly buffer incoming bytes accumulate in until the head parser
//succeeds. The buffer is mcache-backed and returned on teardown.
type clientConn struct {
	fd  int
	buf []byte
}

func newClientConn(fd int) *clientConn {
	return &clientConn{
		fd:  fd,
		buf: mcache.Malloc(0, initialReassemblyCap),
	}
}

func (c *clientConn) appendBytes(p []byte) {
	if len(c.buf)+len(p) > cap(c.buf) {
		grown := mcache.Malloc(len(c.buf), len(c.buf)+len(p))
		copy(grown, c.buf)
		mcache.Free(c.buf)
		c.buf = grown
	}
	c.buf = append(c.buf, p...)
}

func (c *clientConn) release() {
	if c.buf != nil {
		mcache.Free(c.buf)
		c.buf = nil
	}
}
