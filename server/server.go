//go:build linux

//Package server drives the HTTP/1.x request cycle over a single io_uring:
//one thread submits accept/recv/send/close operations, parks in the kernel
//until completions arrive and walks each CQE through the op state machine.
package server

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"syscall"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/kestrel-http/kestrel/pool"
	"github.com/kestrel-http/kestrel/protocol"
	"github.com/kestrel-http/kestrel/uring"
)

//maxReassemblyBytes cap on the per-connection reassembly buffer. A head that
//does not terminate within the cap is answered with 400.
const maxReassemblyBytes = 64 * 1024

//deferredOp a submission that found no room in the SQ (or no free buffer) and
//waits for the next iteration. All four ops land here; recv/send retries
//rebuild their state from the connection table.
type deferredOp struct {
	op  opKind
	fd  int
	bad bool
}

//Server single-threaded io_uring HTTP server.
type Server struct {
	cfg config
	log *logrus.Logger

	ring *uring.Ring
	pool *pool.BufferPool

	conns map[int]*clientConn
	reqs  *requestTable

	deferred *queue.Queue

	listenFd int
	running  uint32
}

//New create a Server. The returned server owns no resources until
//ListenAndServe.
func New(opts ...Option) *Server {
	s := &Server{
		cfg:      defaultConfig(),
		log:      logrus.New(),
		conns:    make(map[int]*clientConn),
		deferred: queue.New(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

//Addr the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.host, s.cfg.port)
}

//ListenAndServe bind the listening socket, set up the ring and the buffer
//pool, then run the event loop until Stop. Setup failures are returned to the
//caller; per-connection faults never are.
func (s *Server) ListenAndServe() error {
	if err := s.setupListener(); err != nil {
		return err
	}

	ring, err := uring.New(s.cfg.queueDepth)
	if err != nil {
		unix.Close(s.listenFd)
		return fmt.Errorf("ring setup: %w", err)
	}
	s.ring = ring

	s.pool = pool.NewBufferPool(s.cfg.bufferCount, s.cfg.bufferSize)
	s.reqs = newRequestTable(s.cfg.queueDepth)

	atomic.StoreUint32(&s.running, 1)

	s.log.WithFields(logrus.Fields{
		"addr":        s.Addr(),
		"queue_depth": s.cfg.queueDepth,
		"buffers":     s.cfg.bufferCount,
	}).Info("listening")

	if !s.postAccept() {
		return errors.New("failed to queue initial accept")
	}

	return s.loop()
}

func (s *Server) setupListener() error {
	ip := net.ParseIP(s.cfg.host).To4()
	if ip == nil {
		return fmt.Errorf("listen host %q is not an IPv4 address", s.cfg.host)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("setsockopt: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: int(s.cfg.port)}
	copy(addr.Addr[:], ip)

	if err = unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("bind %s: %w", s.Addr(), err)
	}

	if err = unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return fmt.Errorf("listen: %w", err)
	}

	s.listenFd = fd
	return nil
}

func (s *Server) isRunning() bool {
	return atomic.LoadUint32(&s.running) == 1
}

//Stop request shutdown. Wakes the parked enter call with one throwaway
//connection, then closes the listening socket; in-flight operations complete
//normally and the loop exits at the top of the next iteration.
func (s *Server) Stop() {
	if atomic.CompareAndSwapUint32(&s.running, 1, 0) {
		// A pending io_uring accept holds its own reference to the listening
		// socket, so closing the fd alone does not wake the parked loop. One
		// throwaway connection completes the accept; the loop then observes
		// the cleared running flag and exits.
		if c, err := net.Dial("tcp", s.Addr()); err == nil {
			c.Close()
		}
		unix.Close(s.listenFd)
	}
}

//Close release surviving connections, the ring and the pool. Call after the
//loop has returned.
func (s *Server) Close() error {
	for fd, conn := range s.conns {
		conn.release()
		unix.Close(fd)
		delete(s.conns, fd)
	}

	if s.ring != nil {
		err := s.ring.Close()
		s.ring = nil
		return err
	}
	return nil
}

func (s *Server) loop() error {
	cqes := make([]*uring.CQEvent, s.cfg.queueDepth)

	for s.isRunning() {
		s.retryDeferred()

		_, err := s.ring.SubmitAndWait(1)
		if err != nil {
			if errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EBUSY) {
				continue
			}
			if !s.isRunning() {
				break
			}
			return fmt.Errorf("ring enter: %w", err)
		}

		n := s.ring.PeekCQEventBatch(cqes)
		for i := 0; i < n; i++ {
			s.dispatch(cqes[i])
		}
		s.ring.AdvanceCQ(uint32(n))

		if _, err := s.ring.Submit(); err != nil {
			s.log.WithError(err).Warn("flush submit failed")
		}
	}

	s.log.Info("event loop stopped")
	return nil
}

//retryDeferred re-queue submissions that found no SQ room previously. Each
//entry is attempted once per iteration; failures go back to the queue.
func (s *Server) retryDeferred() {
	for n := s.deferred.Length(); n > 0; n-- {
		d := s.deferred.Remove().(deferredOp)

		var ok bool
		switch d.op {
		case opAccept:
			ok = s.postAccept()
		case opClose:
			ok = s.postClose(d.fd)
		case opRecv:
			ok = s.postRecv(d.fd)
		case opSend:
			ok = s.postResponse(d.fd, d.bad)
		}

		if !ok {
			s.deferred.Add(d)
		}
	}
}

func (s *Server) dispatch(cqe *uring.CQEvent) {
	if cqe.UserData == 0 {
		s.log.Warn("completion without request cookie")
		return
	}

	req := *s.reqs.get(cqe.UserData)
	s.reqs.release(cqe.UserData)

	if cqe.Res < 0 {
		errno := syscall.Errno(uintptr(-cqe.Res))
		s.log.WithFields(logrus.Fields{
			"op":    req.op.String(),
			"fd":    req.fd,
			"errno": errno.Error(),
		}).Warn("operation failed")

		if req.op == opRecv || req.op == opSend {
			s.pool.Release(req.bufferIdx)
		}
		if _, ok := s.conns[req.fd]; ok {
			if !s.postClose(req.fd) {
				s.deferred.Add(deferredOp{op: opClose, fd: req.fd})
			}
		}
		if req.op == opAccept && s.isRunning() {
			if !s.postAccept() {
				s.deferred.Add(deferredOp{op: opAccept})
			}
		}
		return
	}

	switch req.op {
	case opAccept:
		s.handleAccept(&req, int(cqe.Res))
	case opRecv:
		s.handleRecv(&req, int(cqe.Res))
	case opSend:
		s.handleSend(&req)
	case opClose:
		s.handleClose(req.fd)
	}
}

func (s *Server) handleAccept(req *ioRequest, clientFd int) {
	if s.log.IsLevelEnabled(logrus.DebugLevel) {
		if peer, err := req.accept.Addr(); err == nil {
			s.log.WithFields(logrus.Fields{"fd": clientFd, "peer": peer.String()}).Debug("accepted")
		}
	}

	s.conns[clientFd] = newClientConn(clientFd)

	if !s.postRecv(clientFd) {
		s.deferred.Add(deferredOp{op: opRecv, fd: clientFd})
	}

	if s.isRunning() {
		if !s.postAccept() {
			s.deferred.Add(deferredOp{op: opAccept})
		}
	}
}

func (s *Server) handleRecv(req *ioRequest, n int) {
	conn, ok := s.conns[req.fd]
	if !ok {
		s.pool.Release(req.bufferIdx)
		return
	}

	if n == 0 {
		// peer closed
		s.pool.Release(req.bufferIdx)
		s.dropConn(req.fd, conn)
		if !s.postClose(req.fd) {
			s.deferred.Add(deferredOp{op: opClose, fd: req.fd})
		}
		return
	}

	conn.appendBytes(s.pool.Slot(req.bufferIdx)[:n])
	s.pool.Release(req.bufferIdx)

	_, err := protocol.Parse(conn.buf)
	switch {
	case errors.Is(err, protocol.ErrIncomplete):
		if len(conn.buf) > maxReassemblyBytes {
			if !s.postResponse(req.fd, true) {
				s.deferred.Add(deferredOp{op: opSend, fd: req.fd, bad: true})
			}
			return
		}
		if !s.postRecv(req.fd) {
			s.deferred.Add(deferredOp{op: opRecv, fd: req.fd})
		}
	case err != nil:
		s.log.WithFields(logrus.Fields{"fd": req.fd, "err": err.Error()}).Info("bad request")
		if !s.postResponse(req.fd, true) {
			s.deferred.Add(deferredOp{op: opSend, fd: req.fd, bad: true})
		}
	default:
		if !s.postResponse(req.fd, false) {
			s.deferred.Add(deferredOp{op: opSend, fd: req.fd, bad: false})
		}
	}
}

func (s *Server) handleSend(req *ioRequest) {
	s.pool.Release(req.bufferIdx)

	if conn, ok := s.conns[req.fd]; ok {
		s.dropConn(req.fd, conn)
	}
	if !s.postClose(req.fd) {
		s.deferred.Add(deferredOp{op: opClose, fd: req.fd})
	}
}

//handleClose idempotent: the entry is usually gone by the time close completes.
func (s *Server) handleClose(fd int) {
	if conn, ok := s.conns[fd]; ok {
		s.dropConn(fd, conn)
	}
}

func (s *Server) dropConn(fd int, conn *clientConn) {
	conn.release()
	delete(s.conns, fd)
}

//postAccept queue an accept on the listening socket. The op record is pinned
//by the request table because the kernel writes the peer sockaddr into it.
func (s *Server) postAccept() bool {
	op := uring.Accept(uintptr(s.listenFd), 0)

	cookie, req := s.reqs.alloc(opAccept, s.listenFd)
	req.accept = op

	if err := s.ring.QueueSQE(op, 0, cookie); err != nil {
		s.reqs.release(cookie)
		s.log.WithError(err).Debug("accept submission dropped")
		return false
	}
	return true
}

func (s *Server) postRecv(fd int) bool {
	if _, ok := s.conns[fd]; !ok {
		return true
	}

	idx, ok := s.pool.Acquire()
	if !ok {
		s.log.WithField("fd", fd).Debug("recv dropped, buffer pool exhausted")
		return false
	}

	cookie, req := s.reqs.alloc(opRecv, fd)
	req.bufferIdx = idx

	if err := s.ring.QueueSQE(uring.Recv(uintptr(fd), s.pool.Slot(idx), 0), 0, cookie); err != nil {
		s.reqs.release(cookie)
		s.pool.Release(idx)
		s.log.WithError(err).Debug("recv submission dropped")
		return false
	}
	return true
}

//postResponse queue the answer for fd: the 400 wire form when bad, otherwise
//the JSON echo rebuilt from the connection's reassembly buffer.
func (s *Server) postResponse(fd int, bad bool) bool {
	conn, ok := s.conns[fd]
	if !ok {
		return true
	}

	idx, free := s.pool.Acquire()
	if !free {
		s.log.WithField("fd", fd).Debug("send dropped, buffer pool exhausted")
		return false
	}

	payload := s.pool.Slot(idx)[:0]
	if !bad {
		parsed, err := protocol.Parse(conn.buf)
		if err == nil {
			payload, err = protocol.AppendEchoResponse(payload, parsed, conn.buf)
		}
		if err != nil {
			bad = true
			payload = payload[:0]
		}
	}
	if bad {
		payload = append(payload, protocol.BadRequestResponse...)
	}

	cookie, req := s.reqs.alloc(opSend, fd)
	req.bufferIdx = idx
	req.payload = payload

	if err := s.ring.QueueSQE(uring.Send(uintptr(fd), payload, 0), 0, cookie); err != nil {
		s.reqs.release(cookie)
		s.pool.Release(idx)
		s.log.WithError(err).Debug("send submission dropped")
		return false
	}
	return true
}

func (s *Server) postClose(fd int) bool {
	cookie, _ := s.reqs.alloc(opClose, fd)

	if err := s.ring.QueueSQE(uring.Close(uintptr(fd)), 0, cookie); err != nil {
		s.reqs.release(cookie)
		s.log.WithError(err).Debug("close submission dropped")
		return false
	}
	return true
}
