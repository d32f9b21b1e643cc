//go:build linux

package uring

import (
	"context"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func makeTCPListener(t *testing.T, addr string) (*net.TCPListener, uintptr) {
	var fdescr uintptr

	var listenConfig = net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var err error
			_ = c.Control(func(fd uintptr) {
				if err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					return
				}
				if err = syscall.SetNonblock(int(fd), false); err != nil {
					return
				}
				fdescr = fd
			})
			return err
		},
	}

	conn, err := listenConfig.Listen(context.Background(), "tcp", addr)
	require.NoError(t, err)

	return conn.(*net.TCPListener), fdescr
}

const sendData = "hello world"

//TestAcceptRecvSend accept a connection, read the client's bytes, echo them back.
func TestAcceptRecvSend(t *testing.T) {
	ring, err := New(64)
	require.NoError(t, err)
	defer ring.Close()

	tcpListener, listenerFd := makeTCPListener(t, "127.0.0.1:0")
	defer tcpListener.Close()

	clientConnChan := make(chan net.Conn)
	go func() {
		c, err := net.Dial("tcp", tcpListener.Addr().String())
		require.NoError(t, err)
		clientConnChan <- c
	}()

	require.NoError(t, ring.QueueSQE(Accept(listenerFd, 0), 0, 1))
	_, err = ring.SubmitAndWait(1)
	require.NoError(t, err)

	cqes := make([]*CQEvent, 1)
	require.Equal(t, 1, ring.PeekCQEventBatch(cqes))
	require.NoError(t, cqes[0].Error())
	connFd := uintptr(cqes[0].Res)
	ring.AdvanceCQ(1)

	clientConn := <-clientConnChan
	defer clientConn.Close()

	_, err = clientConn.Write([]byte(sendData))
	require.NoError(t, err)

	readBuff := make([]byte, 128)
	require.NoError(t, ring.QueueSQE(Recv(connFd, readBuff, 0), 0, 2))
	_, err = ring.SubmitAndWait(1)
	require.NoError(t, err)

	require.Equal(t, 1, ring.PeekCQEventBatch(cqes))
	cqe := cqes[0]
	if cqe.Error() == syscall.EINVAL {
		t.Skipf("Skipped, recv not supported on this kernel")
	}
	require.NoError(t, cqe.Error())
	assert.Equal(t, int32(len(sendData)), cqe.Res)
	assert.Equal(t, []byte(sendData), readBuff[:cqe.Res])
	ring.AdvanceCQ(1)

	require.NoError(t, ring.QueueSQE(Send(connFd, readBuff[:cqe.Res], 0), 0, 3))
	_, err = ring.SubmitAndWait(1)
	require.NoError(t, err)

	require.Equal(t, 1, ring.PeekCQEventBatch(cqes))
	require.NoError(t, cqes[0].Error())
	assert.Equal(t, int32(len(sendData)), cqes[0].Res)
	ring.AdvanceCQ(1)

	echo := make([]byte, len(sendData))
	_, err = clientConn.Read(echo)
	require.NoError(t, err)
	assert.Equal(t, sendData, string(echo))

	require.NoError(t, ring.QueueSQE(Close(connFd), 0, 4))
	_, err = ring.SubmitAndWait(1)
	require.NoError(t, err)

	require.Equal(t, 1, ring.PeekCQEventBatch(cqes))
	assert.NoError(t, cqes[0].Error())
	ring.AdvanceCQ(1)
}

//TestAcceptAddr accept must capture the remote sockaddr.
func TestAcceptAddr(t *testing.T) {
	ring, err := New(64)
	require.NoError(t, err)
	defer ring.Close()

	tcpListener, listenerFd := makeTCPListener(t, "127.0.0.1:0")
	defer tcpListener.Close()

	clientConnChan := make(chan net.Conn)
	go func() {
		c, err := net.Dial("tcp", tcpListener.Addr().String())
		require.NoError(t, err)
		clientConnChan <- c
	}()

	op := Accept(listenerFd, 0)
	require.NoError(t, ring.QueueSQE(op, 0, 0))
	_, err = ring.SubmitAndWait(1)
	require.NoError(t, err)

	cqes := make([]*CQEvent, 1)
	require.Equal(t, 1, ring.PeekCQEventBatch(cqes))
	require.NoError(t, cqes[0].Error())
	connFd := cqes[0].Res
	ring.AdvanceCQ(1)

	c := <-clientConnChan
	defer c.Close()
	defer syscall.Close(int(connFd))

	rAddr, err := op.Addr()
	require.NoError(t, err)
	require.Equal(t, c.LocalAddr().String(), rAddr.String())
	require.Equal(t, c.LocalAddr().Network(), rAddr.Network())
}
