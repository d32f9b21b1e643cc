//go:build linux

package uring

import (
	"errors"
	"net"
	"syscall"
	"unsafe"

	sockaddr "github.com/libp2p/go-sockaddr"
	"golang.org/x/sys/unix"
)

//OpCode io_uring opcode.
type OpCode uint8

const (
	opNop    OpCode = 0
	opReadV  OpCode = 1
	opWriteV OpCode = 2
	opAccept OpCode = 13
	opClose  OpCode = 19
	opSend   OpCode = 26
	opRecv   OpCode = 27
)

//Exported codes for operations the server loop dispatches on.
const (
	NopCode    = opNop
	ReadVCode  = opReadV
	WriteVCode = opWriteV
	AcceptCode = opAccept
	CloseCode  = opClose
	SendCode   = opSend
	RecvCode   = opRecv
)

//NopOp - do not perform any I/O. Useful for testing the ring itself.
type NopOp struct {
}

func Nop() *NopOp {
	return &NopOp{}
}

func (op *NopOp) PrepSQE(sqe *SQEntry) {
	sqe.opcode = uint8(opNop)
	sqe.fd = -1
}

func (op *NopOp) Code() OpCode {
	return opNop
}

//AcceptOp accept operation. The kernel stores the peer sockaddr into the
//record owned by the op, so the op must be kept alive until its CQE is seen.
type AcceptOp struct {
	fd    uintptr
	flags uint32
	addr  *unix.RawSockaddrAny
	len   *uint32
}

//Accept - accept operation on a listening socket.
func Accept(fd uintptr, flags uint32) *AcceptOp {
	addrLen := uint32(unix.SizeofSockaddrAny)
	return &AcceptOp{
		fd:    fd,
		flags: flags,
		addr:  &unix.RawSockaddrAny{},
		len:   &addrLen,
	}
}

func (op *AcceptOp) PrepSQE(sqe *SQEntry) {
	sqe.opcode = uint8(opAccept)
	sqe.fd = int32(op.fd)
	sqe.setAddr(unsafe.Pointer(op.addr))
	sqe.off = uint64(uintptr(unsafe.Pointer(op.len)))
	sqe.opFlags = op.flags
}

func (op *AcceptOp) Code() OpCode {
	return opAccept
}

func (op *AcceptOp) Fd() int {
	return int(op.fd)
}

//Addr decode the accepted peer address captured by the kernel.
func (op *AcceptOp) Addr() (net.Addr, error) {
	sAddr, err := sockaddr.AnyToSockaddr(op.addr)
	if err != nil {
		return nil, err
	}

	switch sa := sAddr.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte(nil), sa.Addr[:]...), Port: sa.Port}, nil
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append([]byte(nil), sa.Addr[:]...), Port: sa.Port}, nil
	}

	return nil, errors.New("unexpected address family")
}

//RecvOp recv operation.
type RecvOp struct {
	fd       uintptr
	buff     []byte
	msgFlags uint32
}

//Recv - recv operation on a connected socket.
func Recv(fd uintptr, buff []byte, msgFlags uint32) *RecvOp {
	return &RecvOp{
		fd:       fd,
		buff:     buff,
		msgFlags: msgFlags,
	}
}

func (op *RecvOp) SetBuffer(buff []byte) {
	op.buff = buff
}

func (op *RecvOp) PrepSQE(sqe *SQEntry) {
	sqe.opcode = uint8(opRecv)
	sqe.fd = int32(op.fd)
	sqe.setAddr(unsafe.Pointer(&op.buff[0]))
	sqe.len = uint32(len(op.buff))
	sqe.opFlags = op.msgFlags
}

func (op *RecvOp) Code() OpCode {
	return opRecv
}

func (op *RecvOp) Fd() int {
	return int(op.fd)
}

//SendOp send operation.
type SendOp struct {
	fd       uintptr
	buff     []byte
	msgFlags uint32
}

//Send - send operation on a connected socket.
func Send(fd uintptr, buff []byte, msgFlags uint32) *SendOp {
	return &SendOp{
		fd:       fd,
		buff:     buff,
		msgFlags: msgFlags,
	}
}

func (op *SendOp) SetBuffer(buff []byte) {
	op.buff = buff
}

func (op *SendOp) PrepSQE(sqe *SQEntry) {
	sqe.opcode = uint8(opSend)
	sqe.fd = int32(op.fd)
	sqe.setAddr(unsafe.Pointer(&op.buff[0]))
	sqe.len = uint32(len(op.buff))
	sqe.opFlags = op.msgFlags
}

func (op *SendOp) Code() OpCode {
	return opSend
}

func (op *SendOp) Fd() int {
	return int(op.fd)
}

//CloseOp close a file descriptor asynchronously.
type CloseOp struct {
	fd uintptr
}

//Close - close operation.
func Close(fd uintptr) *CloseOp {
	return &CloseOp{fd: fd}
}

func (op *CloseOp) PrepSQE(sqe *SQEntry) {
	sqe.opcode = uint8(opClose)
	sqe.fd = int32(op.fd)
}

func (op *CloseOp) Code() OpCode {
	return opClose
}

func (op *CloseOp) Fd() int {
	return int(op.fd)
}

//ReadVOp vectored read operation, similar to preadv2(2).
type ReadVOp struct {
	FD     uintptr
	IOVecs []syscall.Iovec
	Offset uint64
}

func (op *ReadVOp) PrepSQE(sqe *SQEntry) {
	sqe.opcode = uint8(opReadV)
	sqe.fd = int32(op.FD)
	sqe.setAddr(unsafe.Pointer(&op.IOVecs[0]))
	sqe.len = uint32(len(op.IOVecs))
	sqe.off = op.Offset
}

func (op *ReadVOp) Code() OpCode {
	return opReadV
}

//WriteVOp vectored write operation, similar to pwritev2(2).
type WriteVOp struct {
	FD     uintptr
	IOVecs []syscall.Iovec
	Offset uint64
}

func (op *WriteVOp) PrepSQE(sqe *SQEntry) {
	sqe.opcode = uint8(opWriteV)
	sqe.fd = int32(op.FD)
	sqe.setAddr(unsafe.Pointer(&op.IOVecs[0]))
	sqe.len = uint32(len(op.IOVecs))
	sqe.off = op.Offset
}

func (op *WriteVOp) Code() OpCode {
	return opWriteV
}
