//go:build linux

package uring

import (
	"os"
	"syscall"
	"unsafe"
)

// io_uring syscall numbers, identical on every 64-bit Linux arch since 5.1.
const (
	sysRingSetup    uintptr = 425
	sysRingEnter    uintptr = 426
	sysRingRegister uintptr = 427
)

// mmap offsets of the shared regions, io_uring_setup(2).
const (
	offSQRing uint64 = 0
	offCQRing uint64 = 0x8000000
	offSQEs   uint64 = 0x10000000
)

const (
	setupCQSize uint32 = 1 << 3 /* app defines CQ size */

	featSingleMmap uint32 = 1 << 0

	// sq ring flags word, written by the kernel
	sqCQOverflow uint32 = 1 << 1

	enterGetEvents uint32 = 1 << 0
)

func sysSetup(entries uint32, params *ringParams) (int, error) {
	fd, _, errno := syscall.Syscall(sysRingSetup, uintptr(entries), uintptr(unsafe.Pointer(params)), 0)
	if errno != 0 {
		return -1, os.NewSyscallError("io_uring_setup", errno)
	}

	return int(fd), nil
}

//sysEnter publish toSubmit SQEs and, when minComplete is non-zero together
//with enterGetEvents, park until that many completions exist. The server
//never passes a signal mask, so the last two syscall arguments stay zero and
//the raw errno is returned for the hot-path EINTR/EAGAIN checks.
func sysEnter(ringFD int, toSubmit, minComplete, flags uint32) (uint32, error) {
	n, _, errno := syscall.Syscall6(
		sysRingEnter,
		uintptr(ringFD),
		uintptr(toSubmit),
		uintptr(minComplete),
		uintptr(flags),
		0, 0,
	)
	if errno != 0 {
		return 0, errno
	}

	return uint32(n), nil
}

func sysRegister(ringFD int, op uintptr, arg unsafe.Pointer, nrArgs uint32) error {
	_, _, errno := syscall.Syscall6(
		sysRingRegister,
		uintptr(ringFD),
		op,
		uintptr(arg),
		uintptr(nrArgs),
		0, 0,
	)
	if errno != 0 {
		return os.NewSyscallError("io_uring_register", errno)
	}

	return nil
}

//SQEntry 64-byte submission queue entry shared with the kernel. Entries are
//zeroed when reserved, so PrepSQE implementations only set the fields their
//opcode consumes.
type SQEntry struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	opFlags     uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceFdIn  int32
	_           [2]uint64
}

func (sqe *SQEntry) setAddr(p unsafe.Pointer) {
	sqe.addr = uint64(uintptr(p))
}

//CQEvent 16-byte completion queue entry: the user_data cookie of the
//originating SQE, a result (byte count or negative errno) and a flags word.
type CQEvent struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

//Error convert a negative Res into the syscall.Errno it encodes.
func (cqe *CQEvent) Error() error {
	if cqe.Res >= 0 {
		return nil
	}
	return syscall.Errno(-cqe.Res)
}
