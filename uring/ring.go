//go:build linux

package uring

import (
	"errors"
	"sync/atomic"
	"syscall"
)

const MaxEntries uint32 = 1 << 15

//Ring a single io_uring instance. The three kernel-shared regions are mapped
//once at setup and exposed below as typed views: the head/tail cursors as
//pointers into the mappings, the SQ indirection array, SQE slab and CQE array
//as slices over them. Mask and size never change after setup and are
//snapshotted as plain values.
//
//Ordering discipline: kernel-written cursors (sqHead, cqTail) are read with
//atomic loads, our own published cursors (sqTail, cqHead) are written with
//atomic stores, after the entries they cover are fully written.
type Ring struct {
	fd int

	params ringParams

	// submission side. The private sqeHead/sqeTail pair tracks SQEs filled
	// but not yet published to the kernel-visible tail.
	sqMem     []byte
	sqesMem   []byte
	sqHead    *uint32
	sqTail    *uint32
	sqFlags   *uint32
	sqDropped *uint32
	sqArray   []uint32
	sqes      []SQEntry
	sqMask    uint32
	sqEntries uint32

	sqeHead uint32
	sqeTail uint32

	// completion side
	cqMem      []byte
	cqHead     *uint32
	cqTail     *uint32
	cqOverflow *uint32
	cqes       []CQEvent
	cqMask     uint32
}

var (
	ErrRingSetup      = errors.New("ring setup")
	ErrSQRingOverflow = errors.New("sq ring overflow")
)

type SetupOption func(params *ringParams)

//WithCQSize ask the kernel for a CQ ring of sz entries instead of the default.
func WithCQSize(sz uint32) SetupOption {
	return func(params *ringParams) {
		params.flags |= setupCQSize
		params.cqEntries = sz
	}
}

//New create an io_uring instance with depth entries and map its rings.
func New(entries uint32, opts ...SetupOption) (*Ring, error) {
	if entries == 0 || entries > MaxEntries {
		return nil, ErrRingSetup
	}

	r := &Ring{}
	for _, opt := range opts {
		opt(&r.params)
	}

	fd, err := sysSetup(entries, &r.params)
	if err != nil {
		return nil, err
	}
	r.fd = fd

	if err := r.mapRings(); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	return r, nil
}

func (r *Ring) Fd() int {
	return r.fd
}

func (r *Ring) Close() error {
	mapErr := r.unmapRings()
	if err := syscall.Close(r.fd); err != nil {
		return err
	}
	return mapErr
}

//NextSQE reserve the next free SQE slot and hand back a zeroed entry for the
//caller to fill. The entry must not be touched after the next flush. Returns
//ErrSQRingOverflow when the unsubmitted backlog equals the ring size; that is
//not fatal, the caller may drop the submission and retry after a Submit.
func (r *Ring) NextSQE() (*SQEntry, error) {
	if r.sqeTail-atomic.LoadUint32(r.sqHead) >= r.sqEntries {
		return nil, ErrSQRingOverflow
	}

	sqe := &r.sqes[r.sqeTail&r.sqMask]
	*sqe = SQEntry{}
	r.sqeTail++

	return sqe, nil
}

//Operation must be implemented by operations the ring can queue.
type Operation interface {
	PrepSQE(*SQEntry)
	Code() OpCode
}

//QueueSQE reserve an SQE, fill it from op and stamp flags and userData.
func (r *Ring) QueueSQE(op Operation, flags uint8, userData uint64) error {
	sqe, err := r.NextSQE()
	if err != nil {
		return err
	}

	op.PrepSQE(sqe)
	sqe.flags = flags
	sqe.userData = userData
	return nil
}

//flushSQ publish filled SQEs: write their slot indices into the SQ array,
//then release-store the new kernel-visible tail. Only this thread writes
//sqTail, so the initial read of it needs no atomic. Returns how many entries
//are now visible to the kernel and not yet consumed by it.
func (r *Ring) flushSQ() uint32 {
	tail := *r.sqTail
	for r.sqeHead != r.sqeTail {
		r.sqArray[tail&r.sqMask] = r.sqeHead & r.sqMask
		r.sqeHead++
		tail++
	}
	atomic.StoreUint32(r.sqTail, tail)

	return tail - atomic.LoadUint32(r.sqHead)
}

//Submit flush pending SQEs and enter the kernel without waiting. Returns the
//number of SQEs the kernel consumed.
func (r *Ring) Submit() (uint32, error) {
	return sysEnter(r.fd, r.flushSQ(), 0, 0)
}

//SubmitAndWait flush pending SQEs and enter the kernel, parking until at
//least waitNr completions are present in the CQ ring.
func (r *Ring) SubmitAndWait(waitNr uint32) (uint32, error) {
	return sysEnter(r.fd, r.flushSQ(), waitNr, enterGetEvents)
}

func (r *Ring) cqReady() uint32 {
	return atomic.LoadUint32(r.cqTail) - atomic.LoadUint32(r.cqHead)
}

func (r *Ring) cqOverflowPending() bool {
	return atomic.LoadUint32(r.sqFlags)&sqCQOverflow != 0
}

//PeekCQEventBatch fill buff with pointers to ready CQEs, in ring order,
//without consuming them. Pair with AdvanceCQ once the batch is processed.
//When the CQ ring has overflown, one extra enter flushes the kernel's backlog
//into the ring before giving up.
func (r *Ring) PeekCQEventBatch(buff []*CQEvent) int {
	n := r.peekBatch(buff)
	if n == 0 && r.cqOverflowPending() {
		_, _ = sysEnter(r.fd, 0, 0, enterGetEvents)
		n = r.peekBatch(buff)
	}

	return n
}

func (r *Ring) peekBatch(buff []*CQEvent) int {
	head := atomic.LoadUint32(r.cqHead)
	ready := atomic.LoadUint32(r.cqTail) - head

	n := 0
	for uint32(n) < ready && n < len(buff) {
		buff[n] = &r.cqes[(head+uint32(n))&r.cqMask]
		n++
	}

	return n
}

//AdvanceCQ mark n CQEs consumed, release-publishing the new CQ head.
func (r *Ring) AdvanceCQ(n uint32) {
	atomic.AddUint32(r.cqHead, n)
}
