//go:build linux

package server

import (
	"github.com/kestrel-http/kestrel/uring"
)

type opKind uint8

const (
	opAccept opKind = iota
	opRecv
	opSend
	opClose
)

func (k opKind) String() string {
	switch k {
	case opAccept:
		return "accept"
	case opRecv:
		return "recv"
	case opSend:
		return "send"
	case opClose:
		return "close"
	}
	return "unknown"
}

//ioRequest context of one in-flight submission. The kernel refers to it via
//the user_data cookie; payload and accept pin memory the kernel may still
//touch until the matching CQE is consumed.
type ioRequest struct {
	op        opKind
	fd        int
	bufferIdx uint16

	payload []byte
	accept  *uring.AcceptOp
}

//requestTable slot table of in-flight ioRequests. The user_data cookie is the
//slot index plus one, so zero never names a live request. Slots are released
//one by one as their CQEs are consumed, never while a drain is in progress on
//them.
type requestTable struct {
	slots []ioRequest
	free  []uint32
}

func newRequestTable(capHint uint32) *requestTable {
	t := &requestTable{
		slots: make([]ioRequest, capHint),
		free:  make([]uint32, 0, capHint),
	}
	for i := capHint; i > 0; i-- {
		t.free = append(t.free, i-1)
	}
	return t
}

func (t *requestTable) alloc(op opKind, fd int) (uint64, *ioRequest) {
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, ioRequest{})
	}

	req := &t.slots[idx]
	*req = ioRequest{op: op, fd: fd}
	return uint64(idx) + 1, req
}

func (t *requestTable) get(cookie uint64) *ioRequest {
	return &t.slots[cookie-1]
}

func (t *requestTable) release(cookie uint64) {
	idx := uint32(cookie - 1)
	t.slots[idx] = ioRequest{}
	t.free = append(t.free, idx)
}

//inFlight number of live slots.
func (t *requestTable) inFlight() int {
	return len(t.slots) - len(t.free)
}
