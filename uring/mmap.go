//go:build linux

package uring

import (
	"syscall"
	"unsafe"
)

type sqRingOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	flags       uint32
	dropped     uint32
	array       uint32
	resv1       uint32
	resv2       uint64
}

type cqRingOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	overflow    uint32
	cqes        uint32
	flags       uint32
	resv1       uint32
	resv2       uint64
}

type ringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCPU  uint32
	sqThreadIdle uint32
	features     uint32
	wqFD         uint32
	resv         [3]uint32

	sqOff sqRingOffsets
	cqOff cqRingOffsets
}

//SingleMmapFeature kernel maps SQ and CQ rings as one region.
func (p *ringParams) SingleMmapFeature() bool {
	return p.features&featSingleMmap != 0
}

func mapRegion(fd int, off uint64, size uintptr) ([]byte, error) {
	return syscall.Mmap(fd, int64(off), int(size),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED|syscall.MAP_POPULATE)
}

//mapRings map the SQ ring, CQ ring and SQE array, then derive the Ring's
//typed cursors and slice views from the offsets io_uring_setup reported.
func (r *Ring) mapRings() error {
	p := &r.params

	sqSize := uintptr(p.sqOff.array) + uintptr(p.sqEntries)*unsafe.Sizeof(uint32(0))
	cqSize := uintptr(p.cqOff.cqes) + uintptr(p.cqEntries)*unsafe.Sizeof(CQEvent{})
	if p.SingleMmapFeature() {
		if cqSize > sqSize {
			sqSize = cqSize
		}
		cqSize = sqSize
	}

	var err error
	if r.sqMem, err = mapRegion(r.fd, offSQRing, sqSize); err != nil {
		return err
	}

	if p.SingleMmapFeature() {
		r.cqMem = r.sqMem
	} else if r.cqMem, err = mapRegion(r.fd, offCQRing, cqSize); err != nil {
		r.unmapRings()
		return err
	}

	if r.sqesMem, err = mapRegion(r.fd, offSQEs, uintptr(p.sqEntries)*unsafe.Sizeof(SQEntry{})); err != nil {
		r.unmapRings()
		return err
	}

	sqBase := unsafe.Pointer(&r.sqMem[0])
	r.sqHead = (*uint32)(unsafe.Add(sqBase, p.sqOff.head))
	r.sqTail = (*uint32)(unsafe.Add(sqBase, p.sqOff.tail))
	r.sqFlags = (*uint32)(unsafe.Add(sqBase, p.sqOff.flags))
	r.sqDropped = (*uint32)(unsafe.Add(sqBase, p.sqOff.dropped))
	r.sqMask = *(*uint32)(unsafe.Add(sqBase, p.sqOff.ringMask))
	r.sqEntries = *(*uint32)(unsafe.Add(sqBase, p.sqOff.ringEntries))
	r.sqArray = unsafe.Slice((*uint32)(unsafe.Add(sqBase, p.sqOff.array)), p.sqEntries)
	r.sqes = unsafe.Slice((*SQEntry)(unsafe.Pointer(&r.sqesMem[0])), p.sqEntries)

	cqBase := unsafe.Pointer(&r.cqMem[0])
	r.cqHead = (*uint32)(unsafe.Add(cqBase, p.cqOff.head))
	r.cqTail = (*uint32)(unsafe.Add(cqBase, p.cqOff.tail))
	r.cqOverflow = (*uint32)(unsafe.Add(cqBase, p.cqOff.overflow))
	r.cqMask = *(*uint32)(unsafe.Add(cqBase, p.cqOff.ringMask))
	r.cqes = unsafe.Slice((*CQEvent)(unsafe.Add(cqBase, p.cqOff.cqes)), p.cqEntries)

	return nil
}

func (r *Ring) unmapRings() error {
	var firstErr error
	unmap := func(mem []byte) {
		if mem == nil {
			return
		}
		if err := syscall.Munmap(mem); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	unmap(r.sqesMem)
	r.sqesMem = nil

	if !r.params.SingleMmapFeature() {
		unmap(r.cqMem)
	}
	r.cqMem = nil

	unmap(r.sqMem)
	r.sqMem = nil

	return firstErr
}
