//Package pool holds the scratch buffers the server loop lends to in-flight
//recv and send operations. The slab is one contiguous allocation cut into
//equal windows; ownership of a window moves by passing its index through the
//free queue.
package pool

const (
	DefaultBufferSize  = 16 * 1024
	DefaultBufferCount = 1024
)

//BufferPool fixed slab of count equal-length buffers indexed by uint16.
//Immutable after construction except for the free-index queue.
type BufferPool struct {
	slab  []byte
	size  uint32
	count uint32

	free *IndexQueue
}

func NewBufferPool(count, size uint32) *BufferPool {
	p := &BufferPool{
		slab:  make([]byte, int(count)*int(size)),
		size:  size,
		count: count,
		free:  NewIndexQueue(count),
	}

	for i := uint32(0); i < count; i++ {
		p.free.Enqueue(uint16(i))
	}

	return p
}

//Slot the i-th buffer window of the slab.
func (p *BufferPool) Slot(idx uint16) []byte {
	off := uint32(idx) * p.size
	return p.slab[off : off+p.size]
}

//Acquire take a free buffer index. Returns false when the pool is exhausted.
func (p *BufferPool) Acquire() (uint16, bool) {
	return p.free.Dequeue()
}

//Release return a buffer index to the pool.
func (p *BufferPool) Release(idx uint16) {
	p.free.Enqueue(idx)
}

//Free number of buffers currently unowned.
func (p *BufferPool) Free() uint32 {
	return p.free.Len()
}

//Count total number of buffers in the slab.
func (p *BufferPool) Count() uint32 {
	return p.count
}

//BufferSize length of each buffer window.
func (p *BufferPool) BufferSize() uint32 {
	return p.size
}
