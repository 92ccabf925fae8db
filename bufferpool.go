package sockframe

import (
	"errors"
	"net"
	"os"
	"sync"
)

// chunkPool recycles the fixed-size read buffers used while receiving.
var chunkPool = sync.Pool{
	New: func() any {
		b := make([]byte, ChunkSize)
		return &b
	},
}

// getChunk retrieves a ChunkSize buffer from the pool.
func getChunk() *[]byte {
	if b, ok := chunkPool.Get().(*[]byte); ok && len(*b) == ChunkSize {
		return b
	}
	b := make([]byte, ChunkSize)
	return &b
}

// putChunk returns a buffer to the pool.
func putChunk(b *[]byte) {
	if b == nil || cap(*b) < ChunkSize {
		return // Don't pool foreign buffers.
	}
	*b = (*b)[:ChunkSize]
	chunkPool.Put(b)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
