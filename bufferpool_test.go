package sockframe

import (
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetChunk(t *testing.T) {
	b := getChunk()
	require.Len(t, *b, ChunkSize)

	(*b)[0] = 'x'
	*b = (*b)[:10]
	putChunk(b)

	again := getChunk()
	require.Len(t, *again, ChunkSize)
	putChunk(again)
}

func TestPutChunkForeign(t *testing.T) {
	small := make([]byte, 16)
	require.NotPanics(t, func() {
		putChunk(&small)
		putChunk(nil)
	})
}

func TestIsTimeout(t *testing.T) {
	require.True(t, isTimeout(os.ErrDeadlineExceeded))
	require.False(t, isTimeout(errors.New("boom")))
	require.False(t, isTimeout(nil))

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.SetReadDeadline(time.Now().Add(-time.Second)))
	_, err := a.Read(make([]byte, 1))
	require.Error(t, err)
	require.True(t, isTimeout(err))
}
