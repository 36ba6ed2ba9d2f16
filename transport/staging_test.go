package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriteCloser struct {
	bytes.Buffer
	closed   bool
	closeErr error
}

func (f *fakeWriteCloser) Close() error {
	f.closed = true
	return f.closeErr
}

func TestStagingWriter_RawWrite(t *testing.T) {
	w := &fakeWriteCloser{}
	sw := NewStagingWriter(w)

	_, err := sw.Write([]byte("<rpc>"))
	require.NoError(t, err)
	// Nothing hits the underlying writer until flushed.
	assert.Empty(t, w.String())

	require.NoError(t, sw.Flush())
	assert.Equal(t, "<rpc>", w.String())
}

func TestStagingWriter_ContentEscaping(t *testing.T) {
	w := &fakeWriteCloser{}
	sw := NewStagingWriter(w)

	_, err := sw.WriteContentString(`a & b < c > d`)
	require.NoError(t, err)
	require.NoError(t, sw.Flush())

	assert.Equal(t, "a &amp; b &lt; c &gt; d", w.String())
}

func TestStagingWriter_FlushOnOverflow(t *testing.T) {
	w := &fakeWriteCloser{}
	sw := NewStagingWriter(w)

	first := bytes.Repeat([]byte("a"), stagingSize-4)
	_, err := sw.Write(first)
	require.NoError(t, err)

	// Doesn't fit in the 4 remaining bytes; staged buffer must flush first.
	_, err = sw.Write([]byte("bcdef"))
	require.NoError(t, err)

	require.NoError(t, sw.Flush())
	assert.Equal(t, string(first)+"bcdef", w.String())
}

func TestStagingWriter_DirectPathForLargeWrites(t *testing.T) {
	w := &fakeWriteCloser{}
	sw := NewStagingWriter(w)

	_, err := sw.Write([]byte("prefix"))
	require.NoError(t, err)

	big := bytes.Repeat([]byte("z"), stagingSize+1)
	_, err = sw.Write(big)
	require.NoError(t, err)

	// The prefix must have been flushed before the oversized chunk bypassed
	// the staging buffer.
	assert.Equal(t, "prefix"+string(big), w.String())
}

func TestStagingWriter_CloseFlushesAndClosesUnderlying(t *testing.T) {
	w := &fakeWriteCloser{}
	sw := NewStagingWriter(w)

	_, err := sw.Write([]byte("tail"))
	require.NoError(t, err)

	require.NoError(t, sw.Close())
	assert.Equal(t, "tail", w.String())
	assert.True(t, w.closed)
}

func TestStagingWriter_BoundaryAtStagingSize(t *testing.T) {
	w := &fakeWriteCloser{}
	sw := NewStagingWriter(w)

	exact := bytes.Repeat([]byte("x"), stagingSize)
	_, err := sw.Write(exact)
	require.NoError(t, err)
	// Exactly fills the buffer; shouldn't have flushed yet.
	assert.Empty(t, w.String())

	require.NoError(t, sw.Flush())
	assert.Equal(t, string(exact), w.String())
}

func TestStagingWriter_BoundaryOneUnderStagingSize(t *testing.T) {
	w := &fakeWriteCloser{}
	sw := NewStagingWriter(w)

	almost := bytes.Repeat([]byte("x"), stagingSize-1)
	_, err := sw.Write(almost)
	require.NoError(t, err)
	// Fits with one byte to spare; shouldn't have flushed yet.
	assert.Empty(t, w.String())

	require.NoError(t, sw.Flush())
	assert.Equal(t, string(almost), w.String())
}

func TestStagingWriter_BoundaryOneOverStagingSize(t *testing.T) {
	w := &fakeWriteCloser{}
	sw := NewStagingWriter(w)

	over := bytes.Repeat([]byte("x"), stagingSize+1)
	_, err := sw.Write(over)
	require.NoError(t, err)
	// Exceeds the staging area by one byte, so the direct path writes it
	// through immediately rather than buffering.
	assert.Equal(t, string(over), w.String())
}
