package lzhuff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyMatchOverlap(t *testing.T) {
	t.Parallel()

	w := NewSlidingWindow()
	for _, b := range []byte("AB") {
		w.Append(b)
	}

	require.NoError(t, w.CopyMatch(2, 6))

	got := make([]byte, 6)
	for i := range got {
		got[i] = w.ByteAt(w.Position() - 6 + i)
	}

	assert.Equal(t, []byte("ABABAB"), got)
}

func TestCopyMatchInvalid(t *testing.T) {
	t.Parallel()

	w := NewSlidingWindow()
	w.Append('x')

	err := w.CopyMatch(0, 1)
	require.Error(t, err)

	err = w.CopyMatch(1, 0)
	require.Error(t, err)

	err = w.CopyMatch(WindowSize+1, 1)
	require.Error(t, err)
}
