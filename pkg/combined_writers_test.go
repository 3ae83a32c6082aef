package pkg

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestCombinedWriter_Write(t *testing.T) {
	stdout := &strings.Builder{}
	stdout.WriteString("already-here")
	file := &strings.Builder{}

	cw := NewCombinedWriter(stdout, nil, file)
	require.Len(t, cw.Writers, 2)

	for _, line := range []string{"session created [1a2b3c4d]\n", "csrf token rejected\n"} {
		n, err := cw.Write([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, len(line), n)
	}

	assert.Equal(t, "already-heresession created [1a2b3c4d]\ncsrf token rejected\n", stdout.String())
	assert.Equal(t, "session created [1a2b3c4d]\ncsrf token rejected\n", file.String())
}

func TestCombinedWriter_Write_WithErrors(t *testing.T) {
	sb := &strings.Builder{}
	cw := NewCombinedWriter(failingWriter{}, sb, shortWriter{})

	msg := "email dispatcher: started"
	n, err := cw.Write([]byte(msg))
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorIs(t, err, io.ErrShortWrite)

	// the healthy writer still got everything
	assert.Equal(t, msg, sb.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) {
	return len(p) / 2, nil
}
