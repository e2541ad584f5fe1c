package direct

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabili207/gasmix-go/transport"
)

type bufPort struct {
	bytes.Buffer
	writeErr error
	closed   int
}

func (p *bufPort) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.Buffer.Write(b)
}

func (p *bufPort) Close() error {
	p.closed++
	return nil
}

func openBuf(t *testing.T, port *bufPort) *Link {
	t.Helper()
	l, err := Open(Config{
		Port: "/dev/fake",
		Opener: func(string, int) (io.WriteCloser, error) {
			return port, nil
		},
	})
	require.NoError(t, err)
	return l
}

func TestOpen_RequiresPort(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpen_Failure(t *testing.T) {
	_, err := Open(Config{
		Port: "/dev/missing",
		Opener: func(string, int) (io.WriteCloser, error) {
			return nil, errors.New("no such device")
		},
	})
	assert.Error(t, err)
}

func TestSend_WritesImmediately(t *testing.T) {
	port := &bufPort{}
	l := openBuf(t, port)

	assert.Equal(t, transport.StateOpen, l.State())
	assert.Equal(t, "direct", l.Mode())

	require.NoError(t, l.Send("$;2;9;!"))
	require.NoError(t, l.Send("$;3;1;2;!"))
	assert.Equal(t, "$;2;9;!\n$;3;1;2;!\n", port.String())
	assert.Nil(t, l.Poll())
}

func TestSend_WriteErrorIsSwallowed(t *testing.T) {
	port := &bufPort{writeErr: errors.New("io error")}
	l := openBuf(t, port)

	assert.NoError(t, l.Send("$;2;9;!"))
	assert.Zero(t, port.Len())
}

func TestStop(t *testing.T) {
	port := &bufPort{}
	l := openBuf(t, port)

	require.NoError(t, l.Stop())
	require.NoError(t, l.Stop())
	assert.Equal(t, 1, port.closed)
	assert.Equal(t, transport.StateDisconnected, l.State())
	assert.ErrorIs(t, l.Send("$;2;9;!"), transport.ErrNotConnected)
}
