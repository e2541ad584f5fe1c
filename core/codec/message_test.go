package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    Message
		wantErr error
	}{
		{
			name:  "autotune echo",
			frame: "$;2;1;0;30;1;120;45;!",
			want:  Message{"2", "1", "0", "30", "1", "120", "45"},
		},
		{
			name:  "empty tokens discarded",
			frame: "$;;2;;9;;;1;!",
			want:  Message{"2", "9", "1"},
		},
		{
			name:  "no separators at the edges",
			frame: "$5;1;2!",
			want:  Message{"5", "1", "2"},
		},
		{
			name:    "too short",
			frame:   "$;2;9;!",
			wantErr: ErrTooShort,
		},
		{
			name:    "not delimited",
			frame:   "2;9;1",
			wantErr: ErrNotDelimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMessage(Frame(tt.frame))
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "error = %v, want %v", err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMessage_Accessors(t *testing.T) {
	m := Message{"2", "1", "12.5", "x"}

	assert.Equal(t, "2", m.Group())
	assert.Equal(t, "x", m.Field(3))
	assert.Equal(t, "", m.Field(4))
	assert.Equal(t, "", m.Field(-1))
	assert.Equal(t, "", Message(nil).Group())

	n, err := m.Int(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, err := m.Float(2)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, v, 1e-9)

	_, err = m.Int(3)
	assert.Error(t, err)

	_, err = m.Float(9)
	assert.ErrorIs(t, err, ErrNoField)
}

func TestFormatMessage(t *testing.T) {
	assert.Equal(t, "$;2;9;!", FormatMessage("2", "9"))
	assert.Equal(t, "$;!", FormatMessage())
	assert.Equal(t, "$;3;1;2;!", Message{"3", "1", "2"}.String())
}

func TestFormatParseAgree(t *testing.T) {
	wire := FormatMessage("1", "2", "3.75", "0.9")
	frames := NewFramer().Feed([]byte(wire))
	require.Len(t, frames, 1)

	msg, err := ParseMessage(frames[0])
	require.NoError(t, err)
	assert.Equal(t, Message{"1", "2", "3.75", "0.9"}, msg)
}
