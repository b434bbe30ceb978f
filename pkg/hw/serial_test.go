package hw

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/hwstress/pkg/config"
)

// fakePort replays canned replies and records requests.
type fakePort struct {
	replies *strings.Reader
	written bytes.Buffer
	closed  bool
}

func (p *fakePort) Read(b []byte) (int, error)  { return p.replies.Read(b) }
func (p *fakePort) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *fakePort) Close() error                { p.closed = true; return nil }

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    rawReading
		wantErr bool
	}{
		{
			name: "valid line",
			line: "1234567890123,19200",
			want: rawReading{Timestamp: time.Unix(0, 1234567890123*1000), Reading: 19200},
		},
		{
			name: "negative reading",
			line: "1234567890123,-12",
			want: rawReading{Timestamp: time.Unix(0, 1234567890123*1000), Reading: -12},
		},
		{
			name:    "invalid - wrong number of fields",
			line:    "1234567890123",
			wantErr: true,
		},
		{
			name:    "invalid - too many fields",
			line:    "1234567890123,2048,1",
			wantErr: true,
		},
		{
			name:    "invalid - non-numeric timestamp",
			line:    "abc,2048",
			wantErr: true,
		},
		{
			name:    "invalid - reading out of range",
			line:    "1234567890123,40000",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Timestamp.UnixNano(), got.Timestamp.UnixNano())
			assert.Equal(t, tt.want.Reading, got.Reading)
		})
	}
}

func TestSerialSource_Read(t *testing.T) {
	port := &fakePort{replies: strings.NewReader("1,15422\r\n2,22864\n3,garbage\n")}
	src := newSerialSource("fake", port, config.Default().ADC.Calibration)

	v, err := src.Read()
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	v, err = src.Read()
	require.NoError(t, err)
	assert.InDelta(t, 20.8, v, 1e-9)

	_, err = src.Read()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransientIO))

	// Replies exhausted: the read times out / hits EOF.
	_, err = src.Read()
	assert.True(t, errors.Is(err, ErrTransientIO))

	assert.Equal(t, strings.Repeat(serialRequest, 4), port.written.String())

	require.NoError(t, src.Close())
	assert.True(t, port.closed)

	_, err = src.Read()
	assert.True(t, errors.Is(err, ErrHardwareUnavailable))
}
