// SPDX-License-Identifier: MIT

package ubx

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort acknowledges every CFG-MSG write, optionally preceded by noise and
// with a choice of ACK or NAK.
type fakePort struct {
	nak      bool
	noise    []byte
	inbox    bytes.Buffer
	writes   [][]byte
	silent   bool
	silentAt int
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.writes = append(p.writes, append([]byte(nil), b...))

	if p.silent && len(p.writes) > p.silentAt {
		return len(b), nil
	}

	// Echo interleaved stream noise before the acknowledgement, the way a
	// live receiver interleaves periodic traffic.
	p.inbox.Write(p.noise)

	id := idAck
	if p.nak {
		id = idNak
	}
	// The CFG-MSG payload starts at byte 6: target class, target id.
	p.inbox.Write(encodeFrame(classAck, byte(id), []byte{b[6], b[7]}))
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.inbox.Len() == 0 {
		return 0, io.EOF
	}
	return p.inbox.Read(b)
}

func TestConfigureEnablesMessages(t *testing.T) {
	port := &fakePort{}
	d := NewDecoder(time.Second)

	require.NoError(t, d.Configure(context.Background(), port))

	require.Len(t, port.writes, 2)
	for i, want := range []struct{ class, id byte }{{classRxm, idRawx}, {classRxm, idSfrbx}} {
		frame := port.writes[i]
		assert.Equal(t, byte(classCfg), frame[2])
		assert.Equal(t, byte(idMsg), frame[3])
		assert.Equal(t, want.class, frame[6])
		assert.Equal(t, want.id, frame[7])
		assert.True(t, checksumOK(frame))
	}
}

func TestConfigureToleratesInterleavedTraffic(t *testing.T) {
	noise := encodeFrame(classRxm, idRawx, rawxPayload(100000, 2400,
		rawxBlock(0, 1, 0, 2e7, 0, 0, 40, trkPrValid)))
	port := &fakePort{noise: append([]byte{0x24, 0x47}, noise...)}
	d := NewDecoder(time.Second)

	assert.NoError(t, d.Configure(context.Background(), port))
}

func TestConfigureFailsOnNak(t *testing.T) {
	port := &fakePort{nak: true}
	d := NewDecoder(time.Second)

	err := d.Configure(context.Background(), port)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestConfigureFailsWhenUnacknowledged(t *testing.T) {
	port := &fakePort{silent: true, silentAt: 1}
	d := NewDecoder(time.Second)

	err := d.Configure(context.Background(), port)
	require.Error(t, err)
}

// deafPort accepts writes but never produces a byte; reads block until the
// port is closed, the way a wedged device holds a serial read open.
type deafPort struct {
	closed chan struct{}
	once   sync.Once
}

func newDeafPort() *deafPort { return &deafPort{closed: make(chan struct{})} }

func (p *deafPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *deafPort) Read([]byte) (int, error) {
	<-p.closed
	return 0, io.ErrClosedPipe
}

func (p *deafPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func TestConfigureUnblocksWedgedDevice(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	d := NewDecoder(time.Second)
	start := time.Now()
	err := d.Configure(ctx, newDeafPort())

	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second,
		"a device that never acknowledges must not block the open past the deadline")
}

func TestConfigureHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDecoder(time.Second)
	err := d.Configure(ctx, &fakePort{})
	assert.ErrorIs(t, err, context.Canceled)
}
