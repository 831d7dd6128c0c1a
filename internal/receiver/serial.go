// SPDX-License-Identifier: MIT

package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	serial "github.com/tarm/goserial"

	"github.com/rtnav/rtnavd/internal/gnss"
	"github.com/rtnav/rtnavd/internal/log"
	"github.com/rtnav/rtnavd/internal/metrics"
)

const (
	readChunkSize = 4096
	recordBuffer  = 64
)

// ErrDeviceClosed is returned by Err after a clean, context-driven stop.
var ErrDeviceClosed = errors.New("receiver device closed")

// SerialSource reads the receiver over a serial link and decodes its frames.
// A device-side failure is fatal to the run: the record channel closes and
// Err reports the cause.
type SerialSource struct {
	port    io.ReadWriteCloser
	decoder FrameDecoder
	records chan gnss.ReceiverRecord

	mu  sync.Mutex
	err error
}

// OpenSerial opens the device and, when the decoder needs it, programs the
// receiver's periodic messages before streaming starts.
func OpenSerial(ctx context.Context, device string, baud int, decoder FrameDecoder) (*SerialSource, error) {
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial device %s: %w", device, err)
	}
	src, err := NewSource(ctx, port, decoder)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", device, err)
	}
	return src, nil
}

// NewSource wraps an already open port. When the decoder implements
// Configurer the device is programmed first; a configuration failure closes
// the port.
func NewSource(ctx context.Context, port io.ReadWriteCloser, decoder FrameDecoder) (*SerialSource, error) {
	if cfg, ok := decoder.(Configurer); ok {
		if err := cfg.Configure(ctx, port); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("configure receiver: %w", err)
		}
	}
	return &SerialSource{
		port:    port,
		decoder: decoder,
		records: make(chan gnss.ReceiverRecord, recordBuffer),
	}, nil
}

// Records returns the decoded record stream.
func (s *SerialSource) Records() <-chan gnss.ReceiverRecord {
	return s.records
}

// Err returns the terminal error after the record channel has closed.
func (s *SerialSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *SerialSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Run owns the blocking read loop. It returns when the device fails or ctx
// is cancelled; either way the record channel is closed and the port
// released.
func (s *SerialSource) Run(ctx context.Context) error {
	logger := log.WithComponent("receiver")

	// Close the port when ctx ends so the blocking Read unblocks.
	stop := context.AfterFunc(ctx, func() {
		_ = s.port.Close()
	})
	defer stop()
	defer close(s.records)
	defer func() { _ = s.port.Close() }()

	buf := make([]byte, readChunkSize)
	for {
		n, err := s.port.Read(buf)
		if n > 0 {
			for _, rec := range s.decoder.Decode(buf[:n]) {
				metrics.IncReceiverRecord(recordKind(rec))
				select {
				case s.records <- rec:
				case <-ctx.Done():
					s.setErr(ErrDeviceClosed)
					return ctx.Err()
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				s.setErr(ErrDeviceClosed)
				return ctx.Err()
			}
			err = fmt.Errorf("receiver read: %w", err)
			s.setErr(err)
			logger.Error().
				Err(err).
				Str(log.FieldEvent, "receiver.device_lost").
				Msg("receiver device lost, terminating run")
			return err
		}
	}
}

func recordKind(rec gnss.ReceiverRecord) string {
	switch rec.(type) {
	case gnss.MeasurementRecord:
		return "measurement"
	case gnss.NavigationRecord:
		return "navigation"
	default:
		return "unknown"
	}
}
