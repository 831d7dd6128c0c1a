// SPDX-License-Identifier: MIT

package ubx

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rtnav/rtnavd/internal/log"
)

// maxAckWindow bounds how many interleaved stream bytes Configure reads while
// waiting for one acknowledgement before giving up.
const maxAckWindow = 8192

// configureTimeout bounds the whole configuration exchange when the caller's
// context carries no deadline of its own.
const configureTimeout = 5 * time.Second

// Configure enables the periodic messages the pipeline consumes. Each enable
// is written as CFG-MSG and must be acknowledged by ACK-ACK before the next
// one is sent; a NAK or a missing acknowledgement fails the open.
func (d *Decoder) Configure(ctx context.Context, rw io.ReadWriter) error {
	logger := log.WithComponent("ubx")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, configureTimeout)
		defer cancel()
	}
	// A connected-but-silent device blocks the acknowledgement read forever;
	// closing the port is the only way to unblock it.
	if c, ok := rw.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = c.Close() })
		defer stop()
	}

	enables := []struct{ class, id byte }{
		{classRxm, idRawx},
		{classRxm, idSfrbx},
	}
	for _, msg := range enables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeAcked(rw, msg.class, msg.id); err != nil {
			return fmt.Errorf("enable message %#02x %#02x: %w", msg.class, msg.id, err)
		}
		logger.Debug().
			Str(log.FieldEvent, "ubx.msg_enabled").
			Uint8("class", msg.class).
			Uint8("id", msg.id).
			Msg("periodic message enabled")
	}
	return nil
}

// writeAcked sends one CFG-MSG enabling class/id at one message per epoch on
// every port, then scans the inbound stream for the matching ACK-ACK.
func writeAcked(rw io.ReadWriter, class, id byte) error {
	// msgClass, msgID, rate per port: I2C, UART1, UART2, USB, SPI, reserved.
	payload := []byte{class, id, 0, 1, 1, 1, 0, 0}
	if _, err := rw.Write(encodeFrame(classCfg, idMsg, payload)); err != nil {
		return err
	}
	return awaitAck(rw, class, id)
}

// awaitAck reads frames until the acknowledgement for class/id arrives.
// Periodic traffic is interleaved with the acknowledgement, so unrelated
// frames are discarded.
func awaitAck(r io.Reader, class, id byte) error {
	scan := &Decoder{logger: log.WithComponent("ubx")}
	read := 0
	chunk := make([]byte, 256)

	for read < maxAckWindow {
		n, err := r.Read(chunk)
		if err != nil {
			return err
		}
		read += n
		scan.buf = append(scan.buf, chunk[:n]...)

		for {
			frame, ok := scan.nextFrame()
			if !ok {
				break
			}
			if frame[2] != classAck || len(frame) < frameOverhead+2 {
				continue
			}
			if frame[6] != class || frame[7] != id {
				continue
			}
			switch frame[3] {
			case idAck:
				return nil
			case idNak:
				return fmt.Errorf("device rejected configuration")
			}
		}
	}
	return fmt.Errorf("no acknowledgement within %d bytes", maxAckWindow)
}
