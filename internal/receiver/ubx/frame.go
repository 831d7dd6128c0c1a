// SPDX-License-Identifier: MIT

// Package ubx decodes the u-blox binary protocol into receiver records:
// RXM-RAWX observation sets and RXM-SFRBX broadcast navigation subframes.
package ubx

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/rtnav/rtnavd/internal/gnss"
	"github.com/rtnav/rtnavd/internal/log"
)

const (
	sync1 = 0xB5
	sync2 = 0x62

	classRxm = 0x02
	classAck = 0x05
	classCfg = 0x06

	idRawx  = 0x15
	idSfrbx = 0x13
	idAck   = 0x01
	idNak   = 0x00
	idMsg   = 0x01

	// header (6) + checksum (2)
	frameOverhead = 8

	// Anything longer than this is a corrupted length field, not a frame.
	maxPayload = 4096
)

// Decoder reassembles frames from the raw serial byte stream and decodes the
// messages the pipeline consumes. It is stateful: partial frames are carried
// across Decode calls. Unknown message classes are skipped silently, frames
// with bad checksums are dropped with a resync on the next byte.
type Decoder struct {
	period time.Duration
	buf    []byte
	logger zerolog.Logger
}

// NewDecoder returns a decoder that quantizes observation timestamps to the
// given sampling period.
func NewDecoder(period time.Duration) *Decoder {
	return &Decoder{
		period: period,
		logger: log.WithComponent("ubx"),
	}
}

// Decode appends chunk to the internal buffer and returns all records that
// became complete.
func (d *Decoder) Decode(chunk []byte) []gnss.ReceiverRecord {
	d.buf = append(d.buf, chunk...)

	var out []gnss.ReceiverRecord
	for {
		frame, ok := d.nextFrame()
		if !ok {
			return out
		}
		out = append(out, d.dispatch(frame)...)
	}
}

// nextFrame scans for the sync sequence and extracts one verified frame,
// including header and checksum. It returns false when the buffer holds no
// complete frame yet.
func (d *Decoder) nextFrame() ([]byte, bool) {
	for {
		start := syncIndex(d.buf)
		if start < 0 {
			// Keep a trailing 0xB5 in case its partner is in the next chunk.
			if n := len(d.buf); n > 0 && d.buf[n-1] == sync1 {
				d.buf = d.buf[n-1:]
			} else {
				d.buf = d.buf[:0]
			}
			return nil, false
		}
		d.buf = d.buf[start:]

		if len(d.buf) < 6 {
			return nil, false
		}
		payloadLen := int(d.buf[4]) | int(d.buf[5])<<8
		if payloadLen > maxPayload {
			d.buf = d.buf[2:]
			continue
		}
		total := payloadLen + frameOverhead
		if len(d.buf) < total {
			return nil, false
		}

		frame := d.buf[:total]
		if !checksumOK(frame) {
			d.logger.Debug().
				Str(log.FieldEvent, "ubx.checksum_mismatch").
				Hex("class_id", frame[2:4]).
				Msg("dropping frame")
			d.buf = d.buf[2:]
			continue
		}
		d.buf = d.buf[total:]
		return frame, true
	}
}

func syncIndex(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == sync1 && b[i+1] == sync2 {
			return i
		}
	}
	return -1
}

// checksumOK verifies the 8-bit Fletcher checksum computed over class, id,
// length and payload.
func checksumOK(frame []byte) bool {
	ckA, ckB := fletcher(frame[2 : len(frame)-2])
	return ckA == frame[len(frame)-2] && ckB == frame[len(frame)-1]
}

func fletcher(b []byte) (ckA, ckB byte) {
	for _, c := range b {
		ckA += c
		ckB += ckA
	}
	return ckA, ckB
}

func (d *Decoder) dispatch(frame []byte) []gnss.ReceiverRecord {
	class, id := frame[2], frame[3]
	payload := frame[6 : len(frame)-2]

	if class != classRxm {
		return nil
	}
	switch id {
	case idRawx:
		if rec, ok := d.decodeRawx(payload); ok {
			return []gnss.ReceiverRecord{rec}
		}
	case idSfrbx:
		if rec, ok := d.decodeSfrbx(payload); ok {
			return []gnss.ReceiverRecord{rec}
		}
	}
	return nil
}

// encodeFrame builds a complete frame around payload, for device
// configuration writes.
func encodeFrame(class, id byte, payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+frameOverhead)
	frame = append(frame, sync1, sync2, class, id,
		byte(len(payload)), byte(len(payload)>>8))
	frame = append(frame, payload...)
	ckA, ckB := fletcher(frame[2:])
	return append(frame, ckA, ckB)
}
