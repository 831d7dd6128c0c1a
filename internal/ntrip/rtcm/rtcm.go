// SPDX-License-Identifier: MIT

// Package rtcm frames and timestamps RTCM 3 correction streams. Frames are
// verified (CRC24Q) and stamped with the epoch their observation time falls
// into; the frame bytes are carried through untouched for engines that
// consume the correction protocol natively.
package rtcm

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/rtnav/rtnavd/internal/gnss"
	"github.com/rtnav/rtnavd/internal/log"
	"github.com/rtnav/rtnavd/internal/ntrip"
)

const (
	preamble = 0xD3

	// preamble + reserved/length (3 bytes) plus trailing CRC (3 bytes)
	frameOverhead = 6

	// BeiDou system time runs behind GPS time by the leap seconds accumulated
	// before its origin epoch.
	bdsOffset = 14 * time.Second
)

// Decoder extracts verified frames from one station's byte stream. It is
// stateful across Decode calls and must not be shared between sessions.
type Decoder struct {
	stationID string
	period    time.Duration
	now       func() time.Time

	buf    []byte
	last   gnss.Epoch
	logger zerolog.Logger
}

// NewFactory returns a session decoder factory quantizing to the given
// sampling period.
func NewFactory(period time.Duration) ntrip.DecoderFactory {
	return func(stationID string) ntrip.CorrectionDecoder {
		return &Decoder{
			stationID: stationID,
			period:    period,
			now:       time.Now,
			logger:    log.WithComponent("rtcm").With().Str(log.FieldStationID, stationID).Logger(),
		}
	}
}

// Decode appends chunk to the internal buffer and returns all correction
// records that became complete.
func (d *Decoder) Decode(chunk []byte) []gnss.CorrectionRecord {
	d.buf = append(d.buf, chunk...)

	var out []gnss.CorrectionRecord
	for {
		frame, ok := d.nextFrame()
		if !ok {
			return out
		}
		out = append(out, d.record(frame))
	}
}

// nextFrame scans for the preamble and extracts one CRC-verified frame.
func (d *Decoder) nextFrame() ([]byte, bool) {
	for {
		start := 0
		for start < len(d.buf) && d.buf[start] != preamble {
			start++
		}
		d.buf = d.buf[start:]

		if len(d.buf) < 3 {
			return nil, false
		}
		payloadLen := int(getBitU(d.buf, 14, 10))
		total := payloadLen + frameOverhead
		if len(d.buf) < total {
			return nil, false
		}

		frame := d.buf[:total]
		if crc24q(frame[:total-3]) != getBitU(frame, (total-3)*8, 24) {
			d.logger.Debug().
				Str(log.FieldEvent, "rtcm.crc_mismatch").
				Int("len", payloadLen).
				Msg("dropping frame")
			d.buf = d.buf[1:]
			continue
		}

		// The frame is handed out by value; the buffer is reused.
		out := make([]byte, total)
		copy(out, frame)
		d.buf = d.buf[total:]
		return out, true
	}
}

// record stamps one verified frame. Messages that carry an observation time
// resolve it against the wall clock; everything else (station descriptions,
// broadcast ephemerides) rides along with the stream's last observed epoch.
func (d *Decoder) record(frame []byte) gnss.CorrectionRecord {
	epoch, ok := d.epochOf(frame)
	if ok {
		d.last = epoch
	} else {
		epoch = d.last
		if epoch == 0 {
			epoch = gnss.EpochOf(d.now(), d.period)
		}
	}
	return gnss.CorrectionRecord{
		StationID: d.stationID,
		Epoch:     epoch,
		Raw:       frame,
	}
}

// epochOf extracts the observation time from message types that carry one.
// The header layout is shared: 12-bit message number, 12-bit station id, then
// a 30-bit time-of-week in milliseconds.
func (d *Decoder) epochOf(frame []byte) (gnss.Epoch, bool) {
	msgNum := int(getBitU(frame, 24, 12))

	var offset time.Duration
	switch {
	case msgNum >= 1001 && msgNum <= 1004: // legacy GPS observations
	case msgNum >= 1071 && msgNum <= 1077: // GPS MSM
	case msgNum >= 1091 && msgNum <= 1097: // Galileo MSM, GST is GPS-aligned
	case msgNum >= 1121 && msgNum <= 1127: // BeiDou MSM
		offset = bdsOffset
	default:
		return 0, false
	}

	towMs := getBitU(frame, 48, 30)
	tow := time.Duration(towMs)*time.Millisecond + offset
	t := gnss.ResolveTow(d.now(), tow)
	return gnss.EpochOf(t, d.period), true
}

func getBitU(buff []byte, pos, length int) uint32 {
	var v uint32
	for i := pos; i < pos+length; i++ {
		v = v<<1 | uint32(buff[i/8]>>(7-i%8))&1
	}
	return v
}

// crc24q computes the CRC-24Q checksum used by RTCM 3 framing.
func crc24q(b []byte) uint32 {
	var crc uint32
	for _, c := range b {
		crc ^= uint32(c) << 16
		for i := 0; i < 8; i++ {
			crc <<= 1
			if crc&0x1000000 != 0 {
				crc ^= 0x1864CFB
			}
		}
	}
	return crc & 0xFFFFFF
}
