// SPDX-License-Identifier: MIT

package ubx

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/rtnav/rtnavd/internal/gnss"
	"github.com/rtnav/rtnavd/internal/log"
)

const (
	rawxHeaderLen = 16
	rawxBlockLen  = 32

	trkPrValid = 1 << 0
	trkCpValid = 1 << 1
)

// decodeRawx parses an RXM-RAWX payload: a fixed header carrying the receiver
// timestamp followed by one 32-byte block per tracked signal. Blocks whose
// pseudorange is flagged invalid, or whose signal the pipeline does not
// track, are skipped.
func (d *Decoder) decodeRawx(payload []byte) (gnss.MeasurementRecord, bool) {
	if len(payload) < rawxHeaderLen {
		return gnss.MeasurementRecord{}, false
	}

	rcvTow := math.Float64frombits(binary.LittleEndian.Uint64(payload[0:]))
	week := binary.LittleEndian.Uint16(payload[8:])
	numMeas := int(payload[11])

	if len(payload) < rawxHeaderLen+numMeas*rawxBlockLen {
		d.logger.Warn().
			Str(log.FieldEvent, "ubx.rawx_truncated").
			Int("num_meas", numMeas).
			Int("payload_len", len(payload)).
			Msg("dropping observation set")
		return gnss.MeasurementRecord{}, false
	}

	t := gnss.TimeFromWeekTow(int64(week), time.Duration(rcvTow*float64(time.Second)))
	epoch := gnss.EpochOf(t, d.period)

	sats := make(map[gnss.SatID]gnss.Measurement, numMeas)
	for n := 0; n < numMeas; n++ {
		block := payload[rawxHeaderLen+n*rawxBlockLen:]

		trkStat := block[30]
		if trkStat&trkPrValid == 0 {
			continue
		}

		sat, band, ok := signalOf(block[20], block[21], block[22])
		if !ok {
			continue
		}
		// One measurement per satellite; the primary band wins when the
		// receiver tracks both.
		if prev, dup := sats[sat]; dup && prev.Band == gnss.BandL1 {
			continue
		}

		m := gnss.Measurement{
			Band:        band,
			Pseudorange: math.Float64frombits(binary.LittleEndian.Uint64(block[0:])),
			Doppler:     float64(math.Float32frombits(binary.LittleEndian.Uint32(block[16:]))),
			CN0:         float64(block[26]),
		}
		if trkStat&trkCpValid != 0 {
			m.Carrier = math.Float64frombits(binary.LittleEndian.Uint64(block[8:]))
		}
		sats[sat] = m
	}

	if len(sats) == 0 {
		return gnss.MeasurementRecord{}, false
	}
	return gnss.MeasurementRecord{Epoch: epoch, Sats: sats}, true
}

// signalOf maps the RAWX gnssId/svId/sigId triple onto a satellite and band.
// Single-band engines only consume the primary signal per system, but the
// dual-frequency signals are carried through so they can.
func signalOf(gnssID, svID, sigID byte) (gnss.SatID, gnss.Band, bool) {
	var (
		c    gnss.Constellation
		band gnss.Band
	)
	switch gnssID {
	case 0: // GPS
		c = gnss.GPS
		switch sigID {
		case 0:
			band = gnss.BandL1
		case 3, 4:
			band = gnss.BandL2
		default:
			return gnss.SatID{}, 0, false
		}
	case 2: // Galileo
		c = gnss.Galileo
		switch sigID {
		case 0, 1:
			band = gnss.BandL1
		case 5, 6:
			band = gnss.BandL2
		default:
			return gnss.SatID{}, 0, false
		}
	case 3: // BeiDou
		c = gnss.BeiDou
		switch sigID {
		case 0, 1:
			band = gnss.BandL1
		case 2, 3:
			band = gnss.BandL2
		default:
			return gnss.SatID{}, 0, false
		}
	case 6: // GLONASS
		c = gnss.Glonass
		switch sigID {
		case 0:
			band = gnss.BandL1
		case 2:
			band = gnss.BandL2
		default:
			return gnss.SatID{}, 0, false
		}
	default:
		return gnss.SatID{}, 0, false
	}
	return gnss.SatID{Constellation: c, PRN: svID}, band, true
}
