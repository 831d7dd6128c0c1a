// SPDX-License-Identifier: MIT

package ubx

import (
	"encoding/binary"
	"math"

	"github.com/rtnav/rtnavd/internal/gnss"
	"github.com/rtnav/rtnavd/internal/log"
)

// LNAV scale factors (powers of two) applied to the raw subframe fields.
const (
	p2x5  = 1.0 / (1 << 5)
	p2x19 = 1.0 / (1 << 19)
	p2x29 = 1.0 / (1 << 29)
	p2x31 = 1.0 / (1 << 31)
	p2x33 = 1.0 / (1 << 33)
	p2x43 = 1.0 / (1 << 43)
	p2x55 = 1.0 / (1 << 55)

	// Angular LNAV fields are broadcast in semicircles.
	semicircle = math.Pi
)

const (
	sfrbxHeaderLen = 8
	gpsWords       = 10
)

// decodeSfrbx parses an RXM-SFRBX payload into a navigation record. Only GPS
// LNAV subframes 1..3 contribute to ephemeris assembly; everything else
// (almanac pages, other systems) is skipped.
func (d *Decoder) decodeSfrbx(payload []byte) (gnss.NavigationRecord, bool) {
	if len(payload) < sfrbxHeaderLen {
		return gnss.NavigationRecord{}, false
	}
	gnssID, svID := payload[0], payload[1]
	numWords := int(payload[4])

	if gnssID != 0 { // GPS only
		return gnss.NavigationRecord{}, false
	}
	if numWords != gpsWords || len(payload) < sfrbxHeaderLen+4*gpsWords {
		return gnss.NavigationRecord{}, false
	}

	// Each 32-bit word carries 24 navigation data bits above the 6 parity
	// bits; strip the parity and pack the words into a contiguous bit buffer.
	var buff [30]byte
	for i := 0; i < gpsWords; i++ {
		w := binary.LittleEndian.Uint32(payload[sfrbxHeaderLen+4*i:])
		setBitU(buff[:], 24*i, 24, w>>6)
	}

	frame, ok := decodeLNAV(buff[:])
	if !ok {
		return gnss.NavigationRecord{}, false
	}

	sat := gnss.SatID{Constellation: gnss.GPS, PRN: svID}
	d.logger.Debug().
		Str(log.FieldEvent, "ubx.subframe").
		Stringer("sat", sat).
		Msg("navigation subframe decoded")

	return gnss.NavigationRecord{Sat: sat, Frame: frame}, true
}

// decodeLNAV extracts the ephemeris fields from one parity-stripped LNAV
// subframe. Bit positions follow IS-GPS-200 with the 6 parity bits of each
// word removed.
func decodeLNAV(buff []byte) (gnss.Subframe, bool) {
	id := getBitU(buff, 43, 3)
	switch id {
	case 1:
		iodc := uint16(getBitU(buff, 70, 2))<<8 | uint16(getBitU(buff, 168, 8))
		return gnss.ClockTerms{
			Week: uint16(getBitU(buff, 48, 10)),
			IODC: iodc,
			TGD:  float64(getBitS(buff, 160, 8)) * p2x31,
			Toc:  float64(getBitU(buff, 176, 16)) * 16,
			Af2:  float64(getBitS(buff, 192, 8)) * p2x55,
			Af1:  float64(getBitS(buff, 200, 16)) * p2x43,
			Af0:  float64(getBitS(buff, 216, 22)) * p2x31,
		}, true
	case 2:
		return gnss.OrbitTerms1{
			IODE:   uint8(getBitU(buff, 48, 8)),
			Crs:    float64(getBitS(buff, 56, 16)) * p2x5,
			DeltaN: float64(getBitS(buff, 72, 16)) * p2x43 * semicircle,
			M0:     float64(getBitS(buff, 88, 32)) * p2x31 * semicircle,
			Cuc:    float64(getBitS(buff, 120, 16)) * p2x29,
			Ecc:    float64(getBitU(buff, 136, 32)) * p2x33,
			Cus:    float64(getBitS(buff, 168, 16)) * p2x29,
			SqrtA:  float64(getBitU(buff, 184, 32)) * p2x19,
			Toe:    float64(getBitU(buff, 216, 16)) * 16,
		}, true
	case 3:
		return gnss.OrbitTerms2{
			Cic:      float64(getBitS(buff, 48, 16)) * p2x29,
			Omega0:   float64(getBitS(buff, 64, 32)) * p2x31 * semicircle,
			Cis:      float64(getBitS(buff, 96, 16)) * p2x29,
			I0:       float64(getBitS(buff, 112, 32)) * p2x31 * semicircle,
			Crc:      float64(getBitS(buff, 144, 16)) * p2x5,
			Omega:    float64(getBitS(buff, 160, 32)) * p2x31 * semicircle,
			OmegaDot: float64(getBitS(buff, 192, 24)) * p2x43 * semicircle,
			IODE:     uint8(getBitU(buff, 216, 8)),
			IDot:     float64(getBitS(buff, 224, 14)) * p2x43 * semicircle,
		}, true
	default:
		return nil, false
	}
}
