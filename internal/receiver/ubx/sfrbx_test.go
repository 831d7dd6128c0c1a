// SPDX-License-Identifier: MIT

package ubx

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtnav/rtnavd/internal/gnss"
)

// sfrbxPayload wraps a parity-stripped 30-byte LNAV buffer back into the
// SFRBX wire form: 10 little-endian words with the 24 data bits above 6 zero
// parity bits.
func sfrbxPayload(gnssID, svID byte, buff []byte) []byte {
	p := make([]byte, sfrbxHeaderLen, sfrbxHeaderLen+4*gpsWords)
	p[0] = gnssID
	p[1] = svID
	p[4] = gpsWords
	for i := 0; i < gpsWords; i++ {
		w := getBitU(buff, 24*i, 24) << 6
		var word [4]byte
		binary.LittleEndian.PutUint32(word[:], w)
		p = append(p, word[:]...)
	}
	return p
}

func subframeBuffer(id uint32) []byte {
	buff := make([]byte, 30)
	setBitU(buff, 43, 3, id)
	return buff
}

func TestDecodeSubframe1(t *testing.T) {
	buff := subframeBuffer(1)
	setBitU(buff, 48, 10, 377)      // week
	setBitU(buff, 70, 2, 0)         // IODC high bits
	setBitU(buff, 160, 8, 0xFB)     // tgd, negative
	setBitU(buff, 168, 8, 0x5C)     // IODC low bits
	setBitU(buff, 176, 16, 450)     // toc / 16
	setBitU(buff, 192, 8, 2)        // af2
	setBitU(buff, 200, 16, 0x8000)  // af1, most negative
	setBitU(buff, 216, 22, 0x0000FF) // af0

	d := NewDecoder(time.Second)
	frame := encodeFrame(classRxm, idSfrbx, sfrbxPayload(0, 11, buff))
	recs := d.Decode(frame)
	require.Len(t, recs, 1)

	nav, ok := recs[0].(gnss.NavigationRecord)
	require.True(t, ok)
	assert.Equal(t, gnss.SatID{Constellation: gnss.GPS, PRN: 11}, nav.Sat)

	clk, ok := nav.Frame.(gnss.ClockTerms)
	require.True(t, ok)
	assert.Equal(t, uint16(377), clk.Week)
	assert.Equal(t, uint16(0x5C), clk.IODC)
	assert.Equal(t, 450*16.0, clk.Toc)
	assert.InDelta(t, float64(-5)*p2x31, clk.TGD, 1e-18)
	assert.InDelta(t, 2*p2x55, clk.Af2, 1e-22)
	assert.InDelta(t, float64(-0x8000)*p2x43, clk.Af1, 1e-18)
	assert.InDelta(t, float64(0xFF)*p2x31, clk.Af0, 1e-15)
}

func TestDecodeSubframe2(t *testing.T) {
	buff := subframeBuffer(2)
	setBitU(buff, 48, 8, 0x2A)         // IODE
	setBitU(buff, 88, 32, 0x80000000)  // M0, most negative
	setBitU(buff, 136, 32, 0x0ABCDEF0) // eccentricity
	setBitU(buff, 184, 32, 2702023066) // sqrtA raw (~5153.7 * 2^19)
	setBitU(buff, 216, 16, 450)        // toe / 16

	d := NewDecoder(time.Second)
	recs := d.Decode(encodeFrame(classRxm, idSfrbx, sfrbxPayload(0, 3, buff)))
	require.Len(t, recs, 1)

	orb, ok := recs[0].(gnss.NavigationRecord).Frame.(gnss.OrbitTerms1)
	require.True(t, ok)
	assert.Equal(t, uint8(0x2A), orb.IODE)
	assert.InDelta(t, -semicircle, orb.M0, 1e-9)
	assert.InDelta(t, float64(0x0ABCDEF0)*p2x33, orb.Ecc, 1e-12)
	assert.InDelta(t, 5153.7, orb.SqrtA, 1e-3)
	assert.Equal(t, 7200.0, orb.Toe)
}

func TestDecodeSubframe3(t *testing.T) {
	buff := subframeBuffer(3)
	setBitU(buff, 64, 32, 0x40000000) // Omega0 = +pi/2
	setBitU(buff, 112, 32, 0x20000000)
	setBitU(buff, 192, 24, 0xFFFFFF) // OmegaDot = -1 raw
	setBitU(buff, 216, 8, 0x2A)      // IODE

	d := NewDecoder(time.Second)
	recs := d.Decode(encodeFrame(classRxm, idSfrbx, sfrbxPayload(0, 30, buff)))
	require.Len(t, recs, 1)

	orb, ok := recs[0].(gnss.NavigationRecord).Frame.(gnss.OrbitTerms2)
	require.True(t, ok)
	assert.Equal(t, uint8(0x2A), orb.IODE)
	assert.InDelta(t, semicircle/2, orb.Omega0, 1e-9)
	assert.InDelta(t, semicircle/4, orb.I0, 1e-9)
	assert.InDelta(t, -p2x43*semicircle, orb.OmegaDot, 1e-18)
}

func TestDecodeSfrbxSkipsAlmanacAndOtherSystems(t *testing.T) {
	d := NewDecoder(time.Second)

	// Subframe 4 carries almanac and ionosphere pages, not ephemeris.
	recs := d.Decode(encodeFrame(classRxm, idSfrbx, sfrbxPayload(0, 1, subframeBuffer(4))))
	assert.Empty(t, recs)

	// Galileo I/NAV words use a different layout entirely.
	recs = d.Decode(encodeFrame(classRxm, idSfrbx, sfrbxPayload(2, 1, subframeBuffer(2))))
	assert.Empty(t, recs)
}

func TestSubframesAssembleIntoEphemeris(t *testing.T) {
	d := NewDecoder(time.Second)
	p := &gnss.PendingEphemeris{Sat: gnss.SatID{Constellation: gnss.GPS, PRN: 11}}

	s1 := subframeBuffer(1)
	setBitU(s1, 168, 8, 0x2A) // IODC low byte matches the IODEs below
	s2 := subframeBuffer(2)
	setBitU(s2, 48, 8, 0x2A)
	s3 := subframeBuffer(3)
	setBitU(s3, 216, 8, 0x2A)

	for _, buff := range [][]byte{s1, s2, s3} {
		recs := d.Decode(encodeFrame(classRxm, idSfrbx, sfrbxPayload(0, 11, buff)))
		require.Len(t, recs, 1)
		p.Update(recs[0].(gnss.NavigationRecord).Frame)
	}

	_, ok := p.Validate()
	assert.True(t, ok)
}
