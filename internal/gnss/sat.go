// SPDX-License-Identifier: MIT

package gnss

import "fmt"

// Constellation enumerates the satellite systems the pipeline understands.
type Constellation uint8

const (
	GPS Constellation = iota
	Galileo
	Glonass
	BeiDou
)

// letter follows the RINEX system identifier convention.
func (c Constellation) letter() byte {
	switch c {
	case GPS:
		return 'G'
	case Galileo:
		return 'E'
	case Glonass:
		return 'R'
	case BeiDou:
		return 'C'
	default:
		return '?'
	}
}

func (c Constellation) String() string {
	switch c {
	case GPS:
		return "GPS"
	case Galileo:
		return "Galileo"
	case Glonass:
		return "GLONASS"
	case BeiDou:
		return "BeiDou"
	default:
		return fmt.Sprintf("Constellation(%d)", uint8(c))
	}
}

// SatID identifies one satellite vehicle.
type SatID struct {
	Constellation Constellation
	PRN           uint8
}

func (s SatID) String() string {
	return fmt.Sprintf("%c%02d", s.Constellation.letter(), s.PRN)
}

// Band identifies the carrier frequency band of a signal.
type Band uint8

const (
	BandL1 Band = iota
	BandL2
	BandL5
)

func (b Band) String() string {
	switch b {
	case BandL1:
		return "L1"
	case BandL2:
		return "L2"
	case BandL5:
		return "L5"
	default:
		return fmt.Sprintf("Band(%d)", uint8(b))
	}
}

// Measurement is one satellite's observation at one epoch.
type Measurement struct {
	Band        Band
	Pseudorange float64 // meters
	Carrier     float64 // cycles, ambiguous
	Doppler     float64 // Hz
	CN0         float64 // dB-Hz
}
