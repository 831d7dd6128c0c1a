// SPDX-License-Identifier: MIT

package ntrip

import "github.com/rtnav/rtnavd/internal/gnss"

// CorrectionDecoder turns the raw correction byte stream of one session into
// typed correction records. The frame grammar (RTCM or otherwise) is
// external to this package; the decoder keeps its own frame-assembly state
// between calls and skips malformed frames silently.
type CorrectionDecoder interface {
	Decode(chunk []byte) []gnss.CorrectionRecord
}

// DecoderFactory builds one decoder per session. Decoders are stateful, so
// sessions never share one.
type DecoderFactory func(stationID string) CorrectionDecoder
