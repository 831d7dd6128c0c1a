// SPDX-License-Identifier: MIT

// Package receiver adapts the hardware receiver's serial link into the lazy
// record stream the synchronizer consumes. The wire-protocol grammar itself
// lives behind FrameDecoder; this package only owns the device I/O loop.
package receiver

import (
	"context"
	"io"

	"github.com/rtnav/rtnavd/internal/gnss"
)

// FrameDecoder turns raw device bytes into decoded receiver records. Decode
// is called with each chunk read from the device; the decoder keeps its own
// frame-assembly state between calls and returns the records completed by
// the chunk. Malformed frames are skipped, not surfaced as errors.
type FrameDecoder interface {
	Decode(chunk []byte) []gnss.ReceiverRecord
}

// Configurer is implemented by decoders that must program the device before
// it emits periodic measurement and navigation messages. The write side of
// rw reaches the device; the read side observes its acknowledgements.
type Configurer interface {
	Configure(ctx context.Context, rw io.ReadWriter) error
}

// Source yields a lazy, unbounded sequence of decoded receiver records. The
// channel closes when the device disconnects or the context is cancelled;
// Err distinguishes the two.
type Source interface {
	Records() <-chan gnss.ReceiverRecord
	Err() error
}
