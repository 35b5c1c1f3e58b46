package frame

import "errors"

// Codec error taxonomy.
var (
	// ErrLinkClosed means the peer hung up mid-frame: a short read hit
	// end-of-stream before the declared length was fully consumed.
	ErrLinkClosed = errors.New("frame: link closed")

	// ErrMalformedHeader means the declared header bytes did not decode
	// as a UTF-8 JSON object.
	ErrMalformedHeader = errors.New("frame: malformed header")

	// ErrOversizedHeader means the declared header length exceeded
	// MaxHeaderSize.
	ErrOversizedHeader = errors.New("frame: oversized header")
)

// MaxHeaderSize is the implementation-defined cap on header length.
const MaxHeaderSize = 1 << 20 // 1 MiB
