package burst

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// compressor wraps a zstd encoder configured to produce one
// self-contained frame per Compress call, each carrying its exact
// uncompressed content size in the frame header (Zstandard's
// Frame_Content_Size field), as required by §4.2. Grounded in
// SaveTheRbtz/zstd-seekable-format-go's seekableWriterImpl, which
// drives the same encoder the same way: EncodeAll per chunk rather than
// a streaming Write, so each chunk is an independently decodable frame.
type compressor struct {
	enc   *zstd.Encoder
	level zstd.EncoderLevel
}

func newCompressor(level zstd.EncoderLevel) (*compressor, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(level),
		zstd.WithEncoderConcurrency(1),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		return nil, &CodecError{Op: "new_encoder", Err: err}
	}
	return &compressor{enc: enc, level: level}, nil
}

// compress encodes src (which must be <= MaxExtent bytes, the caller's
// responsibility per §4.2) into dst as a single Zstandard frame and
// returns that frame, whose length is the compressed size. dst is grown
// as needed and returned; callers pass their reusable destination buffer back in on
// the next call to avoid repeated allocation.
func (c *compressor) compress(dst, src []byte) ([]byte, error) {
	if len(src) > MaxExtent {
		return nil, &CodecError{Op: "compress", Err: fmt.Errorf("chunk of %d bytes exceeds MaxExtent (%d)", len(src), MaxExtent)}
	}
	out := c.enc.EncodeAll(src, dst[:0])
	return out, nil
}

func (c *compressor) Close() error {
	if c.enc == nil {
		return nil
	}
	return c.enc.Close()
}

// frameContentSize parses a compressed frame's header and returns the
// uncompressed content size it declares, for use by verifyFrame and by
// the reader-side collaborator.
func frameContentSize(frame []byte) (uint64, error) {
	var hdr zstd.Header
	if err := hdr.Decode(frame); err != nil {
		return 0, &CodecError{Op: "decode_header", Err: err}
	}
	return hdr.FrameContentSize, nil
}

// verifyFrame checks that a compressed frame's embedded content size
// equals expectedSize, per §4.2's mandatory-in-debug, optional-in-
// release contract. The entry appender calls this unconditionally in
// debug builds (see assertions_debug.go) and skips it in release
// builds, where the cost of decoding every frame header again isn't
// worth paying on a path the compressor itself already guarantees.
func verifyFrame(frame []byte, expectedSize uint64) error {
	size, err := frameContentSize(frame)
	if err != nil {
		return err
	}
	if size != expectedSize {
		return &CodecError{Op: "verify", Err: fmt.Errorf("frame declares content size %d, expected %d", size, expectedSize)}
	}
	return nil
}

// newDecoder is exposed for tests and the reader-side collaborator:
// decoding the concatenation of compressed frames and BURST skippable
// frames for one entry needs nothing beyond a plain zstd.Decoder, since
// BURST's padding and start-of-part frames are themselves valid
// Zstandard skippable frames that the decoder discards on its own.
func newDecoder() (*zstd.Decoder, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, &CodecError{Op: "new_decoder", Err: err}
	}
	return dec, nil
}
