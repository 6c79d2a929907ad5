// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package burst implements the writer side of the BURST archive format:
// a ZIP-compatible container whose body is laid out in strictly
// part-aligned frames so that a downloader can fetch 8 MiB byte ranges
// in parallel and hand the compressed data straight to a kernel that
// accepts pre-compressed extents, without decompressing anything in the
// host process.
//
// The format is produced, never parsed, by this package's primary type,
// Writer. A handful of unexported parsing routines, used by this
// package's tests, decode parts of the layout this package emits; see
// frame.go and compress.go.
package burst

import (
	"encoding/binary"
)

// Compression methods, same numbering as the ZIP specification.
const (
	methodStore uint16 = 0
	methodZstd  uint16 = 93 // registered PKWARE method ID for Zstandard
)

const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50
	dataDescriptorSignature  = 0x08074b50 // de-facto standard; required by OS X Finder

	fileHeaderLen      = 30 // + filename + extra
	directoryHeaderLen = 46 // + filename + extra + comment
	directoryEndLen    = 22 // + comment
	dataDescriptorLen  = 16 // signature, crc32, 32-bit csize, 32-bit usize
	dataDescriptor64Len = 24 // signature, crc32, 64-bit csize, 64-bit usize
	directory64LocLen  = 20
	directory64EndLen  = 56 // + extra

	// Constants for the first byte of CreatorVersion / version-made-by.
	creatorUnix = 3

	zipVersion20 = 20 // 2.0
	zipVersion45 = 45 // 4.5 (zip64)

	uint16max = (1 << 16) - 1
	uint32max = (1 << 32) - 1

	zip64ExtraID = 0x0001 // Zip64 extended information
	unixExtraID  = 0x7875 // Info-ZIP new Unix extra field

	unixExtraVersion = 1
)

// Archive-layout constants fixed by the format (see spec §6).
const (
	// DefaultPartSize is the BURST part size: every part begins at an
	// offset that is a multiple of this, except possibly the final,
	// shorter part.
	DefaultPartSize = 8 << 20 // 8 MiB

	// MaxExtent is the largest number of uncompressed bytes any single
	// compressed data frame may represent. It is fixed by the target
	// kernel's encoded-write interface, which accepts one extent of at
	// most this size.
	MaxExtent = 128 << 10 // 128 KiB

	// minSkippableFrame is the smallest legal skippable frame: magic
	// plus a zero-length payload.
	minSkippableFrame = 8

	// paddingLFHMin is the smallest a padding LFH can be: the 30-byte
	// fixed prefix plus the frozen sentinel filename.
	paddingLFHMin = fileHeaderLen + len(paddingSentinelName)

	// maxDataDescriptor is the worst-case size of a trailing data
	// descriptor (the ZIP64 variant).
	maxDataDescriptor = dataDescriptor64Len
)

// paddingSentinelName is the filename stamped on padding LFHs. It is 14
// NUL bytes: NUL cannot appear in a real path on any filesystem BURST
// targets, so it can never collide with a real entry, and it does not
// end in "/" so the central-directory builder can tell it apart from a
// zero-length directory entry. Frozen at format-definition time; see
// DESIGN.md for the rationale (spec §9 open question 1).
const paddingSentinelName = "\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00"

// Skippable-frame wire format. BURST reuses the Zstandard skippable
// frame envelope (magic | 4-byte LE payload length | payload) for its
// padding and start-of-part frames, so that any Zstandard-compatible
// decoder walking the compressed region of an entry skips them
// automatically along with the real compressed frames.
const (
	// magicSkip is the outer magic for BURST's skippable frames. It
	// falls within the Zstandard skippable-frame magic range
	// (0x184D2A50-0x184D2A5F) so generic zstd decoders recognize and
	// skip it, but is otherwise a fixed value distinct from the
	// Zstandard frame magic used by real compressed frames.
	magicSkip uint32 = 0x184D2A50

	// zstdFrameMagic is the magic at the start of a real compressed
	// data frame (a standalone Zstandard frame). Used only to
	// distinguish frame kinds when scanning; BURST never re-derives
	// this from the codec, it is a fixed constant of the wire format.
	zstdFrameMagic uint32 = 0xFD2FB528

	skipTagPadding     byte = 0
	skipTagStartOfPart byte = 1

	// startOfPartPayloadLen is the payload length of a start-of-part
	// frame: 1 type-tag byte, 8 bytes uncompressed offset, 8 bytes
	// reserved (zero).
	startOfPartPayloadLen = 17
	startOfPartFrameLen   = minSkippableFrame + startOfPartPayloadLen
)

// magicBurst is the magic stamped into the fixed-size EOCD comment that
// lets a reader fetching only the archive's tail part locate the first
// complete central-directory file header without scanning.
const magicBurst uint32 = 0x54535242 // "BRST" read little-endian

// eocdCommentLen is the fixed length of the BURST EOCD comment: magic
// (4) + 3-byte LE tail offset + 1 reserved byte.
const eocdCommentLen = 8

// noCDFHInTail is the sentinel value of the 3-byte tail offset meaning
// no complete CDFH begins within the tail part.
const noCDFHInTail = 0xFFFFFF

// writeBuf is a little-endian binary-layout cursor, used the same way
// the teacher's writer used one: slice off the front as each field is
// written so encode functions read top-to-bottom like the record they
// produce.
type writeBuf []byte

func (b *writeBuf) uint8(v uint8) {
	(*b)[0] = v
	*b = (*b)[1:]
}

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint24(v uint32) {
	(*b)[0] = byte(v)
	(*b)[1] = byte(v >> 8)
	(*b)[2] = byte(v >> 16)
	*b = (*b)[3:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

func (b *writeBuf) uint64(v uint64) {
	binary.LittleEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}

func (b *writeBuf) bytes(v []byte) {
	n := copy(*b, v)
	*b = (*b)[n:]
}
