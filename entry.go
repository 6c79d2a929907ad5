// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package burst

import (
	"os"
	"time"
)

// Unix mode constants. The ZIP specification doesn't mention them, but
// these are the values every major tool agrees on.
const (
	sIFMT  = 0xf000
	sIFLNK = 0xa000
	sIFREG = 0x8000
	sIFDIR = 0x4000

	msdosDir      = 0x10
	msdosReadOnly = 0x01
)

// entryKind distinguishes the three member kinds the entry appender
// accepts (§4.4). Header-only kinds never go through the alignment
// planner's per-chunk path.
type entryKind int

const (
	kindFile entryKind = iota
	kindSymlink
	kindDirectory
)

// fileEntry is the record the entry appender keeps per archive member
// (§3 "File entry"), read only during finalize by the central directory
// builder.
type fileEntry struct {
	kind entryKind

	name string
	mode os.FileMode // full mode including type bits
	uid  uint32
	gid  uint32

	lfhOffset     uint64
	dataOffset    uint64 // offset of the first byte of compressed/stored content
	compressedSize   uint64
	uncompressedSize uint64
	crc32            uint32

	method  uint16
	flags   uint16
	modTime time.Time

	// descriptorIsZip64 records whether the trailing data descriptor
	// (if any) used 64-bit sizes. The central directory builder does
	// not read it; it derives ZIP64 treatment from the sizes and offset.
	descriptorIsZip64 bool
}

// isZip64 reports whether this entry's final sizes require ZIP64
// treatment in the central directory.
func (e *fileEntry) isZip64() bool {
	return e.compressedSize >= uint32max || e.uncompressedSize >= uint32max || e.lfhOffset >= uint32max
}

// unixExternalAttrs packs the Unix mode into the upper 16 bits of
// external_file_attributes, matching the teacher's SetMode/Mode pair.
func (e *fileEntry) unixExternalAttrs() uint32 {
	attrs := fileModeToUnixMode(e.mode) << 16
	if e.mode.IsDir() {
		attrs |= msdosDir
	}
	if e.mode&0200 == 0 {
		attrs |= msdosReadOnly
	}
	return attrs
}

func fileModeToUnixMode(mode os.FileMode) uint32 {
	var m uint32
	switch mode & os.ModeType {
	default:
		m = sIFREG
	case os.ModeDir:
		m = sIFDIR
	case os.ModeSymlink:
		m = sIFLNK
	}
	return m | uint32(mode.Perm())
}
