// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package burst

import (
	"fmt"
	"io"
)

// buildCentralDirectory is the central directory builder (C5). It
// writes one central directory file header per recorded entry,
// followed by an unconditional ZIP64 end-of-central-directory record
// and locator, and finally a standard end-of-central-directory record
// whose fixed-length comment encodes where in the archive's final
// partSize-sized tail the first central directory file header begins
// (zero when the whole directory lies within that tail), so a reader that has fetched only that tail part can locate the whole
// directory without a second round trip (§4.5, §6).
//
// BURST always emits the ZIP64 records, unlike the conditional-only-
// when-needed approach common ZIP writers (including the teacher) use:
// the tail-offset trick in the EOCD comment requires the central
// directory's starting offset to be knowable without first checking
// whether any individual entry overflowed 32 bits, and a reader that
// only understands ZIP64 fixed-offset math is simpler than one that has
// to branch on it.
func buildCentralDirectory(wtr *Writer) error {
	cdStart := wtr.pos
	cdSize, err := centralDirectorySize(wtr.entries)
	if err != nil {
		return err
	}

	zip64EocdLen := uint64(directory64EndLen)
	zip64LocLen := uint64(directory64LocLen)
	// The EOCD comment is always exactly eocdCommentLen bytes (§4.5/§6);
	// BURST carries no free-form comment, so this is the whole comment.
	eocdLen := uint64(directoryEndLen) + uint64(eocdCommentLen)

	archiveSize := cdStart + cdSize + zip64EocdLen + zip64LocLen + eocdLen
	tailOffset, hasTail := firstCDFHTailOffset(wtr.entries, cdStart, archiveSize, wtr.partSize)

	for _, e := range wtr.entries {
		if err := wtr.emit(func(w io.Writer) (int, error) { return encodeCDFH(w, e) }); err != nil {
			return err
		}
	}

	if wtr.pos != cdStart+cdSize {
		err := assertAligned(false, fmt.Sprintf("central directory size mismatch: wrote %d bytes, expected %d", wtr.pos-cdStart, cdSize))
		return err
	}

	if err := wtr.emit(func(w io.Writer) (int, error) {
		return encodeZip64EOCD(w, cdStart, cdSize, uint64(len(wtr.entries)))
	}); err != nil {
		return err
	}
	zip64EocdOffset := wtr.pos - zip64EocdLen
	if err := wtr.emit(func(w io.Writer) (int, error) { return encodeZip64Locator(w, zip64EocdOffset) }); err != nil {
		return err
	}

	burstComment := encodeBurstEOCDComment(tailOffset, hasTail)
	return wtr.emit(func(w io.Writer) (int, error) {
		return encodeEOCD(w, cdStart, cdSize, uint64(len(wtr.entries)), string(burstComment))
	})
}

// centralDirectorySize computes the exact byte length the central
// directory will occupy, so the EOCD tail-offset computation can be
// made before any trailer byte is written.
func centralDirectorySize(entries []*fileEntry) (uint64, error) {
	var total uint64
	for _, e := range entries {
		extraLen := cdfhExtraLen(e)
		entryLen := uint64(directoryHeaderLen) + uint64(len(e.name)) + extraLen
		if len(e.name) > uint16max {
			return 0, invalidArgument("finalize", fmt.Errorf("entry name %q too long", e.name))
		}
		total += entryLen
	}
	return total, nil
}

// cdfhExtraLen returns the length of a CDFH's extra field: the ZIP64
// extra (only the fields that actually overflowed) plus the Unix extra
// plus the extended-timestamp extra, matching what encodeCDFH writes.
func cdfhExtraLen(e *fileEntry) uint64 {
	n := uint64(len(encodeZip64Extra(e)))
	n += uint64(len(encodeUnixExtra(e.uid, e.gid)))
	n += uint64(len(encodeExtTimeExtra(e.modTime)))
	return n
}

// encodeCDFH writes one central directory file header: the 46-byte
// fixed prefix, the name, and the extra fields (ZIP64, Unix, extended
// timestamp, in that order). The ZIP64 extra is omitted entirely when
// none of an entry's sizes/offset overflow 32 bits, the same selective
// rule centralDirectorySize and cdfhExtraLen apply when predicting this
// header's length ahead of writing it.
func encodeCDFH(w io.Writer, e *fileEntry) (int, error) {
	if len(e.name) > uint16max {
		return 0, errLongName
	}

	zip64Extra := encodeZip64Extra(e)
	unixExtra := encodeUnixExtra(e.uid, e.gid)
	timeExtra := encodeExtTimeExtra(e.modTime)
	extra := make([]byte, 0, len(zip64Extra)+len(unixExtra)+len(timeExtra))
	extra = append(extra, zip64Extra...)
	extra = append(extra, unixExtra...)
	extra = append(extra, timeExtra...)

	readerVersion := uint16(zipVersion20)
	csize32, usize32, offset32 := uint32(e.compressedSize), uint32(e.uncompressedSize), uint32(e.lfhOffset)
	if e.isZip64() {
		readerVersion = zipVersion45
		if e.compressedSize >= uint32max {
			csize32 = uint32max
		}
		if e.uncompressedSize >= uint32max {
			usize32 = uint32max
		}
		if e.lfhOffset >= uint32max {
			offset32 = uint32max
		}
	}

	flags := e.flags
	modDate, modTime := timeToMsDosTime(e.modTime)

	var buf [directoryHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(directoryHeaderSignature)
	b.uint16(uint16(creatorUnix)<<8 | zipVersion45)
	b.uint16(readerVersion)
	b.uint16(flags)
	b.uint16(e.method)
	b.uint16(modTime)
	b.uint16(modDate)
	b.uint32(e.crc32)
	b.uint32(csize32)
	b.uint32(usize32)
	b.uint16(uint16(len(e.name)))
	b.uint16(uint16(len(extra)))
	b.uint16(0) // file comment length
	b.uint16(0) // disk number start
	b.uint16(0) // internal file attributes
	b.uint32(e.unixExternalAttrs())
	b.uint32(offset32)

	n := 0
	written, err := w.Write(buf[:])
	n += written
	if err != nil {
		return n, err
	}
	written, err = io.WriteString(w, e.name)
	n += written
	if err != nil {
		return n, err
	}
	written, err = w.Write(extra)
	n += written
	return n, err
}

// encodeZip64EOCD writes the 56-byte ZIP64 end-of-central-directory
// record. BURST never writes the variable-length extensible data
// sector the ZIP64 format allows for, so the record's declared size
// field is always exactly directory64EndLen-12.
func encodeZip64EOCD(w io.Writer, cdStart, cdSize, count uint64) (int, error) {
	var buf [directory64EndLen]byte
	b := writeBuf(buf[:])
	b.uint32(directory64EndSignature)
	b.uint64(uint64(directory64EndLen - 12))
	b.uint16(zipVersion45)
	b.uint16(zipVersion45)
	b.uint32(0) // number of this disk
	b.uint32(0) // disk with start of central directory
	b.uint64(count)
	b.uint64(count)
	b.uint64(cdSize)
	b.uint64(cdStart)
	return w.Write(buf[:])
}

// encodeZip64Locator writes the 20-byte ZIP64 end-of-central-directory
// locator, which always points at the ZIP64 EOCD this builder just
// wrote (BURST keeps everything on a single logical "disk").
func encodeZip64Locator(w io.Writer, zip64EocdOffset uint64) (int, error) {
	var buf [directory64LocLen]byte
	b := writeBuf(buf[:])
	b.uint32(directory64LocSignature)
	b.uint32(0) // disk with the start of the zip64 eocd
	b.uint64(zip64EocdOffset)
	b.uint32(1) // total number of disks
	return w.Write(buf[:])
}

// encodeEOCD writes the standard 22-byte end-of-central-directory
// record plus comment. The size and offset fields carry the real values
// when they fit in 32 bits and the ZIP64 sentinel (uint32max)
// otherwise; the entry counts carry the real count when it fits in 16
// bits and uint16max otherwise. The ZIP64 records this builder always
// writes hold the full values.
func encodeEOCD(w io.Writer, cdStart, cdSize, count uint64, comment string) (int, error) {
	if len(comment) > uint16max {
		return 0, invalidArgument("finalize", fmt.Errorf("comment too long: %d bytes", len(comment)))
	}
	countField := uint16(count)
	if count >= uint16max {
		countField = uint16max
	}
	var buf [directoryEndLen]byte
	b := writeBuf(buf[:])
	b.uint32(directoryEndSignature)
	b.uint16(0) // number of this disk
	b.uint16(0) // disk with start of central directory
	b.uint16(countField)
	b.uint16(countField)
	if cdSize >= uint32max {
		b.uint32(uint32max)
	} else {
		b.uint32(uint32(cdSize))
	}
	if cdStart >= uint32max {
		b.uint32(uint32max)
	} else {
		b.uint32(uint32(cdStart))
	}
	b.uint16(uint16(len(comment)))

	n := 0
	written, err := w.Write(buf[:])
	n += written
	if err != nil {
		return n, err
	}
	written, err = io.WriteString(w, comment)
	n += written
	return n, err
}

// firstCDFHTailOffset locates the first entry whose central directory
// file header begins at or after the start of the archive's final
// partSize-sized tail (or the whole archive, if it is shorter than one
// part), and returns that header's offset relative to the start of the
// tail, or zero when the whole central directory lies within the
// tail. hasTail is false if no complete CDFH begins within the tail
// (an archive with no entries, for instance), in which case the EOCD
// comment instead encodes noCDFHInTail.
func firstCDFHTailOffset(entries []*fileEntry, cdStart, archiveSize, partSize uint64) (offset uint64, hasTail bool) {
	tailLen := partSize
	if archiveSize < tailLen {
		tailLen = archiveSize
	}
	tailStart := archiveSize - tailLen

	if cdStart >= tailStart {
		// The whole central directory lies within the tail.
		return 0, len(entries) > 0
	}

	pos := cdStart
	for _, e := range entries {
		extraLen := cdfhExtraLen(e)
		headerLen := uint64(directoryHeaderLen) + uint64(len(e.name)) + extraLen
		if pos >= tailStart {
			return pos - tailStart, true
		}
		pos += headerLen
	}
	return 0, false
}

// encodeBurstEOCDComment builds the fixed 8-byte BURST comment: the
// magic, the 3-byte little-endian tail-relative offset (or
// noCDFHInTail if hasOffset is false), and one reserved zero byte.
func encodeBurstEOCDComment(offset uint64, hasOffset bool) []byte {
	var buf [eocdCommentLen]byte
	b := writeBuf(buf[:])
	b.uint32(magicBurst)
	if !hasOffset || offset > noCDFHInTail {
		b.uint24(noCDFHInTail)
	} else {
		b.uint24(uint32(offset))
	}
	b.uint8(0) // reserved
	return buf[:]
}
