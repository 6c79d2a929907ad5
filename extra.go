package burst

import "time"

const (
	extTimeExtraID  = 0x5455 // Info-ZIP extended timestamp
	extTimeExtraLen = 9      // id(2) + size(2) + flags(1) + modtime(4)
)

// encodeExtTimeExtra builds an Info-ZIP extended-timestamp extra field
// carrying only the modification time, the same format the teacher uses
// for both local and central headers (timezone-agnostic, unlike the
// legacy MS-DOS date/time also written into the fixed header fields).
func encodeExtTimeExtra(modified time.Time) []byte {
	if modified.IsZero() {
		modified = time.Unix(0, 0).UTC()
	}
	var buf [extTimeExtraLen]byte
	b := writeBuf(buf[:])
	b.uint16(extTimeExtraID)
	b.uint16(5) // size: 1 flag byte + 4-byte modtime
	b.uint8(1)  // flags: ModTime present
	b.uint32(uint32(modified.Unix()))
	return buf[:]
}

// encodeUnixExtra builds the Info-ZIP new-Unix extra field (0x7875):
// version 1, variable-length uid and gid. BURST always encodes uid and
// gid as 4-byte fields, which hold any uint32 value.
func encodeUnixExtra(uid, gid uint32) []byte {
	buf := make([]byte, 4+1+1+4+1+4)
	b := writeBuf(buf)
	b.uint16(unixExtraID)
	b.uint16(1 + 1 + 4 + 1 + 4) // size field
	b.uint8(unixExtraVersion)
	b.uint8(4) // uid size
	b.uint32(uid)
	b.uint8(4) // gid size
	b.uint32(gid)
	return buf
}

// encodeZip64Extra builds the ZIP64 extended-information extra field
// (0x0001), including only those of {uncompressed size, compressed
// size, local header offset} that overflow the 32-bit sentinel, in
// that fixed order, as ZIP64 requires.
func encodeZip64Extra(e *fileEntry) []byte {
	var fields []uint64
	if e.uncompressedSize >= uint32max {
		fields = append(fields, e.uncompressedSize)
	}
	if e.compressedSize >= uint32max {
		fields = append(fields, e.compressedSize)
	}
	if e.lfhOffset >= uint32max {
		fields = append(fields, e.lfhOffset)
	}
	if len(fields) == 0 {
		return nil
	}
	buf := make([]byte, 4+8*len(fields))
	b := writeBuf(buf)
	b.uint16(zip64ExtraID)
	b.uint16(uint16(8 * len(fields)))
	for _, f := range fields {
		b.uint64(f)
	}
	return buf
}
