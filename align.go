package burst

// alignAction names the decision the planner returns for the next
// compressed frame write, per spec §4.3.
type alignAction int

const (
	// actionWriteFrame writes the frame as-is; nothing else.
	actionWriteFrame alignAction = iota
	// actionPadThenFrame writes a padding frame of padLen bytes, then
	// the frame, with no start-of-part marker. Part of the decision
	// algebra described by the format, but unreachable from planChunk
	// given the frozen MaxExtent/DefaultPartSize/reserve constants:
	// every case that needs padding here also needs a start-of-part
	// marker, because padding is only ever inserted to reach a part
	// boundary. Kept so the type mirrors the full action set and so a
	// future caller with different constants has somewhere to put it.
	actionPadThenFrame
	// actionPadThenMetadata writes padding of padLen bytes, then a
	// start-of-part frame, then the frame.
	actionPadThenMetadata
	// actionWriteFrameThenMetadata writes the frame (it exactly
	// consumes to the boundary), then a start-of-part frame.
	actionWriteFrameThenMetadata
)

// alignDecision is the side-effect-free result of the planner: what to
// do before/after writing a compressed frame of size frameSize at the
// current position.
type alignDecision struct {
	action alignAction
	// padLen is the size in bytes of the padding frame to write first,
	// valid for actionPadThenFrame and actionPadThenMetadata.
	padLen int
}

// nextBoundary returns the smallest offset strictly greater than pos
// that is a multiple of partSize.
func nextBoundary(pos uint64, partSize uint64) uint64 {
	return (pos/partSize + 1) * partSize
}

// planChunk implements the alignment planner's core contract (§4.3):
// given the current absolute write position pos and the size of the
// next compressed frame that would be written frameSize, decide how to
// reach the frame without ever letting a frame other than an LFH or
// start-of-part frame begin at a part boundary, and without ever
// leaving so little room before the boundary that a subsequent data
// descriptor plus a padding LFH could fail to fit.
//
// planChunk assumes pos is not itself at a boundary; callers that might
// be sitting exactly on one (e.g. immediately after an LFH that happens
// to end there) must emit a start-of-part frame first, as
// Writer.writeChunkFrame does.
func planChunk(pos uint64, frameSize uint64, partSize uint64) alignDecision {
	boundary := nextBoundary(pos, partSize)
	space := boundary - pos

	if frameSize == space {
		// Rule 2: the frame exactly reaches the boundary.
		return alignDecision{action: actionWriteFrameThenMetadata}
	}

	// Rule 1 (and its rule-4 carve-out): the frame may only be written
	// in place if doing so still leaves enough room, before the next
	// boundary, for a worst-case data descriptor plus a padding LFH —
	// otherwise whatever has to follow this chunk (another chunk, or
	// the entry's data descriptor) could be the thing that ends up
	// straddling the boundary. Requiring the leftover reserve (68
	// bytes) to be intact also automatically keeps the leftover gap
	// well above the 8-byte minimum skippable frame size, so the
	// forbidden sub-8-byte sliver of rule 4 can never arise here.
	reserve := uint64(paddingLFHMin + maxDataDescriptor)
	if frameSize+reserve <= space {
		return alignDecision{action: actionWriteFrame}
	}

	// Rule 3: either the frame does not fit at all, or it fits but
	// would not leave room for what must follow it. Either way, pad to
	// the boundary, mark it with a start-of-part frame recording how
	// much of this entry's uncompressed content precedes the boundary,
	// and write the frame after.
	return alignDecision{action: actionPadThenMetadata, padLen: int(space)}
}

// headerOnlyPreAlign implements the common pre-alignment rule shared by
// append_symlink, append_directory, and the LFH step of append_file
// (§4.4): if the space remaining before the next boundary is smaller
// than the space this header-only write needs (including the
// PADDING_LFH_MIN safety margin), a padding LFH is inserted first,
// sized to exactly fill the gap.
//
// required is lfh_len + content_size + (descriptor_size if applicable)
// + PADDING_LFH_MIN, computed by the caller. AppendFile counts no
// content here, since its chunks go through planChunk.
func headerOnlyPreAlign(pos uint64, required uint64, partSize uint64) (padLFH bool, gap uint64) {
	boundary := nextBoundary(pos, partSize)
	space := boundary - pos
	if required <= space {
		return false, 0
	}
	return true, space
}

// descriptorPreAlign implements invariant 3's pre-descriptor check: is
// there room, before the next boundary, for a trailing data descriptor
// (descriptorLen bytes, 16 or 24 depending on whether ZIP64 sizing
// ended up in use) plus one PADDING_LFH_MIN for whatever entry comes
// next? If not, the caller must pad to the boundary and emit a
// start-of-part frame (recording the entry's total uncompressed size)
// before writing the descriptor.
func descriptorPreAlign(pos uint64, descriptorLen uint64, partSize uint64) (needsPad bool, padLen uint64) {
	boundary := nextBoundary(pos, partSize)
	space := boundary - pos
	required := descriptorLen + paddingLFHMin
	if required <= space {
		return false, 0
	}
	return true, space
}
