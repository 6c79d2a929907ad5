// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can
// be found in the LICENSE file.

package burst

import (
	"bufio"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// outputBufferSize is the buffered output's fixed write buffer, per §5.
const outputBufferSize = 64 << 10

// Observer receives notifications about alignment decisions and
// finished entries. It exists so the re-architecture note in spec §9
// ("ambient process-wide profiling counters should become an injected
// observer interface") has a concrete seam: production callers can wire
// it to metrics, tests can wire it to assertions, and the zero value
// (NoopObserver) costs nothing.
type Observer interface {
	// OnPad is called whenever a padding frame or padding LFH of n
	// bytes is written.
	OnPad(n int)
	// OnStartOfPart is called whenever a start-of-part frame is
	// written, with the uncompressed offset it records.
	OnStartOfPart(uncompressedOffset uint64)
	// OnEntryWritten is called once an entry's frames are all written
	// (after its data descriptor, if any).
	OnEntryWritten(name string, compressedSize, uncompressedSize uint64)
}

// NoopObserver implements Observer by doing nothing. It is the default.
type NoopObserver struct{}

func (NoopObserver) OnPad(int)                            {}
func (NoopObserver) OnStartOfPart(uint64)                  {}
func (NoopObserver) OnEntryWritten(string, uint64, uint64) {}

// Option configures a Writer at construction time.
type Option func(*Writer) error

// WithPartSize overrides DefaultPartSize. It exists mainly so tests can
// exercise the alignment planner against small parts; production
// archives should use the frozen default, since §6 requires readers and
// writers to agree on the part size.
func WithPartSize(n int) Option {
	return func(w *Writer) error {
		if n <= 0 || n%minSkippableFrame != 0 {
			return invalidArgument("with_part_size", fmt.Errorf("part size %d must be positive and a multiple of %d", n, minSkippableFrame))
		}
		w.partSize = uint64(n)
		return nil
	}
}

// WithZstdLevel overrides the Zstandard encoder level used for every
// compressed frame. Defaults to zstd.SpeedDefault.
func WithZstdLevel(level zstd.EncoderLevel) Option {
	return func(w *Writer) error {
		w.zstdLevel = level
		return nil
	}
}

// WithLogger overrides the writer's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) error {
		if logger != nil {
			w.logger = logger
		}
		return nil
	}
}

// WithObserver installs an Observer. Defaults to NoopObserver.
func WithObserver(o Observer) Option {
	return func(w *Writer) error {
		if o != nil {
			w.observer = o
		}
		return nil
	}
}

// Writer is the BURST archive writer: the entry appender (C4) driving
// the alignment planner (C3), the compression adapter (C2), and the
// frame codec (C1), with the central directory builder (C5) running
// once at Finalize.
//
// Writer is strictly single-threaded and synchronous: every method runs
// to completion before returning, and there is no supported way to
// cancel an in-flight append other than abandoning the Writer without
// calling Finalize, which yields no valid archive (§5).
type Writer struct {
	out      *bufio.Writer
	pos      uint64
	partSize uint64

	zstdLevel zstd.EncoderLevel
	logger    *slog.Logger
	observer  Observer
	comp      *compressor

	entries []*fileEntry

	poisoned  error
	finalized bool

	chunkBuf []byte
	compBuf  []byte
}

// NewWriter creates a Writer that streams an aligned BURST archive to
// w. The caller must call Finalize to produce a valid archive.
func NewWriter(w io.Writer, opts ...Option) (*Writer, error) {
	wtr := &Writer{
		partSize:  DefaultPartSize,
		zstdLevel: zstd.SpeedDefault,
		logger:    slog.Default(),
		observer:  NoopObserver{},
	}
	for _, opt := range opts {
		if err := opt(wtr); err != nil {
			return nil, err
		}
	}

	comp, err := newCompressor(wtr.zstdLevel)
	if err != nil {
		return nil, err
	}
	wtr.comp = comp
	wtr.out = bufio.NewWriterSize(w, outputBufferSize)
	wtr.chunkBuf = make([]byte, MaxExtent)
	wtr.compBuf = make([]byte, 0, MaxExtent+zstdFrameOverhead)
	return wtr, nil
}

// zstdFrameOverhead is a generous upper bound on a single Zstandard
// frame's header+trailer overhead, used only to size the reusable
// compression destination buffer so normal operation never reallocates.
const zstdFrameOverhead = 1 << 10

func (wtr *Writer) checkReady(op string) error {
	if wtr.poisoned != nil {
		return fmt.Errorf("burst: %s: %w: %w", op, errPoisoned, wtr.poisoned)
	}
	if wtr.finalized {
		return invalidArgument(op, errFinalizing)
	}
	return nil
}

func (wtr *Writer) poison(err error) {
	if wtr.poisoned == nil {
		wtr.poisoned = err
	}
}

// emit runs fn against the buffered output, advances the logical write
// position by however many bytes fn reports writing, and poisons the
// writer on error. The logical position counts bytes the moment they
// are handed to the bufio.Writer, whether or not they have actually
// reached the underlying io.Writer yet — the alignment planner reasons
// about this logical position, not the flushed position (§9).
func (wtr *Writer) emit(fn func(io.Writer) (int, error)) error {
	n, err := fn(wtr.out)
	wtr.pos += uint64(n)
	if err != nil {
		wtr.poison(err)
		return err
	}
	return nil
}

func emitBytes(p []byte) func(io.Writer) (int, error) {
	return func(w io.Writer) (int, error) { return w.Write(p) }
}

// writePad writes a padding frame of exactly n bytes (n == 0 is a
// legal no-op) and notifies the observer.
func (wtr *Writer) writePad(n int) error {
	if n == 0 {
		return nil
	}
	if err := wtr.emit(func(w io.Writer) (int, error) { return encodePaddingFrame(w, n) }); err != nil {
		return err
	}
	wtr.observer.OnPad(n)
	wtr.logger.Debug("burst: inserted padding frame", "bytes", n, "offset", wtr.pos-uint64(n))
	return nil
}

// writeStartOfPart writes a start-of-part frame recording
// uncompressedOffset and notifies the observer.
func (wtr *Writer) writeStartOfPart(uncompressedOffset uint64) error {
	if err := wtr.emit(func(w io.Writer) (int, error) { return encodeStartOfPartFrame(w, uncompressedOffset) }); err != nil {
		return err
	}
	wtr.observer.OnStartOfPart(uncompressedOffset)
	wtr.logger.Debug("burst: inserted start-of-part frame", "uncompressed_offset", uncompressedOffset, "part_offset", wtr.pos-startOfPartFrameLen)
	return nil
}

// AppendFile appends a regular file entry, streaming r in MaxExtent-
// sized chunks, compressing each chunk independently, and consulting
// the alignment planner before every compressed frame. CRC32 and final
// sizes are computed as the content streams through and are written
// into a trailing data descriptor once they are known.
func (wtr *Writer) AppendFile(r io.Reader, name string, mode os.FileMode, uid, gid uint32, modified time.Time) error {
	if err := wtr.checkReady("append_file"); err != nil {
		return err
	}
	if r == nil {
		return invalidArgument("append_file", errors.New("nil input reader"))
	}
	if strings.HasSuffix(name, "/") {
		return invalidArgument("append_file", fmt.Errorf("file name %q must not end in /", name))
	}

	n, rerr, err := wtr.fillChunk(r)
	if err != nil {
		wtr.poison(err)
		return err
	}
	if n == 0 && isEOF(rerr) {
		// Empty regular file: header-only path, same as a directory or
		// symlink (§4.3 "header-only entries ... never go through this
		// planner").
		return wtr.appendHeaderOnly(kindFile, name, nil, mode, uid, gid, modified, methodStore)
	}

	extra := encodeExtTimeExtra(modified)
	lfhLen := uint64(fileHeaderLen + len(name) + len(extra))
	required := lfhLen + maxDataDescriptor + paddingLFHMin
	if needsPad, gap := headerOnlyPreAlign(wtr.pos, required, wtr.partSize); needsPad {
		if err := wtr.emit(func(w io.Writer) (int, error) { return encodePaddingLFH(w, int(gap)) }); err != nil {
			return err
		}
		wtr.observer.OnPad(int(gap))
		wtr.logger.Debug("burst: inserted padding LFH", "bytes", gap)
	}
	lfhOffset := wtr.pos
	fields := lfhFields{
		Name:     name,
		Method:   methodZstd,
		Flags:    0x8, // data descriptor follows
		Modified: modified,
		Extra:    extra,
	}
	if err := wtr.emit(func(w io.Writer) (int, error) { return encodeLFH(w, fields) }); err != nil {
		return err
	}
	dataOffset := wtr.pos

	crc := crc32.NewIEEE()
	var uncompressedTotal, compressedTotal uint64

	for {
		if n > 0 {
			crc.Write(wtr.chunkBuf[:n])
			frame, cerr := wtr.comp.compress(wtr.compBuf, wtr.chunkBuf[:n])
			if cerr != nil {
				wtr.poison(cerr)
				return cerr
			}
			wtr.compBuf = frame[:0:cap(frame)]
			if debugBuild {
				if verr := verifyFrame(frame, uint64(n)); verr != nil {
					wtr.poison(verr)
					return verr
				}
			}
			if len(frame) > n {
				// §9 open question 2: readers assume every data frame is
				// compressed (smaller than its content), which incompressible
				// input can violate. BURST still emits the (larger)
				// compressed frame rather than defining a STORE-tagged frame
				// kind, and just warns; see DESIGN.md.
				wtr.logger.Warn("burst: compressed chunk is larger than its uncompressed content",
					"entry", name, "uncompressed_size", n, "compressed_size", len(frame))
			}

			if err := wtr.writeChunkFrame(frame, uncompressedTotal, uint64(n)); err != nil {
				return err
			}
			uncompressedTotal += uint64(n)
			compressedTotal += uint64(len(frame))
		}
		if isEOF(rerr) {
			break
		}
		n, rerr, err = wtr.fillChunk(r)
		if err != nil {
			wtr.poison(err)
			return err
		}
	}

	return wtr.finishEntry(kindFile, name, mode, uid, gid, modified, lfhOffset, dataOffset, methodZstd, 0x8, compressedTotal, uncompressedTotal, crc.Sum32())
}

// writeChunkFrame applies the alignment planner's decision for one
// already-compressed chunk frame. uncompressedBefore is the number of
// this entry's uncompressed bytes already represented by prior frames;
// chunkSize is this chunk's own uncompressed size.
func (wtr *Writer) writeChunkFrame(frame []byte, uncompressedBefore, chunkSize uint64) error {
	// Invariant 1 guard: a fresh part boundary must never be the start
	// of a compressed data frame. This can only happen right after an
	// LFH, a descriptor, or a prior metadata/padding write happened to
	// land exactly on one.
	if wtr.pos%wtr.partSize == 0 {
		if err := wtr.writeStartOfPart(uncompressedBefore); err != nil {
			return err
		}
	}

	chunkEnd := uncompressedBefore + chunkSize
	decision := planChunk(wtr.pos, uint64(len(frame)), wtr.partSize)
	switch decision.action {
	case actionWriteFrame:
		return wtr.emit(emitBytes(frame))

	case actionWriteFrameThenMetadata:
		if err := wtr.emit(emitBytes(frame)); err != nil {
			return err
		}
		return wtr.writeStartOfPart(chunkEnd)

	case actionPadThenMetadata:
		if err := wtr.writePad(decision.padLen); err != nil {
			return err
		}
		if err := wtr.writeStartOfPart(uncompressedBefore); err != nil {
			return err
		}
		return wtr.emit(emitBytes(frame))

	case actionPadThenFrame:
		if err := wtr.writePad(decision.padLen); err != nil {
			return err
		}
		return wtr.emit(emitBytes(frame))

	default:
		err := assertAligned(false, fmt.Sprintf("unknown alignment action %d", decision.action))
		wtr.poison(err)
		return err
	}
}

// finishEntry writes the trailing data descriptor (if flags require
// one), applying invariant 3's pre-descriptor alignment check, records
// the fileEntry, and notifies the observer.
func (wtr *Writer) finishEntry(kind entryKind, name string, mode os.FileMode, uid, gid uint32, modified time.Time,
	lfhOffset, dataOffset uint64, method, flags uint16, compressedSize, uncompressedSize uint64, crc uint32) error {

	descriptorIsZip64 := compressedSize >= uint32max || uncompressedSize >= uint32max
	if flags&0x8 != 0 {
		descLen := uint64(dataDescriptorLen)
		if descriptorIsZip64 {
			descLen = dataDescriptor64Len
		}
		if needsPad, padLen := descriptorPreAlign(wtr.pos, descLen, wtr.partSize); needsPad {
			if err := wtr.writePad(int(padLen)); err != nil {
				return err
			}
			if err := wtr.writeStartOfPart(uncompressedSize); err != nil {
				return err
			}
		}
		if err := wtr.emit(func(w io.Writer) (int, error) {
			return encodeDataDescriptor(w, crc, compressedSize, uncompressedSize, descriptorIsZip64)
		}); err != nil {
			return err
		}
	}

	entry := &fileEntry{
		kind:              kind,
		name:              name,
		mode:              mode,
		uid:               uid,
		gid:               gid,
		lfhOffset:         lfhOffset,
		dataOffset:        dataOffset,
		compressedSize:    compressedSize,
		uncompressedSize:  uncompressedSize,
		crc32:             crc,
		method:            method,
		flags:             flags,
		modTime:           modified,
		descriptorIsZip64: descriptorIsZip64,
	}
	wtr.entries = append(wtr.entries, entry)
	wtr.observer.OnEntryWritten(name, compressedSize, uncompressedSize)
	return nil
}

// AppendSymlink appends a symlink entry. The link target is stored
// uncompressed (STORE method); its size is known up front, so there is
// no data descriptor — CRC and sizes go straight into the LFH.
func (wtr *Writer) AppendSymlink(name, target string, mode os.FileMode, uid, gid uint32, modified time.Time) error {
	if err := wtr.checkReady("append_symlink"); err != nil {
		return err
	}
	if strings.HasSuffix(name, "/") {
		return invalidArgument("append_symlink", fmt.Errorf("symlink name %q must not end in /", name))
	}
	return wtr.appendHeaderOnly(kindSymlink, name, []byte(target), mode, uid, gid, modified, methodStore)
}

// AppendDirectory appends a directory entry: zero size, STORE method,
// no data descriptor. name must end in "/".
func (wtr *Writer) AppendDirectory(name string, mode os.FileMode, uid, gid uint32, modified time.Time) error {
	if err := wtr.checkReady("append_directory"); err != nil {
		return err
	}
	if !strings.HasSuffix(name, "/") {
		return invalidArgument("append_directory", fmt.Errorf("directory name %q must end in /", name))
	}
	return wtr.appendHeaderOnly(kindDirectory, name, nil, mode, uid, gid, modified, methodStore)
}

// appendHeaderOnly implements the shared pre-alignment and write path
// for directories, symlinks, and empty regular files (§4.4's "common
// rule"): none of these go through the per-chunk alignment planner,
// since their entire content (if any) is written as one known-size
// blob immediately after the LFH.
func (wtr *Writer) appendHeaderOnly(kind entryKind, name string, content []byte, mode os.FileMode, uid, gid uint32, modified time.Time, method uint16) error {
	extra := encodeExtTimeExtra(modified)
	lfhLen := uint64(fileHeaderLen + len(name) + len(extra))
	required := lfhLen + uint64(len(content)) + paddingLFHMin

	if needsPad, gap := headerOnlyPreAlign(wtr.pos, required, wtr.partSize); needsPad {
		if err := wtr.emit(func(w io.Writer) (int, error) { return encodePaddingLFH(w, int(gap)) }); err != nil {
			return err
		}
		wtr.observer.OnPad(int(gap))
		wtr.logger.Debug("burst: inserted padding LFH", "bytes", gap)
	}

	lfhOffset := wtr.pos
	crc := crc32.ChecksumIEEE(content)
	fields := lfhFields{
		Name:             name,
		Method:           method,
		Flags:            0,
		CRC32:            crc,
		CompressedSize:   uint64(len(content)),
		UncompressedSize: uint64(len(content)),
		Modified:         modified,
		Extra:            extra,
	}
	if err := wtr.emit(func(w io.Writer) (int, error) { return encodeLFH(w, fields) }); err != nil {
		return err
	}
	dataOffset := wtr.pos
	if len(content) > 0 {
		if err := wtr.emit(emitBytes(content)); err != nil {
			return err
		}
	}

	return wtr.finishEntry(kind, name, mode, uid, gid, modified, lfhOffset, dataOffset, method, 0, uint64(len(content)), uint64(len(content)), crc)
}

// fillChunk reads up to MaxExtent bytes into the writer's reusable
// chunk buffer. It mirrors io.ReadFull but tolerates a short final read
// (io.EOF/io.ErrUnexpectedEOF are not errors here, they signal end of
// input); any other read error is returned.
func (wtr *Writer) fillChunk(r io.Reader) (n int, readErr, err error) {
	n, readErr = io.ReadFull(r, wtr.chunkBuf)
	if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
		return n, readErr, readErr
	}
	return n, readErr, nil
}

func isEOF(err error) bool {
	return err == io.EOF || err == io.ErrUnexpectedEOF
}

// Finalize flushes the central directory, the ZIP64 end-of-central-
// directory record and locator, and the standard end-of-central-
// directory record, then flushes the underlying buffered writer. No
// further Append* call is permitted once Finalize has been called, even
// if it returns an error. Calling Finalize a second time returns
// errAlreadyFinal without writing anything further.
//
// The EOCD comment BURST writes is always exactly eocdCommentLen bytes
// (§4.5/§6): the reader-locates-the-tail-without-scanning contract
// depends on the comment being precisely the fixed-size tail-offset
// record, so Finalize takes no free-form comment to place alongside it.
func (wtr *Writer) Finalize() error {
	if wtr.finalized {
		return errAlreadyFinal
	}
	if wtr.poisoned != nil {
		return fmt.Errorf("burst: finalize: %w: %w", errPoisoned, wtr.poisoned)
	}
	wtr.finalized = true

	if err := buildCentralDirectory(wtr); err != nil {
		wtr.poison(err)
		return err
	}
	if err := wtr.out.Flush(); err != nil {
		wtr.poison(err)
		return err
	}
	return wtr.comp.Close()
}
