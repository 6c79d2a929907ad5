package burst

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

// decodeEntryContent decompresses region (the bytes from an entry's
// dataOffset up to wherever its content logically ends) by streaming it
// through a plain zstd decoder, which skips BURST's padding and
// start-of-part frames the same way any Zstandard-compatible reader
// would (§6). It stops once it has produced exactly uncompressedSize
// bytes, so it never needs to know where the compressed region ends.
func decodeEntryContent(t *testing.T, region []byte, uncompressedSize uint64) []byte {
	t.Helper()
	if uncompressedSize == 0 {
		return nil
	}
	dec, err := newDecoder()
	if err != nil {
		t.Fatalf("newDecoder: %v", err)
	}
	defer dec.Close()
	if err := dec.Reset(bytes.NewReader(region)); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(dec, out); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	return out
}

// writeAndCheck appends to a fresh Writer via fn, finalizes it, verifies
// every recorded file entry decompresses back to exactly what was written,
// and returns the archive bytes for further structural assertions.
func writeAndCheck(t *testing.T, opts []Option, fn func(w *Writer), want map[string][]byte) ([]byte, *Writer) {
	t.Helper()
	var buf bytes.Buffer
	wtr, err := NewWriter(&buf, opts...)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	fn(wtr)
	bodyEnd := wtr.pos
	if err := wtr.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	data := buf.Bytes()
	assertPartBoundariesValid(t, data, bodyEnd, wtr.partSize)
	for i, e := range wtr.entries {
		if e.kind != kindFile {
			continue
		}
		end := uint64(len(data))
		if i+1 < len(wtr.entries) {
			end = wtr.entries[i+1].lfhOffset
		} else if len(wtr.entries) > 0 {
			// Last entry: region runs up to wherever the central
			// directory starts, which we don't know without parsing it
			// here, so just hand over everything remaining; the
			// decoder stops once it has enough output bytes anyway.
			end = uint64(len(data))
		}
		region := data[e.dataOffset:end]
		got := decodeEntryContent(t, region, e.uncompressedSize)
		wantContent, ok := want[e.name]
		if !ok {
			continue
		}
		if !bytes.Equal(got, wantContent) {
			t.Errorf("entry %q: content mismatch, got %d bytes want %d", e.name, len(got), len(wantContent))
		}
		if crc32.ChecksumIEEE(wantContent) != e.crc32 {
			t.Errorf("entry %q: crc32 mismatch", e.name)
		}
	}
	return data, wtr
}

func TestAppendFileTenBytes(t *testing.T) {
	content := []byte("0123456789")
	writeAndCheck(t, nil, func(w *Writer) {
		if err := w.AppendFile(bytes.NewReader(content), "ten.txt", 0644, 1000, 1000, time.Now()); err != nil {
			t.Fatalf("AppendFile: %v", err)
		}
	}, map[string][]byte{"ten.txt": content})
}

func TestAppendFileExactlyMaxExtent(t *testing.T) {
	content := bytes.Repeat([]byte("x"), MaxExtent)
	writeAndCheck(t, nil, func(w *Writer) {
		if err := w.AppendFile(bytes.NewReader(content), "exact.bin", 0644, 0, 0, time.Now()); err != nil {
			t.Fatalf("AppendFile: %v", err)
		}
	}, map[string][]byte{"exact.bin": content})
}

func TestAppendFileMaxExtentPlusOne(t *testing.T) {
	content := bytes.Repeat([]byte("y"), MaxExtent+1)
	writeAndCheck(t, nil, func(w *Writer) {
		if err := w.AppendFile(bytes.NewReader(content), "plusone.bin", 0644, 0, 0, time.Now()); err != nil {
			t.Fatalf("AppendFile: %v", err)
		}
	}, map[string][]byte{"plusone.bin": content})
}

func TestAppendFileEmpty(t *testing.T) {
	writeAndCheck(t, nil, func(w *Writer) {
		if err := w.AppendFile(bytes.NewReader(nil), "empty.txt", 0644, 0, 0, time.Now()); err != nil {
			t.Fatalf("AppendFile: %v", err)
		}
	}, map[string][]byte{"empty.txt": {}})
}

// TestManySmallFilesCrossPartBoundaries and TestFinalChunkExactlyAtBoundary
// both route through writeAndCheck, which calls assertPartBoundariesValid
// on every run, over many small files at a small part size and over a
// spread of file sizes. Which alignActions the planner takes depends on
// the compressed frame sizes; neither test checks which ones ran.
func TestManySmallFilesCrossPartBoundaries(t *testing.T) {
	const partSize = 4096
	want := map[string][]byte{}
	writeAndCheck(t, []Option{WithPartSize(partSize)}, func(w *Writer) {
		for i := 0; i < 200; i++ {
			name := "file" + strconv.Itoa(i) + ".bin"
			content := bytes.Repeat([]byte{byte(i)}, 100+i)
			if err := w.AppendFile(bytes.NewReader(content), name, 0644, 0, 0, time.Now()); err != nil {
				t.Fatalf("AppendFile(%d): %v", i, err)
			}
			want[name] = content
		}
	}, want)
}

func TestFinalChunkExactlyAtBoundary(t *testing.T) {
	const partSize = 4096
	// Files of many sizes put compressed frames at many different
	// distances from a boundary. The planner's
	// actionWriteFrameThenMetadata path runs only when a frame ends
	// exactly on a boundary, which this test does not force or check.
	// The content repeats every 256 bytes.
	want := map[string][]byte{}
	writeAndCheck(t, []Option{WithPartSize(partSize)}, func(w *Writer) {
		for size := 1; size < 4200; size += 37 {
			content := make([]byte, size)
			for i := range content {
				content[i] = byte(i * 31)
			}
			name := "sz" + strconv.Itoa(size) + ".bin"
			if err := w.AppendFile(bytes.NewReader(content), name, 0644, 0, 0, time.Now()); err != nil {
				t.Fatalf("AppendFile(size=%d): %v", size, err)
			}
			want[name] = content
		}
	}, want)
}

func TestAppendDirectoryAndSymlink(t *testing.T) {
	var buf bytes.Buffer
	wtr, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := wtr.AppendDirectory("dir/", 0755|os.ModeDir, 0, 0, time.Now()); err != nil {
		t.Fatalf("AppendDirectory: %v", err)
	}
	if err := wtr.AppendSymlink("dir/link", "target", 0777|os.ModeSymlink, 0, 0, time.Now()); err != nil {
		t.Fatalf("AppendSymlink: %v", err)
	}
	if err := wtr.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(wtr.entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(wtr.entries))
	}
	if wtr.entries[0].kind != kindDirectory {
		t.Fatalf("entry 0 kind = %v, want kindDirectory", wtr.entries[0].kind)
	}
	if wtr.entries[1].kind != kindSymlink {
		t.Fatalf("entry 1 kind = %v, want kindSymlink", wtr.entries[1].kind)
	}
}

func TestAppendDirectoryRequiresTrailingSlash(t *testing.T) {
	wtr, err := NewWriter(&bytes.Buffer{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := wtr.AppendDirectory("nodirhere", 0755, 0, 0, time.Now()); err == nil {
		t.Fatalf("expected error for directory name missing trailing slash")
	}
}

// TestWarnsWhenCompressedFrameIsLarger exercises §9 open question 2's
// resolution: a chunk too small for zstd's frame overhead to pay for
// itself still gets written as a Zstandard frame (no STORE fallback),
// but the writer logs a Warn.
func TestWarnsWhenCompressedFrameIsLarger(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var buf bytes.Buffer
	wtr, err := NewWriter(&buf, WithLogger(logger))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := wtr.AppendFile(bytes.NewReader([]byte{0x42}), "tiny.bin", 0644, 0, 0, time.Now()); err != nil {
		t.Fatalf("AppendFile: %v", err)
	}
	if err := wtr.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if !strings.Contains(logBuf.String(), "compressed chunk is larger than its uncompressed content") {
		t.Fatalf("expected a Warn log for the oversized compressed frame, got: %s", logBuf.String())
	}
}

func TestFinalizeTwiceFails(t *testing.T) {
	wtr, err := NewWriter(&bytes.Buffer{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := wtr.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := wtr.Finalize(); err != errAlreadyFinal {
		t.Fatalf("second Finalize error = %v, want errAlreadyFinal", err)
	}
}

func TestAppendAfterFinalizeFails(t *testing.T) {
	wtr, err := NewWriter(&bytes.Buffer{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := wtr.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := wtr.AppendFile(bytes.NewReader([]byte("x")), "late.txt", 0644, 0, 0, time.Now()); err == nil {
		t.Fatalf("expected error appending after Finalize")
	}
}

func TestObserverIsNotified(t *testing.T) {
	var pads, starts, entries int
	obs := &countingObserver{
		pad:      func(int) { pads++ },
		start:    func(uint64) { starts++ },
		finished: func(string, uint64, uint64) { entries++ },
	}
	const partSize = 1024
	var buf bytes.Buffer
	wtr, err := NewWriter(&buf, WithPartSize(partSize), WithObserver(obs))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	// Each MaxExtent chunk of this content starts with 256 distinct byte
	// values, which zstd cannot squeeze much, so the five frames together
	// run past the first 1024-byte boundary.
	content := make([]byte, 5*MaxExtent)
	for i := range content {
		content[i] = byte(i * 31)
	}
	if err := wtr.AppendFile(bytes.NewReader(content), "big.bin", 0644, 0, 0, time.Now()); err != nil {
		t.Fatalf("AppendFile: %v", err)
	}
	if err := wtr.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if entries != 1 {
		t.Fatalf("OnEntryWritten called %d times, want 1", entries)
	}
	if starts == 0 {
		t.Fatalf("expected at least one start-of-part notification for a multi-part entry")
	}
}

type countingObserver struct {
	pad      func(int)
	start    func(uint64)
	finished func(string, uint64, uint64)
}

func (o *countingObserver) OnPad(n int)                 { o.pad(n) }
func (o *countingObserver) OnStartOfPart(off uint64)     { o.start(off) }
func (o *countingObserver) OnEntryWritten(name string, c, u uint64) { o.finished(name, c, u) }

// assertPartBoundariesValid walks every nonzero multiple of partSize
// below bodyEnd and checks that the byte there begins either an
// LFH (fileHeaderSignature, which also covers padding LFHs: they are
// ordinary LFHs using the sentinel name) or a skippable frame
// (magicSkip, which covers both start-of-part frames and, in
// principle, a padding frame that happened to land exactly on a
// boundary — forbidden by the planner, so in practice only
// start-of-part frames appear here). This is invariant 1 / the first
// quantified testable property in spec.md §8, and the literal
// Scenario 4 check ("at each offset equal to P, 2P, 3P, the byte
// begins either an LFH or a start-of-part frame").
func assertPartBoundariesValid(t *testing.T, data []byte, bodyEnd, partSize uint64) {
	t.Helper()
	for boundary := partSize; boundary < bodyEnd; boundary += partSize {
		if boundary+4 > uint64(len(data)) {
			t.Fatalf("part boundary %d has no room for a 4-byte magic (body ends at %d)", boundary, bodyEnd)
		}
		magic := binary.LittleEndian.Uint32(data[boundary : boundary+4])
		if magic != fileHeaderSignature && magic != magicSkip {
			t.Fatalf("byte at part boundary %d begins neither an LFH nor a skippable frame: magic %#x", boundary, magic)
		}
	}
}
