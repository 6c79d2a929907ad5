// Command burstwriter packs a directory tree into a BURST archive.
//
// It exists as a thin demonstration of the Writer API: walk a directory
// with filepath.WalkDir, append each regular file, symlink, and
// directory it finds, then finalize. Real callers (a build pipeline
// producing images for the target kernel, say) will drive the Writer
// directly against whatever content source they already have; this is
// not meant to be a feature-complete archiving tool.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mbaynton/burst"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("burstwriter failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fset := flag.NewFlagSet("burstwriter", flag.ContinueOnError)
	out := fset.String("o", "", "output archive path (required)")
	partSize := fset.Int("part-size", burst.DefaultPartSize, "part size in bytes")
	if err := fset.Parse(args); err != nil {
		return err
	}
	if *out == "" || fset.NArg() != 1 {
		return errors.New("usage: burstwriter -o archive.burst <source-dir>")
	}
	root := fset.Arg(0)

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()

	wtr, err := burst.NewWriter(f, burst.WithPartSize(*partSize))
	if err != nil {
		return fmt.Errorf("burstwriter: %w", err)
	}

	if err := packDir(wtr, root); err != nil {
		return err
	}

	return wtr.Finalize()
}

func packDir(wtr *burst.Writer, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return wtr.AppendSymlink(rel, target, info.Mode(), 0, 0, info.ModTime())
		case d.IsDir():
			return wtr.AppendDirectory(rel+"/", info.Mode(), 0, 0, info.ModTime())
		default:
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			return wtr.AppendFile(f, rel, info.Mode(), 0, 0, info.ModTime())
		}
	})
}
