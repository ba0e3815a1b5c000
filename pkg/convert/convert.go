// Package convert drives KITTI to PCD conversions for single files,
// directories and zip archives.
package convert

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/glog"

	"kitti2pcd/pkg/pcd"
)

var (
	ErrNotFound           = pcd.ErrNotFound
	ErrInvalidDestination = errors.New("destination exists and is not a directory")
	ErrUnsupportedSource  = errors.New("source is neither a file nor a directory")
	ErrSameInputOutput    = errors.New("input file can not be the same as output file")
	ErrBatchFailed        = errors.New("some files failed to convert")
)

var logErrorf = glog.Errorf

// Mode is how a source path is processed.
type Mode int

const (
	ModeFile Mode = iota
	ModeDir
	ModeArchive
)

func (m Mode) String() string {
	switch m {
	case ModeFile:
		return "file"
	case ModeDir:
		return "directory"
	case ModeArchive:
		return "archive"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

type Options struct {
	// Strict rejects inputs whose size is not a multiple of 16 bytes
	// instead of dropping the trailing bytes.
	Strict bool
	// Ext keeps only directory entries with this extension. Empty means all.
	Ext string
	// Archive treats a .zip source as an archive of KITTI files.
	Archive bool
}

func (o Options) decodeOptions() []pcd.DecodeOption {
	if o.Strict {
		return []pcd.DecodeOption{pcd.WithStrict()}
	}
	return nil
}

// Classify decides the mode for source without touching any output.
func Classify(source string, opts Options) (Mode, error) {
	fi, err := os.Stat(source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: '%s'", ErrNotFound, source)
		}
		return 0, err
	}
	switch {
	case fi.IsDir():
		return ModeDir, nil
	case fi.Mode().IsRegular():
		if opts.Archive && strings.EqualFold(filepath.Ext(source), ".zip") {
			return ModeArchive, nil
		}
		return ModeFile, nil
	}
	return 0, fmt.Errorf("%w: '%s'", ErrUnsupportedSource, source)
}

// Failure records one file that could not be converted.
type Failure struct {
	Source string
	Err    error
}

// Report summarizes a run. Outputs are listed in conversion order.
type Report struct {
	Outputs  []string
	Failures []Failure
}

// Err returns nil when every file converted.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	if len(r.Failures) == 1 && len(r.Outputs) == 0 {
		return r.Failures[0].Err
	}
	return fmt.Errorf("%w: %d of %d", ErrBatchFailed, len(r.Failures), len(r.Failures)+len(r.Outputs))
}

func (r *Report) fail(src string, err error) {
	r.Failures = append(r.Failures, Failure{Source: src, Err: err})
}

// failBatch logs err before recording it. Batches keep going, so the
// final error only carries a count.
func (r *Report) failBatch(src string, err error) {
	logErrorf("*** Error: %v", err)
	r.fail(src, err)
}

// Converter runs conversions sequentially. Progress lines go to out.
type Converter struct {
	opts Options
	out  io.Writer
}

func New(opts Options, out io.Writer) *Converter {
	if out == nil {
		out = io.Discard
	}
	return &Converter{opts: opts, out: out}
}

// Run classifies source and converts it into dest. The returned error is
// set for problems that stop the run before any conversion; per-file
// failures are in the report.
func (c *Converter) Run(source, dest string) (*Report, error) {
	mode, err := Classify(source, c.opts)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("converting %s '%s' to '%s'", mode, source, dest)
	switch mode {
	case ModeDir:
		return c.ConvertDir(source, dest)
	case ModeArchive:
		return c.ConvertArchive(source, dest)
	}
	r := &Report{}
	if err := c.ConvertFile(source, dest); err != nil {
		r.fail(source, err)
	} else {
		r.Outputs = append(r.Outputs, dest)
	}
	return r, nil
}

// ConvertFile decodes src and writes it to dst. Nothing is written when
// src cannot be decoded.
func (c *Converter) ConvertFile(src, dst string) error {
	bin, err := pcd.ReadBinFile(src, c.opts.decodeOptions()...)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "File '%s' contains %d bytes and %d points\n", src, bin.Size, bin.PointCount())

	if err := pcd.WritePcdFile(dst, bin.ToPcd()); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Wrote %d points to '%s'\n", bin.PointCount(), dst)
	return nil
}

// ConvertDir converts the direct entries of srcDir in name order into
// dstDir/<stem>.pcd. Subdirectories are skipped. A failing entry is
// recorded and the batch moves on.
func (c *Converter) ConvertDir(srcDir, dstDir string) (*Report, error) {
	if err := prepareOutDir(dstDir); err != nil {
		return nil, err
	}
	ds, err := os.ReadDir(srcDir)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %v", ErrNotFound, srcDir, err)
	}
	sort.Slice(ds, func(i, j int) bool {
		return ds[i].Name() < ds[j].Name()
	})

	r := &Report{}
	for _, d := range ds {
		fn := d.Name()
		src := filepath.Join(srcDir, fn)
		if isDir(d, src) {
			glog.V(1).Infof("skipping directory '%s'", fn)
			continue
		}
		if !c.matchExt(fn) {
			continue
		}
		out := filepath.Join(dstDir, Stem(fn)+".pcd")
		if err := c.ConvertFile(src, out); err != nil {
			r.failBatch(src, err)
			continue
		}
		r.Outputs = append(r.Outputs, out)
	}
	return r, nil
}

// isDir follows symlinks. A dangling link is not a directory.
func isDir(d os.DirEntry, path string) bool {
	if d.IsDir() {
		return true
	}
	if d.Type()&os.ModeSymlink == 0 {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func (c *Converter) matchExt(name string) bool {
	if c.opts.Ext == "" {
		return true
	}
	ext := c.opts.Ext
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.EqualFold(filepath.Ext(name), ext)
}

// Stem strips the final extension from name. Dot files keep their name.
func Stem(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		return name
	}
	return stem
}

func prepareOutDir(dir string) error {
	fi, err := os.Stat(dir)
	switch {
	case err == nil && !fi.IsDir():
		return fmt.Errorf("%w: '%s'", ErrInvalidDestination, dir)
	case err == nil:
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	if err := os.MkdirAll(dir, 0777); err != nil {
		return fmt.Errorf("%w: '%s': %v", pcd.ErrWrite, dir, err)
	}
	return nil
}
