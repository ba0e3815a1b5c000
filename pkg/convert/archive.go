package convert

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"kitti2pcd/pkg/pcd"
)

// ConvertArchive rewrites a zip of KITTI scans into a zip of PCD files.
// Every .bin entry becomes <stem>.pcd; other entries are copied as is.
// An empty dstZip defaults to <name>-pcd.zip next to srcZip.
func (c *Converter) ConvertArchive(srcZip, dstZip string) (*Report, error) {
	if dstZip == "" {
		ext := filepath.Ext(srcZip)
		dstZip = strings.TrimSuffix(srcZip, ext) + "-pcd" + ext
	}
	if filepath.Clean(dstZip) == filepath.Clean(srcZip) {
		return nil, ErrSameInputOutput
	}
	if fi, err := os.Stat(dstZip); err == nil && fi.IsDir() {
		return nil, fmt.Errorf("%w: '%s' is a directory", ErrInvalidDestination, dstZip)
	}

	inZip, err := zip.OpenReader(srcZip)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %v", ErrNotFound, srcZip, err)
	}
	defer inZip.Close()

	outFile, err := os.Create(dstZip)
	if err != nil {
		return nil, fmt.Errorf("%w '%s': %v", pcd.ErrWrite, dstZip, err)
	}
	defer outFile.Close()
	outZip := zip.NewWriter(outFile)

	r := &Report{}
	for _, f := range inZip.File {
		src := srcZip + ":" + f.Name
		if strings.EqualFold(path.Ext(f.Name), ".bin") {
			name, err := c.convertEntry(outZip, f)
			if err != nil {
				r.failBatch(src, err)
				continue
			}
			r.Outputs = append(r.Outputs, dstZip+":"+name)
			continue
		}
		if err := copyRawEntry(outZip, f); err != nil {
			return r, fmt.Errorf("%w '%s': %v", pcd.ErrWrite, dstZip, err)
		}
	}
	if err := outZip.Close(); err != nil {
		return r, fmt.Errorf("%w '%s': %v", pcd.ErrWrite, dstZip, err)
	}
	return r, nil
}

func (c *Converter) convertEntry(outZip *zip.Writer, f *zip.File) (name string, err error) {
	binr, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("%w: '%s': %v", ErrNotFound, f.Name, err)
	}
	defer binr.Close()
	bin, err := pcd.DecodeBin(binr, c.opts.decodeOptions()...)
	if err != nil {
		return "", fmt.Errorf("'%s': %w", f.Name, err)
	}
	fmt.Fprintf(c.out, "File '%s' contains %d bytes and %d points\n", f.Name, bin.Size, bin.PointCount())

	name = strings.TrimSuffix(f.Name, path.Ext(f.Name)) + ".pcd"
	w, err := outZip.Create(name)
	if err != nil {
		return "", fmt.Errorf("%w '%s': %v", pcd.ErrWrite, name, err)
	}
	if err := bin.ToPcd().Encode(w); err != nil {
		return "", fmt.Errorf("%w '%s': %v", pcd.ErrWrite, name, err)
	}
	fmt.Fprintf(c.out, "Wrote %d points to '%s'\n", bin.PointCount(), name)
	return name, nil
}

func copyRawEntry(outZip *zip.Writer, f *zip.File) error {
	w, err := outZip.CreateRaw(&f.FileHeader)
	if err != nil {
		return err
	}
	r, err := f.OpenRaw()
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	return err
}
