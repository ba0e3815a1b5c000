package pcd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
)

const (
	// BinPointDataLen is the size of one KITTI record: x, y, z and intensity
	// as little-endian IEEE-754 float32.
	BinPointDataLen = 4 * 4
)

var (
	ErrNotFound           = errors.New("point cloud file not found")
	ErrMalformedInputSize = errors.New("input size is not a multiple of the point size")
)

type decodeOptions struct {
	// strict rejects bytes after the last full record instead of dropping them.
	strict bool
}

type DecodeOption func(*decodeOptions)

// WithStrict rejects inputs that end with a partial record.
func WithStrict() DecodeOption {
	return func(o *decodeOptions) {
		o.strict = true
	}
}

// Bin is a decoded KITTI scan. Size is the byte length of the source.
type Bin struct {
	PointCloud
	Size int
}

// DecodeBin reads r to the end and decodes it as KITTI records.
func DecodeBin(r io.Reader, opts ...DecodeOption) (*Bin, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return DecodeBinBytes(data, opts...)
}

// DecodeBinBytes decodes data as consecutive x, y, z, intensity groups.
// Values are passed through unchecked, NaN and Inf included.
func DecodeBinBytes(data []byte, opts ...DecodeOption) (*Bin, error) {
	var o decodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	n := len(data) / BinPointDataLen
	if rest := len(data) % BinPointDataLen; rest != 0 {
		if o.strict {
			return nil, fmt.Errorf("%w: %d trailing bytes after %d points", ErrMalformedInputSize, rest, n)
		}
		glog.Warningf("dropping %d trailing bytes after %d points", rest, n)
	}

	bin := &Bin{
		PointCloud: PointCloud{
			Points: make([]Point, 0, n),
		},
		Size: len(data),
	}
	for off := 0; off+BinPointDataLen <= len(data); off += BinPointDataLen {
		bin.AddPoint(Point{
			X:         float32At(data, off),
			Y:         float32At(data, off+4),
			Z:         float32At(data, off+8),
			Intensity: float32At(data, off+12),
		})
	}
	return bin, nil
}

// ReadBinFile decodes the KITTI file at path. An unreadable or missing file
// yields an error wrapping ErrNotFound.
func ReadBinFile(path string, opts ...DecodeOption) (*Bin, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %v", ErrNotFound, path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %v", ErrNotFound, path, err)
	}
	bin, err := DecodeBinBytes(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("'%s': %w", path, err)
	}
	return bin, nil
}

func (bin *Bin) ToPcd() *Pcd {
	return &Pcd{
		PointCloud: bin.PointCloud,
	}
}
