package pcd

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeBin(pts ...Point) []byte {
	var buf bytes.Buffer
	for _, p := range pts {
		_ = binary.Write(&buf, binary.LittleEndian, p)
	}
	return buf.Bytes()
}

func TestDecodeBinBytes(t *testing.T) {
	pts := []Point{
		{X: 1, Y: -2.5, Z: 0, Intensity: 100},
		{X: 0.5, Y: 0, Z: 0, Intensity: 0.5},
		{X: -17.25, Y: 3e8, Z: -1e-7, Intensity: 0},
	}
	data := encodeBin(pts...)
	require.Len(t, data, 16*len(pts))

	bin, err := DecodeBinBytes(data)
	require.NoError(t, err)
	assert.Equal(t, pts, bin.Points)
	assert.Equal(t, len(data), bin.Size)
}

func TestDecodeBinLittleEndian(t *testing.T) {
	// 1.0 = 0x3f800000, 2.0 = 0x40000000, -1.0 = 0xbf800000, 0.5 = 0x3f000000
	data := []byte{
		0x00, 0x00, 0x80, 0x3f,
		0x00, 0x00, 0x00, 0x40,
		0x00, 0x00, 0x80, 0xbf,
		0x00, 0x00, 0x00, 0x3f,
	}
	bin, err := DecodeBinBytes(data)
	require.NoError(t, err)
	require.Len(t, bin.Points, 1)
	assert.Equal(t, Point{X: 1, Y: 2, Z: -1, Intensity: 0.5}, bin.Points[0])
}

func TestDecodeBinTruncation(t *testing.T) {
	pts := []Point{{1, 2, 3, 4}, {5, 6, 7, 8}}
	data := encodeBin(pts...)

	for r := 1; r < BinPointDataLen; r++ {
		in := append(append([]byte{}, data...), bytes.Repeat([]byte{0xff}, r)...)

		bin, err := DecodeBinBytes(in)
		require.NoError(t, err, "trailing %d bytes", r)
		assert.Equal(t, pts, bin.Points, "trailing %d bytes", r)

		_, err = DecodeBinBytes(in, WithStrict())
		assert.True(t, errors.Is(err, ErrMalformedInputSize), "trailing %d bytes: %v", r, err)
	}

	bin, err := DecodeBinBytes(data, WithStrict())
	require.NoError(t, err)
	assert.Equal(t, pts, bin.Points)
}

func TestDecodeBinEmpty(t *testing.T) {
	bin, err := DecodeBin(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, bin.Points)
	assert.Equal(t, 0, bin.Size)

	bin, err = DecodeBinBytes([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Empty(t, bin.Points)
}

func TestDecodeBinNonFinite(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	bin, err := DecodeBinBytes(encodeBin(Point{X: nan, Y: inf, Z: -inf, Intensity: math.MaxFloat32}))
	require.NoError(t, err)
	require.Len(t, bin.Points, 1)

	p := bin.Points[0]
	assert.True(t, math.IsNaN(float64(p.X)))
	assert.True(t, math.IsInf(float64(p.Y), 1))
	assert.True(t, math.IsInf(float64(p.Z), -1))
	assert.Equal(t, float32(math.MaxFloat32), p.Intensity)
}

func TestReadBinFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("Exists", func(t *testing.T) {
		path := filepath.Join(dir, "000000.bin")
		require.NoError(t, os.WriteFile(path, encodeBin(Point{0.5, 0, 0, 0.5}), 0644))

		bin, err := ReadBinFile(path)
		require.NoError(t, err)
		assert.Equal(t, []Point{{0.5, 0, 0, 0.5}}, bin.Points)
	})
	t.Run("Missing", func(t *testing.T) {
		_, err := ReadBinFile(filepath.Join(dir, "missing.bin"))
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})
	t.Run("Directory", func(t *testing.T) {
		_, err := ReadBinFile(dir)
		assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	})
	t.Run("Strict", func(t *testing.T) {
		path := filepath.Join(dir, "short.bin")
		require.NoError(t, os.WriteFile(path, make([]byte, 20), 0644))

		_, err := ReadBinFile(path, WithStrict())
		assert.True(t, errors.Is(err, ErrMalformedInputSize), "got %v", err)
	})
}

func TestToPC(t *testing.T) {
	cloud := &PointCloud{}
	cloud.AddPoint(Point{1, 2, 3, 10})
	cloud.AddPoint(Point{4, 5, 6, 20})

	pp := cloud.ToPC()
	assert.Equal(t, 2, pp.Points)
	assert.Equal(t, 2, pp.Width)
	assert.Equal(t, 1, pp.Height)
	assert.Equal(t, BinPointDataLen, pp.Stride())
	assert.Equal(t, encodeBin(cloud.Points...), pp.Data)

	it, err := pp.Vec3Iterator()
	require.NoError(t, err)
	require.Equal(t, 2, it.Len())
	assert.Equal(t, float32(1), it.Vec3()[0])
	assert.Equal(t, float32(3), it.Vec3()[2])
	it.Incr()
	assert.Equal(t, float32(5), it.Vec3()[1])
}
