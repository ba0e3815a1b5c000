package convert

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/seqsense/pcgol/mat"

	"kitti2pcd/pkg/pcd"
)

// Summary describes one point cloud file.
type Summary struct {
	Path   string
	Bytes  int64
	Points int
	// Min and Max are the axis aligned bounds. Both are zero for an empty cloud.
	Min, Max mat.Vec3
}

func (s *Summary) String() string {
	return fmt.Sprintf("%s: %d bytes, %d points, min %v, max %v", s.Path, s.Bytes, s.Points, s.Min, s.Max)
}

// Inspect reads a .pcd file or a KITTI scan and summarizes it.
func (c *Converter) Inspect(path string) (*Summary, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %v", ErrNotFound, path, err)
	}

	var cloud *pcd.PointCloud
	if strings.EqualFold(filepath.Ext(path), ".pcd") {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("%w: '%s': %v", ErrNotFound, path, err)
		}
		defer f.Close()
		p, err := pcd.DecodePcd(f)
		if err != nil {
			return nil, fmt.Errorf("'%s': %w", path, err)
		}
		cloud = &p.PointCloud
	} else {
		bin, err := pcd.ReadBinFile(path, c.opts.decodeOptions()...)
		if err != nil {
			return nil, err
		}
		cloud = &bin.PointCloud
	}

	s := &Summary{
		Path:   path,
		Bytes:  fi.Size(),
		Points: cloud.PointCount(),
	}
	if s.Points > 0 {
		s.Min, s.Max, err = bounds(cloud)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func bounds(cloud *pcd.PointCloud) (min, max mat.Vec3, err error) {
	it, err := cloud.ToPC().Vec3Iterator()
	if err != nil {
		return min, max, err
	}
	min = mat.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	max = mat.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	n := it.Len()
	for i := 0; i < n; i++ {
		v := it.Vec3()
		for k := 0; k < 3; k++ {
			if v[k] < min[k] {
				min[k] = v[k]
			}
			if v[k] > max[k] {
				max[k] = v[k]
			}
		}
		it.Incr()
	}
	return min, max, nil
}
