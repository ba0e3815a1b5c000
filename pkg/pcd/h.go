package pcd

import (
	"encoding/binary"
	"math"

	"github.com/seqsense/pcgol/pc"
)

// Point is a single KITTI record. Field order matches the on-disk layout.
type Point struct {
	X, Y, Z   float32
	Intensity float32
}

type PointCloud struct {
	Points []Point
}

func (p *PointCloud) AddPoint(pt Point) {
	p.Points = append(p.Points, pt)
}

func (p *PointCloud) PointCount() int {
	return len(p.Points)
}

// ToPC copies the cloud into a pcgol point cloud with fields x y z intensity.
func (p *PointCloud) ToPC() *pc.PointCloud {
	n := len(p.Points)
	pp := &pc.PointCloud{
		PointCloudHeader: pc.PointCloudHeader{
			Fields: []string{"x", "y", "z", "intensity"},
			Size:   []int{4, 4, 4, 4},
			Type:   []string{"F", "F", "F", "F"},
			Count:  []int{1, 1, 1, 1},
			Width:  n,
			Height: 1,
		},
		Points: n,
	}
	pp.Data = make([]byte, n*pp.Stride())
	for i, pt := range p.Points {
		putPoint(pp.Data[i*BinPointDataLen:], pt)
	}
	return pp
}

func float32At(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
}

func putPoint(b []byte, pt Point) {
	binary.LittleEndian.PutUint32(b[0:4], math.Float32bits(pt.X))
	binary.LittleEndian.PutUint32(b[4:8], math.Float32bits(pt.Y))
	binary.LittleEndian.PutUint32(b[8:12], math.Float32bits(pt.Z))
	binary.LittleEndian.PutUint32(b[12:16], math.Float32bits(pt.Intensity))
}
