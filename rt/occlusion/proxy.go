package occlusion

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gekko3d/drawpipe/rt/core"
	"github.com/gekko3d/drawpipe/rt/scene"

	"github.com/go-gl/mathgl/mgl32"
)

// ProxySize is the encoded size of one bounding-box proxy.
const ProxySize = 32

// Proxy is the box drawn for one group's hidden-surface query.
type Proxy struct {
	Min   mgl32.Vec3
	Max   mgl32.Vec3
	Group scene.GroupID
}

func ProxyFor(id scene.GroupID, b core.AABB) Proxy {
	return Proxy{Min: b.Min, Max: b.Max, Group: id}
}

// AppendBytes encodes p as min xyz, max xyz, group index, group generation.
func (p Proxy) AppendBytes(buf []byte) []byte {
	var rec [ProxySize]byte
	binary.LittleEndian.PutUint32(rec[0:4], math.Float32bits(p.Min.X()))
	binary.LittleEndian.PutUint32(rec[4:8], math.Float32bits(p.Min.Y()))
	binary.LittleEndian.PutUint32(rec[8:12], math.Float32bits(p.Min.Z()))

	binary.LittleEndian.PutUint32(rec[12:16], math.Float32bits(p.Max.X()))
	binary.LittleEndian.PutUint32(rec[16:20], math.Float32bits(p.Max.Y()))
	binary.LittleEndian.PutUint32(rec[20:24], math.Float32bits(p.Max.Z()))

	binary.LittleEndian.PutUint32(rec[24:28], p.Group.Index)
	binary.LittleEndian.PutUint32(rec[28:32], p.Group.Gen)
	return append(buf, rec[:]...)
}

func (p Proxy) ToBytes() []byte {
	return p.AppendBytes(make([]byte, 0, ProxySize))
}

func (p Proxy) Bounds() core.AABB {
	return core.AABB{Min: p.Min, Max: p.Max}
}

// DecodeProxy reads one record written by AppendBytes.
func DecodeProxy(b []byte) (Proxy, error) {
	if len(b) < ProxySize {
		return Proxy{}, fmt.Errorf("occlusion: proxy record is %d bytes, want %d", len(b), ProxySize)
	}
	f := func(off int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(b[off : off+4]))
	}
	return Proxy{
		Min: mgl32.Vec3{f(0), f(4), f(8)},
		Max: mgl32.Vec3{f(12), f(16), f(20)},
		Group: scene.GroupID{
			Index: binary.LittleEndian.Uint32(b[24:28]),
			Gen:   binary.LittleEndian.Uint32(b[28:32]),
		},
	}, nil
}
