package overlay

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/gekko3d/drawpipe/rt/statesort"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot() *Snapshot {
	return &Snapshot{
		Frame:    12,
		Mode:     "deferred",
		Timings:  []Timing{{"cull", 1500 * time.Microsecond}},
		Counters: []Counter{{"groups", 42}},
	}
}

func TestLines(t *testing.T) {
	s := snapshot()
	assert.Equal(t, []string{
		"frame 12 (deferred)",
		"cull           1.50 ms",
		"groups       42",
	}, s.Lines())

	s.Highlighted = make([]statesort.FaceInfo, 2)
	assert.Equal(t, "highlighted  2", s.Lines()[3])
}

func TestDrawStats(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	lines := snapshot().Lines()
	box := DrawStats(img, image.Pt(10, 10), lines)

	size := TextSize(lines)
	assert.Equal(t, image.Rect(10, 10, 10+size.X, 10+size.Y), box)
	assert.Equal(t, 3*13+2*pad, size.Y)
	assert.Equal(t, color.RGBA{}, img.RGBAAt(5, 5), "outside the box is untouched")

	lit := 0
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			if img.RGBAAt(x, y).R > 200 {
				lit++
			}
		}
	}
	assert.Positive(t, lit, "text was drawn")
}

func TestDrawStatsClipsToImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	box := DrawStats(img, image.Pt(0, 0), []string{"a long line that does not fit"})
	assert.Equal(t, img.Bounds(), box)
}

func TestProject(t *testing.T) {
	cam := mgl32.Perspective(mgl32.DegToRad(60), 1, 0.1, 100).Mul4(
		mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}))
	faces := []statesort.FaceInfo{
		{Center: mgl32.Vec3{0, 0, -10}},
		{Center: mgl32.Vec3{0, 0, 10}},  // behind
		{Center: mgl32.Vec3{50, 0, -1}}, // off screen
	}
	pts := Project(faces, cam, 101, 101)
	require.Len(t, pts, 1)
	assert.Equal(t, image.Pt(50, 50), pts[0])

	img := Render(&Snapshot{Highlighted: faces[:1]}, cam, 101, 101)
	assert.Equal(t, marker, img.RGBAAt(53, 50))
}
