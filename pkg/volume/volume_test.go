package volume

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridIndexPhysicalRoundTrip(t *testing.T) {
	// Rotation of 90 degrees about z.
	g := Grid{
		Dim:       3,
		Size:      [3]int{10, 12, 7},
		Spacing:   [3]float64{0.8, 1.2, 2.5},
		Origin:    [3]float64{-10, 4, 30},
		Direction: [9]float64{0, -1, 0, 1, 0, 0, 0, 0, 1},
	}
	require.NoError(t, g.Validate())

	ci := [3]float64{3.25, 7.5, 2}
	p := g.IndexToPhysical(ci)
	back := g.PhysicalToIndex(p)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, ci[i], back[i], 1e-9)
	}
}

func TestGridValidate(t *testing.T) {
	tests := []struct {
		name string
		grid Grid
	}{
		{"bad dim", Grid{Dim: 4, Size: [3]int{1, 1, 1}, Spacing: [3]float64{1, 1, 1}, Direction: IdentityDirection}},
		{"zero size", NewGrid3D([3]int{0, 2, 2}, [3]float64{1, 1, 1}, [3]float64{})},
		{"negative spacing", NewGrid3D([3]int{2, 2, 2}, [3]float64{1, -1, 1}, [3]float64{})},
		{"skewed direction", Grid{Dim: 3, Size: [3]int{2, 2, 2}, Spacing: [3]float64{1, 1, 1}, Direction: [9]float64{1, 1, 0, 0, 1, 0, 0, 0, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.grid.Validate())
		})
	}
}

func TestOffsetCoords(t *testing.T) {
	g := NewGrid3D([3]int{4, 5, 6}, [3]float64{1, 1, 1}, [3]float64{})
	for idx := 0; idx < g.NumVoxels(); idx++ {
		x, y, z := g.Coords(idx)
		if got := g.Offset(x, y, z); got != idx {
			t.Fatalf("Offset(Coords(%d)) = %d", idx, got)
		}
	}
}

func TestCastBoundary(t *testing.T) {
	g := NewGrid2D(4, 1, [2]float64{1, 1}, [2]float64{})
	img := MustFromData(g, Float64, 1, []float64{-3.6, 2.5, 300, 1.0000001})

	asU8 := img.CastTo(Uint8)
	assert.Equal(t, []float64{0, 3, 255, 1}, asU8.Samples())
	assert.Equal(t, Uint8, asU8.PixelType())

	asI16 := img.CastTo(Int16)
	assert.Equal(t, []float64{-4, 3, 300, 1}, asI16.Samples())

	f := asI16.AsFloat()
	assert.Equal(t, Float32, f.PixelType())
	assert.Equal(t, asI16.Samples(), f.Samples())

	// Round trip through the working precision keeps integer samples.
	assert.Equal(t, asI16.Samples(), f.CastTo(Int16).Samples())
}

func TestIsBinary(t *testing.T) {
	g := NewGrid2D(3, 1, [2]float64{1, 1}, [2]float64{})
	assert.True(t, MustFromData(g, Uint8, 1, []float64{0, 1, 1}).IsBinary())
	assert.True(t, MustFromData(g, Uint8, 1, []float64{0, 255, 0}).IsBinary())
	assert.True(t, MustFromData(g, Uint8, 1, []float64{0, 0, 0}).IsBinary())
	assert.False(t, MustFromData(g, Uint8, 1, []float64{0, 1, 2}).IsBinary())
}

func TestFromDataLength(t *testing.T) {
	g := NewGrid3D([3]int{2, 2, 2}, [3]float64{1, 1, 1}, [3]float64{})
	_, err := FromData(g, Float32, 3, make([]float64, 8))
	assert.Error(t, err)

	img, err := FromData(g, Float64, 3, make([]float64, 24))
	require.NoError(t, err)
	c, err := img.Component(2)
	require.NoError(t, err)
	assert.Equal(t, 8, len(c.Samples()))
}

func TestIntegerImagesHoldRepresentableSamples(t *testing.T) {
	g := NewGrid2D(5, 1, [2]float64{1, 1}, [2]float64{})

	i16 := MustFromData(g, Int16, 1, []float64{1.4, -2.5, 40000, math.NaN(), 7})
	assert.Equal(t, []float64{1, -3, math.MaxInt16, 0, 7}, i16.Samples())
	assert.Equal(t, i16.Samples(), i16.CastTo(Int16).Samples(), "a cast to its own type is a no-op")

	u8 := i16.Map(Uint8, func(v float64) float64 { return v / 2 })
	assert.Equal(t, []float64{1, 0, 255, 0, 4}, u8.Samples())

	// float types keep their samples untouched
	f := MustFromData(g, Float64, 1, []float64{0.25, 1.5, -3.75, 2, 1e6})
	assert.Equal(t, []float64{0.25, 1.5, -3.75, 2, 1e6}, f.Samples())
	assert.Equal(t, []float64{0.125, 0.75, -1.875, 1, 5e5}, f.Map(Float32, func(v float64) float64 { return v / 2 }).Samples())
}

func TestSameDimension(t *testing.T) {
	a, err := New(NewGrid3D([3]int{2, 2, 2}, [3]float64{1, 1, 1}, [3]float64{}), Float32, 1)
	require.NoError(t, err)
	b, err := New(NewGrid2D(2, 2, [2]float64{1, 1}, [2]float64{}), Float32, 1)
	require.NoError(t, err)
	assert.True(t, errors.Is(SameDimension(a, b), ErrGeometryMismatch))
	assert.NoError(t, SameDimension(a, a))
}

func TestCenterAndCorners(t *testing.T) {
	g := NewGrid3D([3]int{11, 21, 5}, [3]float64{2, 1, 3}, [3]float64{1, 1, 1})
	c := g.Center()
	assert.InDelta(t, 11.0, c[0], 1e-12)
	assert.InDelta(t, 11.0, c[1], 1e-12)
	assert.InDelta(t, 7.0, c[2], 1e-12)
	corners := g.Corners()
	assert.Len(t, corners, 8)
	assert.Equal(t, [3]float64{1, 1, 1}, corners[0])
	assert.False(t, math.IsNaN(corners[7][0]))
}
