package demons

import (
	"errors"
	"math"
	"testing"

	"volreg/pkg/volume"
)

func sphere(size int, c [3]float64, r float64) *volume.Image {
	g := volume.NewGrid3D([3]int{size, size, size}, [3]float64{1, 1, 1}, [3]float64{})
	data := make([]float64, g.NumVoxels())
	for i := range data {
		p := g.VoxelPoint(i)
		d := math.Sqrt((p[0]-c[0])*(p[0]-c[0]) + (p[1]-c[1])*(p[1]-c[1]) + (p[2]-c[2])*(p[2]-c[2]))
		// soft edge so the gradient is informative
		data[i] = 100 / (1 + math.Exp((d-r)/1.5))
	}
	return volume.MustFromData(g, volume.Float32, 1, data)
}

func TestDemonsRecoversShift(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping demons convergence test in short mode")
	}
	fixed := sphere(24, [3]float64{11.5, 11.5, 11.5}, 6)
	moving := sphere(24, [3]float64{13, 11.5, 11.5}, 6)

	var metrics []float64
	s := DefaultSolver(40)
	s.Workers = 2
	s.Observer = func(_ int, m float64) { metrics = append(metrics, m) }
	res, err := s.Run(fixed, moving, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(metrics) != 40 {
		t.Fatalf("observer called %d times, want 40", len(metrics))
	}
	if metrics[len(metrics)-1] >= metrics[0]/2 {
		t.Errorf("metric did not drop enough: first %v last %v", metrics[0], metrics[len(metrics)-1])
	}

	// mean x displacement on the sphere boundary points towards the moving sphere
	g := fixed.Grid()
	var sum float64
	var n int
	for z := 9; z <= 14; z++ {
		for y := 9; y <= 14; y++ {
			for _, x := range []int{5, 6, 17, 18} {
				sum += res.Field.At(x, y, z, 0)
				n++
			}
		}
	}
	if mean := sum / float64(n); mean < 0.4 || mean > 2.5 {
		t.Errorf("mean x displacement %v, want about 1.5", mean)
	}
	if res.Field.Grid().Size != g.Size || res.Field.Components() != 3 {
		t.Errorf("field geometry %v with %d components", res.Field.Grid().Size, res.Field.Components())
	}
}

func TestDemonsIdenticalImagesStayPut(t *testing.T) {
	img := sphere(12, [3]float64{5.5, 5.5, 5.5}, 3)
	res, err := DefaultSolver(5).Run(img, img, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range res.Field.Samples() {
		if v != 0 {
			t.Fatalf("component %d moved to %v", i, v)
		}
	}
	if res.Metric != 0 {
		t.Errorf("metric %v, want 0", res.Metric)
	}
}

func TestDemonsRejectsForeignField(t *testing.T) {
	img := sphere(8, [3]float64{3.5, 3.5, 3.5}, 2)
	other := volume.NewGrid3D([3]int{4, 4, 4}, [3]float64{2, 2, 2}, [3]float64{})
	field, _ := volume.New(other, volume.Float64, 3)
	if _, err := DefaultSolver(1).Run(img, img, field); !errors.Is(err, volume.ErrGeometryMismatch) {
		t.Fatalf("expected geometry mismatch, got %v", err)
	}
}
