package mask

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"fmriqa/pkg/volume"
)

// brightCubeGrid builds an 8x8x8 grid with background intensity 10 and a
// bright 4x4x4 cube of intensity 1000 in one corner.
func brightCubeGrid() *volume.Grid {
	g := volume.NewGrid(8, 8, 8)
	for z := 0; z < 8; z++ {
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				val := 10.0
				if x < 4 && y < 4 && z < 4 {
					val = 1000.0
				}
				g.SetAt(x, y, z, val)
			}
		}
	}
	return g
}

func TestDeriveFractionOfMax(t *testing.T) {
	g := brightCubeGrid()

	m, err := Derive(g, DefaultParams())
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}

	// threshold is 0.05 * 1000 = 50: only the cube is signal
	if m.Threshold != 50 {
		t.Errorf("Threshold = %g, want 50", m.Threshold)
	}
	if got, want := m.SignalCount(), 4*4*4; got != want {
		t.Errorf("SignalCount = %d, want %d", got, want)
	}
	if got, want := m.BackgroundCount(), 8*8*8-4*4*4; got != want {
		t.Errorf("BackgroundCount = %d, want %d", got, want)
	}
}

func TestDerivePercentile(t *testing.T) {
	g := brightCubeGrid()

	m, err := Derive(g, Params{Strategy: Percentile, PercentileLevel: 75})
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}

	// background covers 87.5% of the volume, so the 75th percentile is
	// the background intensity and only cube voxels lie strictly above it
	if got, want := m.SignalCount(), 4*4*4; got != want {
		t.Errorf("SignalCount = %d, want %d", got, want)
	}
}

func TestDeriveOtsu(t *testing.T) {
	g := brightCubeGrid()

	m, err := Derive(g, Params{Strategy: Otsu})
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}

	// a clean bimodal distribution must split exactly at the cube
	if got, want := m.SignalCount(), 4*4*4; got != want {
		t.Errorf("SignalCount = %d, want %d", got, want)
	}
}

func TestDeriveUnknownStrategy(t *testing.T) {
	_, err := Derive(brightCubeGrid(), Params{Strategy: "magic"})
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	g := brightCubeGrid()

	first, err := Derive(g, DefaultParams())
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	second, err := Derive(g, DefaultParams())
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}

	for i := range first.In {
		if first.In[i] != second.In[i] {
			t.Fatalf("mask differs at voxel %d between identical runs", i)
		}
	}
}

func TestEstimateNoise(t *testing.T) {
	g := brightCubeGrid()
	m, err := Derive(g, DefaultParams())
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}

	t.Run("derived from mask", func(t *testing.T) {
		noise, err := EstimateNoise(g, m, nil)
		if err != nil {
			t.Fatalf("EstimateNoise failed: %v", err)
		}
		// every background voxel is 10, so the median is 10
		if noise != 10 {
			t.Errorf("noise = %g, want 10", noise)
		}
	})

	t.Run("explicit noise scan", func(t *testing.T) {
		scan := volume.NewGrid(8, 8, 8)
		for i := range scan.Data {
			scan.Data[i] = 3
		}
		noise, err := EstimateNoise(g, m, scan)
		if err != nil {
			t.Fatalf("EstimateNoise failed: %v", err)
		}
		if noise != 3 {
			t.Errorf("noise = %g, want 3 from the noise scan", noise)
		}
	})

	t.Run("noise scan shape mismatch", func(t *testing.T) {
		scan := volume.NewGrid(4, 4, 4)
		_, err := EstimateNoise(g, m, scan)
		if !errors.Is(err, volume.ErrShapeMismatch) {
			t.Errorf("expected ErrShapeMismatch, got %v", err)
		}
	})

	t.Run("no background voxels", func(t *testing.T) {
		all := &BrainMask{In: make([]bool, len(g.Data)), Nx: 8, Ny: 8, Nz: 8}
		for i := range all.In {
			all.In[i] = true
		}
		_, err := EstimateNoise(g, all, nil)
		if !errors.Is(err, ErrNoBackground) {
			t.Errorf("expected ErrNoBackground, got %v", err)
		}
	})
}

func TestOtsuThresholdConstantData(t *testing.T) {
	data := make([]float64, 64)
	for i := range data {
		data[i] = 7
	}
	if got := otsuThreshold(data); math.IsNaN(got) {
		t.Error("otsuThreshold returned NaN for constant data")
	}
}

func TestFindNoiseScan(t *testing.T) {
	dir := t.TempDir()

	write := func(name string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
		return path
	}

	imagePath := write("sub001-bold.nii.gz")

	t.Run("no noise scan", func(t *testing.T) {
		if _, ok := FindNoiseScan(imagePath); ok {
			t.Error("found a noise scan where none exists")
		}
	})

	t.Run("finds noise scan", func(t *testing.T) {
		noisePath := write("sub001-noise.nii.gz")
		got, ok := FindNoiseScan(imagePath)
		if !ok {
			t.Fatal("noise scan not found")
		}
		if got != noisePath {
			t.Errorf("FindNoiseScan = %q, want %q", got, noisePath)
		}
	})

	t.Run("ignores non-nifti files", func(t *testing.T) {
		write("readme-noise.txt")
		got, _ := FindNoiseScan(imagePath)
		if filepath.Ext(got) == ".txt" {
			t.Errorf("picked a non-NIfTI file: %q", got)
		}
	})

	t.Run("never picks the dataset itself", func(t *testing.T) {
		selfNoise := write("mynoise-bold.nii.gz")
		got, ok := FindNoiseScan(selfNoise)
		if ok && got == selfNoise {
			t.Error("noise scan resolved to the dataset itself")
		}
	})
}
