package volume

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

const tolerance = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < tolerance
}

func TestVolumeIndexing(t *testing.T) {
	v := New(3, 4, 5, 2)

	if len(v.Data) != 3*4*5*2 {
		t.Fatalf("Data length = %d, want %d", len(v.Data), 3*4*5*2)
	}

	v.SetAt(2, 3, 4, 1, 42.0)
	if got := v.At(2, 3, 4, 1); got != 42.0 {
		t.Errorf("At(2,3,4,1) = %g, want 42", got)
	}

	// neighbors stay untouched
	if got := v.At(1, 3, 4, 1); got != 0 {
		t.Errorf("At(1,3,4,1) = %g, want 0", got)
	}
	if got := v.At(2, 3, 4, 0); got != 0 {
		t.Errorf("At(2,3,4,0) = %g, want 0", got)
	}
}

func TestTemporalMeanAndStd(t *testing.T) {
	// one voxel varying over time, one constant
	v := New(2, 1, 1, 4)
	for tp, val := range []float64{2, 4, 6, 8} {
		v.SetAt(0, 0, 0, tp, val)
		v.SetAt(1, 0, 0, tp, 5)
	}

	mean := v.TemporalMean()
	if !almostEqual(mean.At(0, 0, 0), 5) {
		t.Errorf("mean of varying voxel = %g, want 5", mean.At(0, 0, 0))
	}
	if !almostEqual(mean.At(1, 0, 0), 5) {
		t.Errorf("mean of constant voxel = %g, want 5", mean.At(1, 0, 0))
	}

	std := v.TemporalStd()
	// population std of {2,4,6,8} is sqrt(5)
	if !almostEqual(std.At(0, 0, 0), math.Sqrt(5)) {
		t.Errorf("std of varying voxel = %g, want %g", std.At(0, 0, 0), math.Sqrt(5))
	}
	if !almostEqual(std.At(1, 0, 0), 0) {
		t.Errorf("std of constant voxel = %g, want 0", std.At(1, 0, 0))
	}
}

func TestCentralSliceIndex(t *testing.T) {
	tests := []struct {
		nz   int
		want int
	}{
		{57, 28},
		{12, 6},
		{1, 0},
	}

	for _, tt := range tests {
		v := New(2, 2, tt.nz, 2)
		if got := v.CentralSliceIndex(); got != tt.want {
			t.Errorf("CentralSliceIndex with nz=%d = %d, want %d", tt.nz, got, tt.want)
		}
	}
}

func TestCheckShape(t *testing.T) {
	if err := CheckShape(4, 4, 4, 2); err != nil {
		t.Errorf("valid shape rejected: %v", err)
	}

	for _, dims := range [][4]int{
		{0, 4, 4, 2},
		{4, 0, 4, 2},
		{4, 4, 0, 2},
		{4, 4, 4, 1},
		{4, 4, 4, 0},
	} {
		err := CheckShape(dims[0], dims[1], dims[2], dims[3])
		if !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("CheckShape(%v) = %v, want ErrShapeMismatch", dims, err)
		}
	}
}

func TestGridSlice(t *testing.T) {
	g := NewGrid(2, 3, 4)
	for z := 0; z < 4; z++ {
		for y := 0; y < 3; y++ {
			for x := 0; x < 2; x++ {
				g.SetAt(x, y, z, float64(100*x+10*y+z))
			}
		}
	}

	t.Run("axial slice", func(t *testing.T) {
		plane, w, h, err := g.Slice("z", 2)
		if err != nil {
			t.Fatalf("Slice failed: %v", err)
		}
		if w != 2 || h != 3 {
			t.Fatalf("plane is %dx%d, want 2x3", w, h)
		}
		if plane[1*2+1] != 100*1+10*1+2 {
			t.Errorf("plane[1,1] = %g, want %g", plane[1*2+1], float64(112))
		}
	})

	t.Run("sagittal slice", func(t *testing.T) {
		plane, w, h, err := g.Slice("x", 1)
		if err != nil {
			t.Fatalf("Slice failed: %v", err)
		}
		if w != 3 || h != 4 {
			t.Fatalf("plane is %dx%d, want 3x4", w, h)
		}
		if plane[2*3+1] != 100*1+10*1+2 {
			t.Errorf("plane[2,1] = %g, want %g", plane[2*3+1], float64(112))
		}
	})

	t.Run("out of range", func(t *testing.T) {
		if _, _, _, err := g.Slice("z", 4); err == nil {
			t.Error("expected error for out-of-range position")
		}
	})

	t.Run("invalid axis", func(t *testing.T) {
		if _, _, _, err := g.Slice("w", 0); err == nil {
			t.Error("expected error for invalid axis")
		}
	})
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nothing.nii.gz"))
	if !errors.Is(err, ErrLoadFailed) {
		t.Errorf("expected ErrLoadFailed, got %v", err)
	}
}
