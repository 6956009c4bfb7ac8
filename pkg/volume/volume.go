// Package volume provides loading and reduction of 4D fMRI acquisition
// volumes stored in NIfTI-1 format. A volume is immutable once loaded and
// is owned by a single processing invocation.
package volume

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/henghuang/nifti"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrLoadFailed indicates the image file could not be read or decoded.
	ErrLoadFailed = errors.New("volume load failed")

	// ErrShapeMismatch indicates dimensions that are inconsistent or
	// unusable for time-series statistics.
	ErrShapeMismatch = errors.New("volume shape mismatch")
)

// Volume represents a 4D acquisition: voxel intensities over x, y, z and
// time. Data is stored as a flat array with x varying fastest and time
// varying slowest.
type Volume struct {
	// Data is the 4D volume data as a 1D array
	Data []float64

	// Nx, Ny, Nz are the spatial dimensions in voxels
	Nx, Ny, Nz int

	// Nt is the number of time points
	Nt int
}

// Grid represents a 3D scalar field with the same spatial extent as one
// volume frame, stored as a 1D array with x varying fastest.
type Grid struct {
	// Data is the 3D grid data as a 1D array
	Data []float64

	// Nx, Ny, Nz are the grid dimensions in voxels
	Nx, Ny, Nz int
}

// New creates an empty volume with the given dimensions.
func New(nx, ny, nz, nt int) *Volume {
	return &Volume{
		Data: make([]float64, nx*ny*nz*nt),
		Nx:   nx,
		Ny:   ny,
		Nz:   nz,
		Nt:   nt,
	}
}

// NewGrid creates an empty grid with the given dimensions.
func NewGrid(nx, ny, nz int) *Grid {
	return &Grid{
		Data: make([]float64, nx*ny*nz),
		Nx:   nx,
		Ny:   ny,
		Nz:   nz,
	}
}

// At returns the intensity at voxel (x, y, z) and time point t.
func (v *Volume) At(x, y, z, t int) float64 {
	return v.Data[((t*v.Nz+z)*v.Ny+y)*v.Nx+x]
}

// SetAt stores an intensity at voxel (x, y, z) and time point t.
func (v *Volume) SetAt(x, y, z, t int, val float64) {
	v.Data[((t*v.Nz+z)*v.Ny+y)*v.Nx+x] = val
}

// Shape returns the volume dimensions as (nx, ny, nz, nt).
func (v *Volume) Shape() (int, int, int, int) {
	return v.Nx, v.Ny, v.Nz, v.Nt
}

// NumVoxels returns the number of spatial voxels in one frame.
func (v *Volume) NumVoxels() int {
	return v.Nx * v.Ny * v.Nz
}

// CentralSliceIndex returns the middle index along the through-plane axis,
// used to pick a representative slice for downstream visualization.
func (v *Volume) CentralSliceIndex() int {
	return v.Nz / 2
}

// At returns the grid value at voxel (x, y, z).
func (g *Grid) At(x, y, z int) float64 {
	return g.Data[(z*g.Ny+y)*g.Nx+x]
}

// SetAt stores a grid value at voxel (x, y, z).
func (g *Grid) SetAt(x, y, z int, val float64) {
	g.Data[(z*g.Ny+y)*g.Nx+x] = val
}

// SameShape reports whether two grids have identical dimensions.
func (g *Grid) SameShape(other *Grid) bool {
	return g.Nx == other.Nx && g.Ny == other.Ny && g.Nz == other.Nz
}

// Load reads a 4D NIfTI-1 image (.nii or .nii.gz) from disk. NaN voxels
// are replaced with zero so downstream statistics stay defined. The nifti
// decoder panics on malformed input, so failures of any kind are converted
// to ErrLoadFailed.
func Load(path string) (vol *Volume, err error) {
	if _, statErr := os.Stat(path); statErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, statErr)
	}

	defer func() {
		if r := recover(); r != nil {
			vol = nil
			err = fmt.Errorf("%w: %v", ErrLoadFailed, r)
		}
	}()

	var img nifti.Nifti1Image
	img.LoadImage(path, true)

	dims := img.GetDims()
	nx, ny, nz, nt := dims[0], dims[1], dims[2], dims[3]

	if err := CheckShape(nx, ny, nz, nt); err != nil {
		return nil, err
	}

	v := New(nx, ny, nz, nt)
	for t := 0; t < nt; t++ {
		for z := 0; z < nz; z++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					val := float64(img.GetAt(x, y, z, t))
					if math.IsNaN(val) {
						val = 0
					}
					v.SetAt(x, y, z, t, val)
				}
			}
		}
	}

	log.WithFields(log.Fields{
		"file":  filepath.Base(path),
		"shape": fmt.Sprintf("%dx%dx%dx%d", nx, ny, nz, nt),
	}).Debug("Loaded acquisition volume")

	return v, nil
}

// CheckShape validates dimensions for time-series processing: all spatial
// dimensions must be positive and at least two time points are needed for
// temporal statistics.
func CheckShape(nx, ny, nz, nt int) error {
	if nx < 1 || ny < 1 || nz < 1 {
		return fmt.Errorf("%w: degenerate spatial dimensions %dx%dx%d", ErrShapeMismatch, nx, ny, nz)
	}
	if nt < 2 {
		return fmt.Errorf("%w: need at least 2 time points, got %d", ErrShapeMismatch, nt)
	}
	return nil
}

// HeaderTR reads the repetition time recorded in the NIfTI header
// (pixdim[4]) for cross-checking against sidecar metadata. It is a
// diagnostic value only; zero is returned when the header cannot be read.
func HeaderTR(path string) float64 {
	defer func() {
		// header parsing panics on malformed files
		_ = recover()
	}()

	var hdr nifti.Nifti1Header
	hdr.LoadHeader(path)
	return float64(hdr.Pixdim[4])
}

// TemporalMean computes the voxel-wise mean over the time axis.
func (v *Volume) TemporalMean() *Grid {
	g := NewGrid(v.Nx, v.Ny, v.Nz)
	nvox := v.NumVoxels()
	for t := 0; t < v.Nt; t++ {
		frame := v.Data[t*nvox : (t+1)*nvox]
		for i, val := range frame {
			g.Data[i] += val
		}
	}
	inv := 1.0 / float64(v.Nt)
	for i := range g.Data {
		g.Data[i] *= inv
	}
	return g
}

// TemporalStd computes the voxel-wise population standard deviation over
// the time axis.
func (v *Volume) TemporalStd() *Grid {
	mean := v.TemporalMean()
	g := NewGrid(v.Nx, v.Ny, v.Nz)
	nvox := v.NumVoxels()
	for t := 0; t < v.Nt; t++ {
		frame := v.Data[t*nvox : (t+1)*nvox]
		for i, val := range frame {
			d := val - mean.Data[i]
			g.Data[i] += d * d
		}
	}
	inv := 1.0 / float64(v.Nt)
	for i := range g.Data {
		g.Data[i] = math.Sqrt(g.Data[i] * inv)
	}
	return g
}

// Slice extracts a 2D plane from the grid along the specified axis. The
// returned data is row-major with dimensions (w, h).
func (g *Grid) Slice(axis string, position int) ([]float64, int, int, error) {
	if position < 0 {
		return nil, 0, 0, fmt.Errorf("position must be non-negative")
	}

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= g.Nx {
			return nil, 0, 0, fmt.Errorf("position %d exceeds width %d", position, g.Nx)
		}
		plane := make([]float64, g.Ny*g.Nz)
		for z := 0; z < g.Nz; z++ {
			for y := 0; y < g.Ny; y++ {
				plane[z*g.Ny+y] = g.At(position, y, z)
			}
		}
		return plane, g.Ny, g.Nz, nil

	case "y", "Y":
		// XZ plane
		if position >= g.Ny {
			return nil, 0, 0, fmt.Errorf("position %d exceeds height %d", position, g.Ny)
		}
		plane := make([]float64, g.Nx*g.Nz)
		for z := 0; z < g.Nz; z++ {
			for x := 0; x < g.Nx; x++ {
				plane[z*g.Nx+x] = g.At(x, position, z)
			}
		}
		return plane, g.Nx, g.Nz, nil

	case "z", "Z":
		// XY plane, the usual axial view
		if position >= g.Nz {
			return nil, 0, 0, fmt.Errorf("position %d exceeds depth %d", position, g.Nz)
		}
		plane := make([]float64, g.Nx*g.Ny)
		for y := 0; y < g.Ny; y++ {
			for x := 0; x < g.Nx; x++ {
				plane[y*g.Nx+x] = g.At(x, y, position)
			}
		}
		return plane, g.Nx, g.Ny, nil

	default:
		return nil, 0, 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}
