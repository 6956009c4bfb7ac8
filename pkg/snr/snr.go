// Package snr computes image SNR and temporal SNR metrics from the
// temporal reductions of a 4D acquisition.
package snr

import (
	"errors"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"fmriqa/pkg/mask"
	"fmriqa/pkg/volume"
)

// ErrDivisionByZero indicates a zero noise estimate, which would make the
// image SNR undefined.
var ErrDivisionByZero = errors.New("division by zero: noise value is zero")

// Result holds the SNR metrics for one acquisition.
type Result struct {
	// ISNR is the image SNR: typical masked signal over background noise
	ISNR float64

	// TSNR is the mean temporal SNR over brain voxels with nonzero
	// temporal variance
	TSNR float64

	// TSNRPerUnitTime is the TSNR normalized by sqrt(TR) and scaled by
	// the Ernst factor, the figure of merit for cross-protocol comparison
	TSNRPerUnitTime float64

	// MeanVolumeStd is the standard deviation of the masked mean-volume
	// intensities, describing signal dispersion across the brain
	MeanVolumeStd float64

	// NoiseValue is the background noise estimate used for ISNR
	NoiseValue float64

	// TSNRVoxels is the number of voxels contributing to the TSNR scalar
	TSNRVoxels int

	// ISNRMap is the voxel-wise image SNR map (mean volume over noise)
	ISNRMap *volume.Grid

	// TSNRMap is the voxel-wise temporal SNR map; voxels with zero
	// temporal variance are NaN and excluded from every scalar summary
	TSNRMap *volume.Grid
}

// Compute derives all SNR metrics from the temporal mean and standard
// deviation grids, the brain mask, the noise estimate and the acquisition
// parameters. tr must be positive; the caller validates it when resolving
// metadata.
func Compute(mean, std *volume.Grid, m *mask.BrainMask, noise, ernst, tr float64) (*Result, error) {
	if !mean.SameShape(std) {
		return nil, fmt.Errorf("%w: mean is %dx%dx%d, std is %dx%dx%d",
			volume.ErrShapeMismatch, mean.Nx, mean.Ny, mean.Nz, std.Nx, std.Ny, std.Nz)
	}
	if !m.SameShape(mean) {
		return nil, fmt.Errorf("%w: mask is %dx%dx%d, mean is %dx%dx%d",
			volume.ErrShapeMismatch, m.Nx, m.Ny, m.Nz, mean.Nx, mean.Ny, mean.Nz)
	}
	if noise == 0 {
		return nil, ErrDivisionByZero
	}

	res := &Result{
		NoiseValue: noise,
		ISNRMap:    volume.NewGrid(mean.Nx, mean.Ny, mean.Nz),
		TSNRMap:    volume.NewGrid(mean.Nx, mean.Ny, mean.Nz),
	}

	// voxel-wise maps
	for i, mv := range mean.Data {
		res.ISNRMap.Data[i] = mv / noise
		if sd := std.Data[i]; sd != 0 {
			res.TSNRMap.Data[i] = mv / sd
		} else {
			// undefined ratio, masked out of the map
			res.TSNRMap.Data[i] = math.NaN()
		}
	}

	// scalar summaries restricted to the brain mask
	signal := make([]float64, 0, m.SignalCount())
	tsnrVals := make([]float64, 0, m.SignalCount())
	for i, in := range m.In {
		if !in {
			continue
		}
		signal = append(signal, mean.Data[i])
		if t := res.TSNRMap.Data[i]; !math.IsNaN(t) {
			tsnrVals = append(tsnrVals, t)
		}
	}

	if len(signal) > 0 {
		res.ISNR = stat.Mean(signal, nil) / noise
		res.MeanVolumeStd = stat.PopStdDev(signal, nil)
	}

	res.TSNRVoxels = len(tsnrVals)
	if len(tsnrVals) > 0 {
		res.TSNR = stat.Mean(tsnrVals, nil)
	}
	res.TSNRPerUnitTime = res.TSNR / math.Sqrt(tr) * ernst

	log.WithFields(log.Fields{
		"isnr":       res.ISNR,
		"tsnr":       res.TSNR,
		"tsnrVoxels": res.TSNRVoxels,
	}).Debug("Computed SNR metrics")

	return res, nil
}
