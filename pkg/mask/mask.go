// Package mask derives brain masks from temporal mean volumes and estimates
// a scalar background noise level for SNR computation.
package mask

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"fmriqa/pkg/volume"
)

var (
	// ErrNoBackground indicates the mask classified every voxel as signal,
	// leaving nothing to estimate noise from.
	ErrNoBackground = errors.New("noise estimation failed: no background voxels")

	// ErrUnknownStrategy indicates an unrecognized threshold strategy name.
	ErrUnknownStrategy = errors.New("unknown mask threshold strategy")
)

// Strategy names the intensity-cutoff rule used to separate signal from
// background. The cutoff in the documented pipeline was an implicit
// heuristic; here it is explicit and configurable so it can be tuned and
// tested independently.
type Strategy string

const (
	// FractionOfMax thresholds at a fixed fraction of the maximum mean
	// intensity. This is the documented pipeline's behavior with
	// fraction 0.05.
	FractionOfMax Strategy = "fraction-of-max"

	// Percentile thresholds at a percentile of the intensity histogram.
	Percentile Strategy = "percentile"

	// Otsu picks the cutoff maximizing between-class variance over a
	// 256-bin intensity histogram.
	Otsu Strategy = "otsu"
)

// Params controls mask derivation.
type Params struct {
	// Strategy selects the thresholding rule
	Strategy Strategy

	// Fraction is the fraction of the maximum intensity used by the
	// fraction-of-max strategy
	Fraction float64

	// PercentileLevel is the histogram percentile (0-100) used by the
	// percentile strategy
	PercentileLevel float64
}

// DefaultParams returns the documented pipeline's thresholding behavior.
func DefaultParams() Params {
	return Params{
		Strategy:        FractionOfMax,
		Fraction:        0.05,
		PercentileLevel: 75,
	}
}

// BrainMask partitions the voxels of one volume frame into signal (brain
// tissue) and background (noise-only) regions.
type BrainMask struct {
	// In marks signal voxels, indexed like volume.Grid data
	In []bool

	// Nx, Ny, Nz are the mask dimensions in voxels
	Nx, Ny, Nz int

	// Threshold is the intensity cutoff that produced the mask
	Threshold float64
}

// SignalCount returns the number of voxels classified as signal.
func (m *BrainMask) SignalCount() int {
	n := 0
	for _, in := range m.In {
		if in {
			n++
		}
	}
	return n
}

// BackgroundCount returns the number of voxels classified as background.
func (m *BrainMask) BackgroundCount() int {
	return len(m.In) - m.SignalCount()
}

// SameShape reports whether the mask matches a grid's dimensions.
func (m *BrainMask) SameShape(g *volume.Grid) bool {
	return m.Nx == g.Nx && m.Ny == g.Ny && m.Nz == g.Nz
}

// Derive computes a brain mask by thresholding the temporal mean volume.
// Voxels strictly above the cutoff are signal. The derivation is fully
// deterministic: the same grid and parameters always produce the same mask.
func Derive(mean *volume.Grid, p Params) (*BrainMask, error) {
	threshold, err := computeThreshold(mean.Data, p)
	if err != nil {
		return nil, err
	}

	m := &BrainMask{
		In:        make([]bool, len(mean.Data)),
		Nx:        mean.Nx,
		Ny:        mean.Ny,
		Nz:        mean.Nz,
		Threshold: threshold,
	}
	for i, val := range mean.Data {
		m.In[i] = val > threshold
	}

	log.WithFields(log.Fields{
		"strategy":   p.Strategy,
		"threshold":  threshold,
		"signal":     m.SignalCount(),
		"background": m.BackgroundCount(),
	}).Debug("Derived brain mask")

	return m, nil
}

func computeThreshold(data []float64, p Params) (float64, error) {
	switch p.Strategy {
	case FractionOfMax, "":
		return p.Fraction * floats.Max(data), nil

	case Percentile:
		sorted := append([]float64(nil), data...)
		sort.Float64s(sorted)
		return stat.Quantile(p.PercentileLevel/100, stat.Empirical, sorted, nil), nil

	case Otsu:
		return otsuThreshold(data), nil

	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, p.Strategy)
	}
}

// otsuThreshold computes the cutoff maximizing between-class variance over
// a 256-bin histogram of the intensities.
func otsuThreshold(data []float64) float64 {
	const bins = 256

	min, max := floats.Min(data), floats.Max(data)
	if max <= min {
		return min
	}
	width := (max - min) / bins

	hist := make([]float64, bins)
	for _, val := range data {
		b := int((val - min) / width)
		if b >= bins {
			b = bins - 1
		}
		hist[b]++
	}

	total := float64(len(data))
	sumAll := 0.0
	for b, count := range hist {
		sumAll += float64(b) * count
	}

	var (
		sumBg, weightBg float64
		bestVar         float64
		bestBin         int
	)
	for b := 0; b < bins; b++ {
		weightBg += hist[b]
		if weightBg == 0 {
			continue
		}
		weightFg := total - weightBg
		if weightFg == 0 {
			break
		}
		sumBg += float64(b) * hist[b]

		meanBg := sumBg / weightBg
		meanFg := (sumAll - sumBg) / weightFg
		between := weightBg * weightFg * (meanBg - meanFg) * (meanBg - meanFg)
		if between > bestVar {
			bestVar = between
			bestBin = b
		}
	}

	return min + (float64(bestBin)+1)*width
}

// SourceKind discriminates where the noise estimate came from.
type SourceKind int

const (
	// DerivedFromMask estimates noise from background voxels of the
	// signal volume itself
	DerivedFromMask SourceKind = iota

	// ExplicitNoiseScan estimates noise from a dedicated noise-only
	// acquisition supplied alongside the dataset
	ExplicitNoiseScan
)

// NoiseSource records which noise source was used for a dataset, resolved
// once per dataset and carried in the output record for traceability.
type NoiseSource struct {
	// Kind discriminates the source
	Kind SourceKind

	// Path is the noise scan file, set only for ExplicitNoiseScan
	Path string
}

func (s NoiseSource) String() string {
	if s.Kind == ExplicitNoiseScan {
		return fmt.Sprintf("noise-scan(%s)", filepath.Base(s.Path))
	}
	return "derived-from-mask"
}

// FindNoiseScan looks for a dedicated noise-only acquisition next to the
// dataset: a NIfTI file in the same directory whose name contains "noise".
// The dataset's own file is never a candidate.
func FindNoiseScan(imagePath string) (string, bool) {
	dir := filepath.Dir(imagePath)
	self := filepath.Base(imagePath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == self {
			continue
		}
		if !strings.HasSuffix(name, ".nii") && !strings.HasSuffix(name, ".nii.gz") {
			continue
		}
		if strings.Contains(strings.ToLower(name), "noise") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", false
	}

	// lexical order keeps discovery deterministic
	sort.Strings(names)
	return filepath.Join(dir, names[0]), true
}

// EstimateNoise returns the typical background intensity: the median of
// the mean-volume intensities outside the brain mask. When a dedicated
// noise scan is supplied its own temporal mean is sampled over the same
// background region instead. A mask with zero background voxels fails the
// estimate rather than returning an undefined noise value.
func EstimateNoise(mean *volume.Grid, m *BrainMask, noiseScan *volume.Grid) (float64, error) {
	source := mean
	if noiseScan != nil {
		if !m.SameShape(noiseScan) {
			return 0, fmt.Errorf("%w: noise scan is %dx%dx%d, mask is %dx%dx%d",
				volume.ErrShapeMismatch,
				noiseScan.Nx, noiseScan.Ny, noiseScan.Nz,
				m.Nx, m.Ny, m.Nz)
		}
		source = noiseScan
	}

	background := make([]float64, 0, len(source.Data))
	for i, val := range source.Data {
		if !m.In[i] {
			background = append(background, val)
		}
	}
	if len(background) == 0 {
		return 0, ErrNoBackground
	}

	sort.Float64s(background)
	return stat.Quantile(0.5, stat.Empirical, background, nil), nil
}
