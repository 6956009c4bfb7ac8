// Package qa assembles per-dataset QA metric records and orchestrates batch
// processing of fMRI acquisitions with per-dataset failure isolation.
package qa

import (
	"errors"

	"fmriqa/pkg/mask"
	"fmriqa/pkg/metadata"
	"fmriqa/pkg/snr"
	"fmriqa/pkg/volume"
)

// Status marks whether a dataset was fully processed.
type Status string

const (
	// StatusSuccess means every metric was computed
	StatusSuccess Status = "success"

	// StatusFailed means processing stopped at the first failing
	// component; the record carries identity and reason only
	StatusFailed Status = "failed"
)

// Reason classifies a dataset failure so a user can fix the input data
// without re-running the whole batch.
type Reason string

const (
	ReasonMetadataMissing       Reason = "MetadataMissing"
	ReasonMetadataInvalid       Reason = "MetadataInvalid"
	ReasonNoiseEstimationFailed Reason = "NoiseEstimationFailed"
	ReasonDivisionByZero        Reason = "DivisionByZero"
	ReasonVolumeLoadFailed      Reason = "VolumeLoadFailed"
	ReasonShapeMismatch         Reason = "ShapeMismatch"
	ReasonUnknown               Reason = "Unknown"
)

// ClassifyError maps a component error chain onto the failure taxonomy.
func ClassifyError(err error) Reason {
	switch {
	case errors.Is(err, metadata.ErrMissing):
		return ReasonMetadataMissing
	case errors.Is(err, metadata.ErrInvalid):
		return ReasonMetadataInvalid
	case errors.Is(err, mask.ErrNoBackground):
		return ReasonNoiseEstimationFailed
	case errors.Is(err, snr.ErrDivisionByZero):
		return ReasonDivisionByZero
	case errors.Is(err, volume.ErrLoadFailed):
		return ReasonVolumeLoadFailed
	case errors.Is(err, volume.ErrShapeMismatch):
		return ReasonShapeMismatch
	default:
		return ReasonUnknown
	}
}

// DatasetMetricRecord is the unit of output: one record per acquisition,
// created by one engine invocation and never mutated afterwards. A failed
// record carries no scalar or map fields beyond identity and reason, so
// downstream consumers cannot mistake a half-computed record for a
// complete one.
type DatasetMetricRecord struct {
	// Path is the source image file
	Path string

	// TR is the detected repetition time in seconds
	TR float64

	// ErnstFactor is the Ernst-angle scaling factor for TR
	ErnstFactor float64

	// Meta carries the raw sidecar fields for traceability
	Meta *metadata.Metadata

	// Nx, Ny, Nz, Nt describe the acquisition shape
	Nx, Ny, Nz, Nt int

	// Scalar metrics
	ISNR              float64
	TSNR              float64
	TSNRPerUnitTime   float64
	MeanVolumeStd     float64
	NoiseValue        float64
	CentralSliceIndex int

	// Maps handed to the reporting layer
	MeanImage *volume.Grid
	ISNRMap   *volume.Grid
	TSNRMap   *volume.Grid

	// NoiseSource records which noise source produced NoiseValue
	NoiseSource mask.NoiseSource

	// Status and failure classification
	Status Status
	Reason Reason

	// Detail is the underlying error text for a failed record
	Detail string
}

// failedRecord builds a failure record carrying identity and reason only.
func failedRecord(path string, err error) DatasetMetricRecord {
	return DatasetMetricRecord{
		Path:   path,
		Status: StatusFailed,
		Reason: ClassifyError(err),
		Detail: err.Error(),
	}
}
