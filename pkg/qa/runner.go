package qa

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"fmriqa/pkg/config"
	"fmriqa/pkg/mask"
	"fmriqa/pkg/metadata"
	"fmriqa/pkg/snr"
	"fmriqa/pkg/volume"
)

// Loader loads a 4D acquisition volume from disk. The default loader reads
// NIfTI-1 files; tests substitute synthetic volumes.
type Loader interface {
	Load(path string) (*volume.Volume, error)
}

// niftiLoader is the production Loader backed by pkg/volume.
type niftiLoader struct{}

func (niftiLoader) Load(path string) (*volume.Volume, error) {
	return volume.Load(path)
}

// Params holds the batch processing parameters.
type Params struct {
	// InputDir is the directory containing acquisition files
	InputDir string

	// Pattern is the filename glob matched against base names,
	// without the extension
	Pattern string

	// Extension is the image file extension, .nii or .nii.gz
	Extension string

	// Mask controls brain mask derivation
	Mask mask.Params

	// Loader overrides volume loading; nil selects the NIfTI loader
	Loader Loader
}

// MaskParamsFromConfig translates the YAML mask section into mask.Params.
func MaskParamsFromConfig(cfg *config.Config) mask.Params {
	return mask.Params{
		Strategy:        mask.Strategy(cfg.Mask.Strategy),
		Fraction:        cfg.Mask.Fraction,
		PercentileLevel: cfg.Mask.PercentileLevel,
	}
}

// FailureNote names one failed dataset and its reason.
type FailureNote struct {
	Path   string `json:"path"`
	Reason Reason `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// BatchSummary tallies one batch run for reporting.
type BatchSummary struct {
	// RunID uniquely identifies this batch run
	RunID string `json:"run_id"`

	// InputDir and Pattern echo the discovery parameters
	InputDir string `json:"input_dir"`
	Pattern  string `json:"pattern"`

	// Total, Succeeded and Failed count processed datasets
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// Failures names each failed dataset with its reason
	Failures []FailureNote `json:"failures,omitempty"`

	// StartedAt and FinishedAt bound the run in UTC
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Runner discovers acquisition files and processes them sequentially, one
// volume resident at a time. Datasets are fully independent: one failure
// never aborts or corrupts processing of another.
type Runner struct {
	params *Params
	loader Loader
}

// NewRunner creates a batch runner with the provided parameters.
func NewRunner(params *Params) *Runner {
	loader := params.Loader
	if loader == nil {
		loader = niftiLoader{}
	}
	return &Runner{params: params, loader: loader}
}

// Discover returns the acquisition files matching the configured pattern
// in lexical order.
func (r *Runner) Discover() ([]string, error) {
	glob := filepath.Join(r.params.InputDir, r.params.Pattern+r.params.Extension)
	files, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("invalid file pattern %q: %v", glob, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files found matching pattern %s", glob)
	}
	sort.Strings(files)
	return files, nil
}

// Run processes every discovered dataset and returns the ordered record
// sequence plus a run summary. The record order is discovery order.
func (r *Runner) Run() ([]DatasetMetricRecord, *BatchSummary, error) {
	files, err := r.Discover()
	if err != nil {
		return nil, nil, err
	}

	summary := &BatchSummary{
		RunID:     uuid.New().String(),
		InputDir:  r.params.InputDir,
		Pattern:   r.params.Pattern + r.params.Extension,
		Total:     len(files),
		StartedAt: time.Now().UTC(),
	}

	records := make([]DatasetMetricRecord, 0, len(files))
	for i, path := range files {
		log.WithFields(log.Fields{
			"file":  filepath.Base(path),
			"index": fmt.Sprintf("%d/%d", i+1, len(files)),
		}).Info("Processing dataset")

		rec := r.ProcessDataset(path)
		records = append(records, rec)

		if rec.Status == StatusSuccess {
			summary.Succeeded++
		} else {
			summary.Failed++
			summary.Failures = append(summary.Failures, FailureNote{
				Path:   rec.Path,
				Reason: rec.Reason,
				Detail: rec.Detail,
			})
			log.WithFields(log.Fields{
				"file":   filepath.Base(path),
				"reason": rec.Reason,
			}).Warn("Dataset failed")
		}
	}

	summary.FinishedAt = time.Now().UTC()
	return records, summary, nil
}

// ProcessDataset runs the full metric pipeline for one acquisition file:
// TR resolution, Ernst scaling, volume loading, noise estimation, SNR
// computation and record assembly. Every failure, including a panic from a
// malformed file, is converted into a failed record.
func (r *Runner) ProcessDataset(path string) (rec DatasetMetricRecord) {
	defer func() {
		if p := recover(); p != nil {
			rec = DatasetMetricRecord{
				Path:   path,
				Status: StatusFailed,
				Reason: ReasonUnknown,
				Detail: fmt.Sprintf("panic: %v", p),
			}
		}
	}()

	// TR resolution; no silent default, a bad sidecar fails the dataset
	meta, err := metadata.Resolve(path)
	if err != nil {
		return failedRecord(path, err)
	}
	tr := meta.TR()
	ernst := metadata.ErnstScaling(tr)

	vol, err := r.loader.Load(path)
	if err != nil {
		return failedRecord(path, err)
	}

	if _, isNifti := r.loader.(niftiLoader); isNifti {
		if headerTR := volume.HeaderTR(path); headerTR > 0 && headerTR != tr {
			log.WithFields(log.Fields{
				"file":      filepath.Base(path),
				"sidecarTR": tr,
				"headerTR":  headerTR,
			}).Warn("Sidecar TR disagrees with NIfTI header")
		}
	}

	mean := vol.TemporalMean()
	std := vol.TemporalStd()

	brainMask, err := mask.Derive(mean, r.params.Mask)
	if err != nil {
		return failedRecord(path, err)
	}

	// a dedicated noise scan, when present, takes precedence over the
	// derived background statistic
	source := mask.NoiseSource{Kind: mask.DerivedFromMask}
	var noiseScan *volume.Grid
	if scanPath, ok := mask.FindNoiseScan(path); ok {
		nv, loadErr := r.loader.Load(scanPath)
		if loadErr != nil {
			log.WithFields(log.Fields{
				"file":  filepath.Base(scanPath),
				"error": loadErr,
			}).Warn("Ignoring unreadable noise scan")
		} else {
			noiseScan = nv.TemporalMean()
			source = mask.NoiseSource{Kind: mask.ExplicitNoiseScan, Path: scanPath}
		}
	}

	noise, err := mask.EstimateNoise(mean, brainMask, noiseScan)
	if err != nil {
		return failedRecord(path, err)
	}

	result, err := snr.Compute(mean, std, brainMask, noise, ernst, tr)
	if err != nil {
		return failedRecord(path, err)
	}

	return DatasetMetricRecord{
		Path:              path,
		TR:                tr,
		ErnstFactor:       ernst,
		Meta:              meta,
		Nx:                vol.Nx,
		Ny:                vol.Ny,
		Nz:                vol.Nz,
		Nt:                vol.Nt,
		ISNR:              result.ISNR,
		TSNR:              result.TSNR,
		TSNRPerUnitTime:   result.TSNRPerUnitTime,
		MeanVolumeStd:     result.MeanVolumeStd,
		NoiseValue:        result.NoiseValue,
		CentralSliceIndex: vol.CentralSliceIndex(),
		MeanImage:         mean,
		ISNRMap:           result.ISNRMap,
		TSNRMap:           result.TSNRMap,
		NoiseSource:       source,
		Status:            StatusSuccess,
	}
}
