package qa

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// recordSummary is the JSON shape of one dataset in the summary file,
// matching the qa_summary.json layout consumed by the reporting layer.
type recordSummary struct {
	File              string  `json:"file"`
	Shape             [4]int  `json:"shape"`
	TR                float64 `json:"tr"`
	ErnstScaling      float64 `json:"ernst_scaling"`
	ISNR              float64 `json:"isnr"`
	TSNR              float64 `json:"mean_tsnr"`
	TSNRPerUnitTime   float64 `json:"tsnr_per_unit_time"`
	MeanVolumeStd     float64 `json:"mean_volume_std"`
	NoiseValue        float64 `json:"noise_value"`
	CentralSliceIndex int     `json:"central_slice_index"`
	NoiseSource       string  `json:"noise_source,omitempty"`
	Status            Status  `json:"status"`
	Reason            Reason  `json:"reason,omitempty"`
	Detail            string  `json:"detail,omitempty"`
}

type batchReport struct {
	Summary *BatchSummary   `json:"summary"`
	Results []recordSummary `json:"results"`
}

// WriteSummary writes the batch summary and the scalar metrics of every
// record to a JSON file. Maps are excluded: the reporting layer receives
// those in memory, and image persistence is its concern, not the engine's.
func WriteSummary(path string, summary *BatchSummary, records []DatasetMetricRecord) error {
	report := batchReport{
		Summary: summary,
		Results: make([]recordSummary, 0, len(records)),
	}

	for _, rec := range records {
		entry := recordSummary{
			File:   filepath.Base(rec.Path),
			Status: rec.Status,
			Reason: rec.Reason,
			Detail: rec.Detail,
		}
		if rec.Status == StatusSuccess {
			entry.NoiseSource = rec.NoiseSource.String()
			entry.Shape = [4]int{rec.Nx, rec.Ny, rec.Nz, rec.Nt}
			entry.TR = rec.TR
			entry.ErnstScaling = rec.ErnstFactor
			entry.ISNR = rec.ISNR
			entry.TSNR = rec.TSNR
			entry.TSNRPerUnitTime = rec.TSNRPerUnitTime
			entry.MeanVolumeStd = rec.MeanVolumeStd
			entry.NoiseValue = rec.NoiseValue
			entry.CentralSliceIndex = rec.CentralSliceIndex
		}
		report.Results = append(report.Results, entry)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling summary: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating summary directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing summary file: %w", err)
	}

	return nil
}
