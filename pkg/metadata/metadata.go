// Package metadata resolves acquisition parameters from BIDS JSON sidecar
// files and maps repetition time to the Ernst-angle scaling factor used to
// normalize SNR metrics across protocols.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrMissing indicates no sidecar file exists for the dataset.
	ErrMissing = errors.New("metadata sidecar missing")

	// ErrInvalid indicates the sidecar exists but carries no usable
	// RepetitionTime value.
	ErrInvalid = errors.New("metadata invalid")
)

// Metadata holds the sidecar fields relevant to QA. Only RepetitionTime is
// validated; the remaining fields are carried through to the output record
// for traceability.
type Metadata struct {
	// RepetitionTime is the TR in seconds. A pointer distinguishes an
	// absent field from an explicit zero.
	RepetitionTime *float64 `json:"RepetitionTime"`

	// EchoTime is the TE in seconds, if present
	EchoTime float64 `json:"EchoTime,omitempty"`

	// FlipAngle is the excitation flip angle in degrees, if present
	FlipAngle float64 `json:"FlipAngle,omitempty"`

	// TaskName is the BIDS task label, if present
	TaskName string `json:"TaskName,omitempty"`
}

// TR returns the validated repetition time in seconds.
func (m *Metadata) TR() float64 {
	if m.RepetitionTime == nil {
		return 0
	}
	return *m.RepetitionTime
}

// SidecarPath derives the JSON sidecar path for an image file by the BIDS
// convention: identical basename, .json extension.
func SidecarPath(imagePath string) string {
	base := imagePath
	if strings.HasSuffix(base, ".nii.gz") {
		base = strings.TrimSuffix(base, ".nii.gz")
	} else {
		base = strings.TrimSuffix(base, ".nii")
	}
	return base + ".json"
}

// Resolve locates and parses the sidecar for an image file and validates
// its RepetitionTime. There is deliberately no default-TR fallback: an
// invented TR would silently mis-scale every TR-normalized metric, so a
// missing or malformed sidecar fails the dataset instead.
func Resolve(imagePath string) (*Metadata, error) {
	sidecar := SidecarPath(imagePath)

	data, err := os.ReadFile(sidecar)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, sidecar)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrMissing, sidecar, err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalid, sidecar, err)
	}

	if meta.RepetitionTime == nil {
		return nil, fmt.Errorf("%w: RepetitionTime not found in %s", ErrInvalid, sidecar)
	}
	if tr := *meta.RepetitionTime; tr <= 0 {
		return nil, fmt.Errorf("%w: RepetitionTime must be positive, got %g", ErrInvalid, tr)
	}

	log.WithFields(log.Fields{
		"sidecar": sidecar,
		"tr":      *meta.RepetitionTime,
	}).Debug("Resolved repetition time")

	return &meta, nil
}

// ErnstScaling maps a repetition time in seconds to the Ernst-angle scaling
// factor for typical T1 relaxation times. The bands are evaluated in
// ascending order and the final band is unbounded, so every positive TR
// matches exactly one factor.
func ErnstScaling(tr float64) float64 {
	switch {
	case tr <= 0.7:
		return 0.5745 // sin(35 deg), very short TR
	case tr <= 1.0:
		return 0.7071 // sin(45 deg), short TR
	case tr <= 1.5:
		return 0.8155 // sin(54.7 deg), medium TR
	default:
		return 1.0 // longer TR (T1 = 2132ms)
	}
}
