package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique fetch job ID with the "job_" prefix.
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewDetectionID generates a unique detection audit record ID.
// Format: det_<uuid>
func NewDetectionID() string {
	return "det_" + uuid.New().String()
}

// NewTargetID generates a unique monitored target ID.
// Format: tgt_<uuid>
func NewTargetID() string {
	return "tgt_" + uuid.New().String()
}
