package orchestrator

import "edgecast/internal/jobs"

// ManifestRequest is the body of POST /manifests.
type ManifestRequest struct {
	Path string `json:"path"`
}

// PushRequest is the body of POST /pushes.
type PushRequest struct {
	BoxID string `json:"box_id"`
	Path  string `json:"path"`
}

// JobAccepted is returned for every job the service queues.
type JobAccepted struct {
	ID   string    `json:"id"`
	Kind jobs.Kind `json:"kind"`
	Path string    `json:"path"`
}

func accepted(job jobs.Job) JobAccepted {
	return JobAccepted{ID: job.ID, Kind: job.Kind, Path: job.Path}
}
