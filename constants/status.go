package constants

import "fmt"

// JobStatus is the canonical status for rows in jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusQueued    JobStatus = "queued"    // created, not yet picked up
	JobStatusRunning   JobStatus = "running"   // claimed by a worker
	JobStatusSucceeded JobStatus = "succeeded" // terminal success
	JobStatusFailed    JobStatus = "failed"    // terminal failure
	JobStatusCancelled JobStatus = "cancelled" // terminal, reachable only from queued
)

// ParseJobStatus rejects unknown values at the storage boundary.
func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusRunning, JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return JobStatus(s), nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobKind distinguishes the two billable units of work.
type JobKind string

const (
	JobKindExtraction  JobKind = "extraction"   // extract fields from a registered document
	JobKindTemplateGen JobKind = "template_gen" // infer a template from a source PDF
)

func ParseJobKind(s string) (JobKind, error) {
	switch JobKind(s) {
	case JobKindExtraction, JobKindTemplateGen:
		return JobKind(s), nil
	}
	return "", fmt.Errorf("unknown job kind %q", s)
}
