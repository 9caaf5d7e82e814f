package usage

import "github.com/artpar/justpaid/core/schema"

// JobStatus is the state of an asynchronous ingestion job. The set is open:
// the platform may report intermediate states not listed here.
type JobStatus string

const (
	JobSubmitted JobStatus = "SUBMITTED"
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobSuccess   JobStatus = "SUCCESS"
	JobFailed    JobStatus = "FAILED"
)

// IsTerminal reports whether the job has finished. Only SUCCESS and FAILED
// are terminal.
func (s JobStatus) IsTerminal() bool {
	return s == JobSuccess || s == JobFailed
}

// AsyncResponse acknowledges an asynchronous ingestion. It does not imply
// that any event has been validated yet.
type AsyncResponse struct {
	JobID       string    `json:"job_id"`
	Status      JobStatus `json:"status"`
	CreatedAt   string    `json:"created_at"`
	TotalEvents int       `json:"total_events"`
}

// JobStatusResponse reports the progress of an asynchronous ingestion job.
//
// Info and Errors follow the synchronous response shape once the job is
// terminal. A FAILED job may still have created some events; Info then counts
// only those processed before the failure.
type JobStatusResponse struct {
	JobID       string      `json:"job_id"`
	Status      JobStatus   `json:"status"`
	CreatedAt   string      `json:"created_at"`
	UpdatedAt   string      `json:"updated_at"`
	Info        *EventInfo  `json:"info,omitempty"`
	Errors      []ErrorInfo `json:"errors,omitempty"`
	TotalEvents int         `json:"total_events"`
}

// ErrorFor returns the rejection reported for key, if any.
func (r JobStatusResponse) ErrorFor(key string) (ErrorInfo, bool) {
	return findError(r.Errors, key)
}

// ParseAsyncResponse decodes the acknowledgement of an async ingestion.
func ParseAsyncResponse(data []byte) (AsyncResponse, error) {
	obj, errs := schema.Decode("UsageEventAsyncResponse", data)
	resp := AsyncResponse{
		JobID:       obj.String("job_id"),
		Status:      JobStatus(obj.String("status")),
		CreatedAt:   obj.String("created_at"),
		TotalEvents: obj.Int("total_events"),
	}
	if err := errs.Err(); err != nil {
		return AsyncResponse{}, err
	}
	return resp, nil
}

// ParseJobStatusResponse decodes a job status report.
func ParseJobStatusResponse(data []byte) (JobStatusResponse, error) {
	obj, errs := schema.Decode("UsageDataBatchJobStatusResponse", data)
	resp := JobStatusResponse{
		JobID:       obj.String("job_id"),
		Status:      JobStatus(obj.String("status")),
		CreatedAt:   obj.String("created_at"),
		UpdatedAt:   obj.String("updated_at"),
		Errors:      errorInfosFrom(obj.OptArray("errors")),
		TotalEvents: obj.Int("total_events"),
	}
	if info := obj.OptObject("info"); info != nil {
		ei := eventInfoFrom(info)
		resp.Info = &ei
	}
	if err := errs.Err(); err != nil {
		return JobStatusResponse{}, err
	}
	return resp, nil
}
