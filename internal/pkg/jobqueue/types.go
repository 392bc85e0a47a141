package jobqueue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/prgrms-web-devcourse-final-project/WEB4-5-NOBREAKTIME-BE-sub002/app/models"
)

// JobType defines the type of job
type JobType string

const (
	JobTypePaymentSucceeded JobType = "payment_succeeded"
	JobTypePaymentFailed    JobType = "payment_failed"
)

// JobTypeForEvent maps an outbox event type to the job that consumes it.
func JobTypeForEvent(eventType string) (JobType, bool) {
	switch eventType {
	case models.PaymentEventSucceeded:
		return JobTypePaymentSucceeded, true
	case models.PaymentEventFailed:
		return JobTypePaymentFailed, true
	}
	return "", false
}

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	UniqueKey   string                 `json:"unique_key,omitempty"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// PaymentEventJobPayload carries a committed outbox row to a worker.
type PaymentEventJobPayload struct {
	EventID   uint                   `json:"event_id"`
	PaymentID uint                   `json:"payment_id"`
	EventType string                 `json:"event_type"`
	DedupeKey string                 `json:"dedupe_key"`
	Data      map[string]interface{} `json:"data"`
}

func PaymentEventJobPayloadFromEvent(e models.PaymentEvent) PaymentEventJobPayload {
	return PaymentEventJobPayload{
		EventID:   e.ID,
		PaymentID: e.PaymentID,
		EventType: e.EventType,
		DedupeKey: e.DedupeKey,
		Data:      map[string]interface{}(e.Payload),
	}
}

// ToMap converts the payload to map[string]interface{}
func (p PaymentEventJobPayload) ToMap() map[string]interface{} {
	data, _ := json.Marshal(p)
	var result map[string]interface{}
	_ = json.Unmarshal(data, &result)
	return result
}

// PaymentEventJobPayloadFromMap creates the payload from map[string]interface{}
func PaymentEventJobPayloadFromMap(data map[string]interface{}) (*PaymentEventJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var payload PaymentEventJobPayload
	if err := json.Unmarshal(jsonData, &payload); err != nil {
		return nil, err
	}
	if payload.DedupeKey == "" {
		return nil, fmt.Errorf("payment event payload without dedupe key")
	}
	return &payload, nil
}

// Event rebuilds the outbox row the payload was taken from.
func (p PaymentEventJobPayload) Event() models.PaymentEvent {
	return models.PaymentEvent{
		ID:        p.EventID,
		PaymentID: p.PaymentID,
		EventType: p.EventType,
		DedupeKey: p.DedupeKey,
		Payload:   p.Data,
	}
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
