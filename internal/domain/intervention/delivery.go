package intervention

import (
	"context"
	"time"
)

// DeliveryStatus tracks a single attempt.
type DeliveryStatus string

const (
	StatusPending  DeliveryStatus = "pending"
	StatusSuccess  DeliveryStatus = "success"
	StatusFailed   DeliveryStatus = "failed"
	StatusRetrying DeliveryStatus = "retrying"
)

// ErrorClass buckets delivery failures by how they should be handled.
type ErrorClass string

const (
	ErrorNone        ErrorClass = ""
	ErrorTransient   ErrorClass = "transient"
	ErrorPermanent   ErrorClass = "permanent"
	ErrorRateLimited ErrorClass = "rate-limited"
)

// Retryable reports whether a failure of this class may be retried.
func (c ErrorClass) Retryable() bool {
	return c == ErrorTransient || c == ErrorRateLimited
}

// DeliveryAttempt is one try at sending a directive over a channel.
type DeliveryAttempt struct {
	DirectiveID   string         `json:"directiveId"`
	DeliveryID    string         `json:"deliveryId"`
	TenantID      string         `json:"tenantId"`
	EndpointID    string         `json:"endpointId,omitempty"`
	Channel       Channel        `json:"channel"`
	AttemptNumber int            `json:"attemptNumber"`
	Status        DeliveryStatus `json:"status"`
	StatusCode    int            `json:"statusCode,omitempty"`
	ErrorClass    ErrorClass     `json:"errorClass,omitempty"`
	Error         string         `json:"error,omitempty"`
	Latency       time.Duration  `json:"latency"`
	RespondedAt   time.Time      `json:"respondedAt"`
}

// DeliveryRepository persists attempts for audit.
type DeliveryRepository interface {
	StoreAttempt(ctx context.Context, attempt DeliveryAttempt) error
	FindAttempts(ctx context.Context, directiveID string) ([]DeliveryAttempt, error)
}
