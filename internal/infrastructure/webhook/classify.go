package webhook

import (
	"net/http"

	"github.com/AtRiskMedia/intervene/internal/domain/intervention"
)

// Classify maps an HTTP outcome onto the delivery error taxonomy. Transport
// errors and timeouts are transient, 429 is rate-limited (retried like a
// transient failure), other 4xx are permanent.
func Classify(statusCode int, err error) intervention.ErrorClass {
	switch {
	case err != nil:
		return intervention.ErrorTransient
	case statusCode >= 200 && statusCode < 300:
		return intervention.ErrorNone
	case statusCode == http.StatusTooManyRequests:
		return intervention.ErrorRateLimited
	case statusCode >= 500:
		return intervention.ErrorTransient
	case statusCode >= 400:
		return intervention.ErrorPermanent
	}
	// 1xx/3xx without redirect handling: the receiver did not accept it.
	return intervention.ErrorPermanent
}
