package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/usage"
	"github.com/dmitrymomot/billingkit/pkg/validator"
	billingsvc "github.com/dmitrymomot/billingkit/svc/billing"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success   bool                `json:"success"`
	Error     string              `json:"error"`
	ErrorCode string              `json:"error_code,omitempty"`
	Details   map[string][]string `json:"details,omitempty"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorMappings is checked in order; the first match wins.
var errorMappings = []errorMapping{
	{ErrUnauthenticated, http.StatusUnauthorized, "unauthorized"},
	{subscription.ErrMissingUserID, http.StatusUnauthorized, "unauthorized"},
	{errBadJSON, http.StatusBadRequest, "bad_request"},

	{gateway.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
	{gateway.ErrMalformedPayload, http.StatusBadRequest, "malformed_payload"},
	{gateway.ErrUnknownGateway, http.StatusBadRequest, "unknown_gateway"},
	{gateway.ErrDirectPaymentUnsupported, http.StatusBadRequest, "unsupported"},
	{gateway.ErrRefundUnsupported, http.StatusBadRequest, "unsupported"},
	{gateway.ErrPriceNotConfigured, http.StatusBadRequest, "price_not_configured"},
	{gateway.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{gateway.ErrNoConfiguredGateway, http.StatusServiceUnavailable, "gateway_unavailable"},
	{gateway.ErrNotConfigured, http.StatusServiceUnavailable, "gateway_unavailable"},
	{gateway.ErrWebhookSecretMissing, http.StatusServiceUnavailable, "gateway_unavailable"},
	{gateway.ErrGatewayTimeout, http.StatusGatewayTimeout, "gateway_timeout"},

	{billingsvc.ErrInvalidParams, http.StatusBadRequest, "invalid_params"},
	{billingsvc.ErrPlanNotAvailable, http.StatusBadRequest, "plan_not_available"},
	{subscription.ErrPlanNotFound, http.StatusNotFound, "plan_not_found"},
	{subscription.ErrNoActiveSubscription, http.StatusNotFound, "no_active_subscription"},
	{subscription.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},
	{subscription.ErrMissingTransactionID, http.StatusBadRequest, "invalid_params"},
	{subscription.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{subscription.ErrRefundExceedsPayment, http.StatusBadRequest, "refund_exceeds_payment"},
	{subscription.ErrPaymentNotRefundable, http.StatusConflict, "payment_not_refundable"},
	{subscription.ErrResumeNotAllowed, http.StatusConflict, "resume_not_allowed"},
	{subscription.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{usage.ErrInvalidResource, http.StatusBadRequest, "invalid_resource"},
	{usage.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{usage.ErrMissingUserID, http.StatusUnauthorized, "unauthorized"},
	{usage.ErrUsageUnavailable, http.StatusServiceUnavailable, "usage_unavailable"},
	{errUserMismatch, http.StatusForbidden, "forbidden"},
}

var (
	errBadJSON      = errors.New("request body is not valid JSON")
	errUserMismatch = errors.New("user_id does not match the authenticated user")
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as an ErrorResponse. Unknown errors become a 500
// without their message.
func (m *Module) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := m.errorBody(err)
	if status >= http.StatusInternalServerError {
		m.log.ErrorContext(r.Context(), "billing request failed",
			"method", r.Method, "path", r.URL.Path, logger.Error(err))
	} else {
		m.log.DebugContext(r.Context(), "billing request rejected",
			"method", r.Method, "path", r.URL.Path, "status", status, logger.Error(err))
	}
	writeJSON(w, status, body)
}

func (m *Module) errorBody(err error) (int, ErrorResponse) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return http.StatusUnprocessableEntity, ErrorResponse{
			Error:     "validation failed",
			ErrorCode: "validation_error",
			Details:   ve.Fields(),
		}
	}
	if d, ok := gateway.AsDecline(err); ok {
		return http.StatusPaymentRequired, ErrorResponse{Error: d.Message, ErrorCode: d.Code}
	}
	for _, em := range errorMappings {
		if errors.Is(err, em.err) {
			return em.status, ErrorResponse{Error: em.err.Error(), ErrorCode: em.code}
		}
	}
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		return http.StatusBadGateway, ErrorResponse{
			Error:     fmt.Sprintf("payment provider %s is unavailable", gwErr.Gateway),
			ErrorCode: "gateway_error",
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, ErrorResponse{Error: "request timed out", ErrorCode: "timeout"}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal error", ErrorCode: "internal_error"}
}

// decode reads a JSON body into v and validates it.
func (m *Module) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, m.maxBody)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(errBadJSON, err)
	}
	return m.validate.Validate(v)
}
