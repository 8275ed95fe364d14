// Package validator validates request DTOs with go-playground/validator and
// reports failures as ValidationErrors keyed by json field name.
//
//	type PaymentRequest struct {
//		PlanID     string `json:"plan_id" validate:"required,slug"`
//		CardNumber string `json:"card_number" validate:"required,card_number"`
//		CardExpiry string `json:"card_expiry" validate:"required,card_expiry"`
//	}
//
//	if err := validator.New().Validate(req); err != nil {
//		var ve validator.ValidationErrors
//		errors.As(err, &ve)
//	}
package validator
