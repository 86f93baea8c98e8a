package services

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse is the JSON error body shared by all API handlers.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// ValidationHelper wraps a shared validator instance for request structs.
type ValidationHelper struct {
	validator *validator.Validate
}

func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{validator: validator.New()}
}

func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendJSON writes a JSON response with the given status.
func SendJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// SendErrorResponse writes a JSON error body. When validationErr is a
// validator.ValidationErrors, per-field details are included.
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	errorResp := ErrorResponse{Error: message}
	if fieldErrs, ok := validationErr.(validator.ValidationErrors); ok {
		errorResp.Details = make(map[string]string, len(fieldErrs))
		for _, fieldErr := range fieldErrs {
			errorResp.Details[fieldErr.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", fieldErr.Tag())
		}
	}
	SendJSON(w, statusCode, errorResp)
}
