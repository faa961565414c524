package api

import (
	"errors"
	"net/http"

	"datamakelaar/pkg/dataset"
	"datamakelaar/pkg/service"
	"datamakelaar/pkg/spreadsheet"
	"datamakelaar/pkg/vip"
)

// Error codes returned in APIError.Code.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeInvalidFile        = "invalid_file"
	CodeDatasetNotFound    = "dataset_not_found"
	CodeUploadNotFound     = "upload_not_found"
	CodeUnknownEnvironment = "unknown_environment"
	CodeNoObjects          = "no_objects"
	CodeValidationFailed   = "validation_failed"
	CodeAlreadySubmitted   = "already_submitted"
	CodeSubmitFailed       = "submit_failed"
	CodeUpstream           = "upstream_error"
	CodeInternal           = "internal_error"
)

type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

var errorStatus = []struct {
	target error
	status int
	code   string
}{
	{dataset.ErrNotFound, http.StatusNotFound, CodeDatasetNotFound},
	{service.ErrUploadNotFound, http.StatusNotFound, CodeUploadNotFound},
	{service.ErrUnknownEnvironment, http.StatusBadRequest, CodeUnknownEnvironment},
	{service.ErrBlocked, http.StatusConflict, CodeValidationFailed},
	{service.ErrAlreadySubmitted, http.StatusConflict, CodeAlreadySubmitted},
	{spreadsheet.ErrNoObjects, http.StatusUnprocessableEntity, CodeNoObjects},
	{spreadsheet.ErrInvalidWorkbook, http.StatusBadRequest, CodeInvalidFile},
	{spreadsheet.ErrNoHeader, http.StatusBadRequest, CodeInvalidFile},
}

// errorFor maps an error from the service layer onto a status and body.
func errorFor(err error) (int, *APIError) {
	for _, e := range errorStatus {
		if errors.Is(err, e.target) {
			return e.status, &APIError{Code: e.code, Message: err.Error()}
		}
	}
	var upstream *vip.APIError
	if errors.As(err, &upstream) {
		return http.StatusBadGateway, &APIError{
			Code:    CodeUpstream,
			Message: "VIP API request failed",
			Details: map[string]interface{}{"status": upstream.StatusCode, "body": upstream.Body},
		}
	}
	return http.StatusInternalServerError, &APIError{Code: CodeInternal, Message: err.Error()}
}
