package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/greenhouse-io/greenhouse/internal/models"
	"github.com/greenhouse-io/greenhouse/internal/registry"
)

type ApiResponseError struct {
	Status int
	Body   any
}

func (e ApiResponseError) Error() string {
	data, err := json.Marshal(e.Body)
	if err != nil {
		return "ApiResponseError"
	}
	return string(data)
}

func NewApiResponseError(status int, body any) *ApiResponseError {
	return &ApiResponseError{
		Status: status,
		Body:   body,
	}
}

// toApiResponseError maps service errors onto responses. param names the path
// parameter or field that carried the identifier, resource names what was looked up.
func toApiResponseError(err error, param string, resource string) *ApiResponseError {
	var apiErr *ApiResponseError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, registry.ErrMalformedIdentifier):
		return NewApiResponseError(http.StatusBadRequest, models.NewBadPathParameterError(param))
	case errors.Is(err, registry.ErrInvalidName):
		return NewApiResponseError(http.StatusBadRequest, models.NewFieldNotPresentError("name"))
	case errors.Is(err, registry.ErrInvalidSlot):
		return NewApiResponseError(http.StatusBadRequest, models.NewFieldValidationError("slot", err.Error()))
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, registry.ErrUnknownDevice):
		return NewApiResponseError(http.StatusNotFound, models.NewNotFoundError(resource))
	case errors.Is(err, registry.ErrUnauthorized):
		return NewApiResponseError(http.StatusUnauthorized, models.NewUnauthorizedError())
	case errors.Is(err, registry.ErrDuplicateName):
		return NewApiResponseError(http.StatusConflict, models.NewFieldConflictError("name"))
	case errors.Is(err, registry.ErrSlotTaken):
		return NewApiResponseError(http.StatusConflict, models.NewFieldConflictError("slot"))
	case errors.Is(err, registry.ErrCapacityExceeded):
		return NewApiResponseError(http.StatusInsufficientStorage, models.NewCapacityError(resource))
	case errors.Is(err, context.DeadlineExceeded):
		return NewApiResponseError(http.StatusServiceUnavailable, models.BaseError{Error: "request timed out"})
	}
	return nil
}
