package handlers

import (
	"errors"

	"boxoffice/internal/status"

	"github.com/pocketbase/pocketbase/apis"
)

// apiError translates a coded service error into the API error shape,
// never leaking raw internals.
func apiError(err error) error {
	var se *status.Error
	if errors.As(err, &se) {
		return apis.NewApiError(status.HTTPStatus(se.Code), se.Message, map[string]any{
			"code": string(se.Code),
		})
	}
	return apis.NewApiError(500, "Something went wrong", nil)
}
