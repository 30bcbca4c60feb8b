package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/iamrehman16/DataTricks-Team-Server/pkg/errors"
)

// remoteErrorResponse matches the {"error":{"code","message"}} envelope.
type remoteErrorResponse struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError reads a non-2xx response and converts it to an error.
// Envelope bodies keep their code and message; anything else is reported
// with the raw body. The body is consumed and closed.
func ParseResponseError(resp *http.Response, remote string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (read body: %w)", remote, resp.StatusCode, err)
	}

	var parsed remoteErrorResponse
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != nil {
		return mapRemoteError(resp.StatusCode, parsed.Error.Code, parsed.Error.Message, remote)
	}

	return fmt.Errorf("%s returned status %d: %s", remote, resp.StatusCode, string(body))
}

func mapRemoteError(status int, code, message, remote string) error {
	msg := fmt.Sprintf("%s: %s", remote, message)

	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(msg)
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(msg)
	case status == http.StatusConflict:
		return apperrors.Conflict(msg)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(msg)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(msg)
	case status == http.StatusTooManyRequests:
		return apperrors.TooManyRequests(msg)
	case status == http.StatusServiceUnavailable:
		return apperrors.New(http.StatusServiceUnavailable, code, msg, apperrors.ErrServiceUnavail)
	case status >= 500:
		return fmt.Errorf("%s server error (%d/%s): %s", remote, status, code, message)
	default:
		return &apperrors.AppError{Code: code, Message: msg, Status: status}
	}
}

// IsClientError reports whether status is a 4xx.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
