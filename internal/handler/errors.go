package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"settlement-gateway/internal/gateway"
	"settlement-gateway/internal/service"
)

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	var (
		verr    *service.ValidationError
		authErr *service.AuthenticityError
		commit  *service.CommitFailure
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrIntentNotFound), errors.Is(err, service.ErrGatewayNotConfigured):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRequestInProgress):
		return http.StatusConflict
	case errors.As(err, &commit):
		return http.StatusInternalServerError
	}

	switch gateway.KindOf(err) {
	case gateway.KindUnavailable:
		return http.StatusServiceUnavailable
	case gateway.KindRejected, gateway.KindMalformed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// gatewayMessages replaces provider error text, which may carry the raw
// provider response, with a fixed message per kind.
var gatewayMessages = map[gateway.ErrorKind]string{
	gateway.KindUnavailable: "payment gateway unavailable",
	gateway.KindRejected:    "payment gateway rejected the request",
	gateway.KindMalformed:   "payment gateway returned an invalid response",
}

// writeError renders err. Server-side and gateway failures are logged and
// their detail withheld from the caller.
func writeError(c *gin.Context, log *zap.Logger, msg string, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}

	var verr *service.ValidationError
	if errors.As(err, &verr) && verr.Field != "" {
		body["field"] = verr.Field
	}

	kind := gateway.KindOf(err)
	switch {
	case kind != "" && status >= http.StatusInternalServerError:
		fields := []zap.Field{zap.Error(err), zap.String("gateway_error", string(kind)), zap.String("request_id", c.GetString("request_id"))}
		if kind == gateway.KindUnavailable {
			log.Warn(msg, fields...)
		} else {
			log.Error(msg, fields...)
		}
		body["error"] = gatewayMessages[kind]
	case status == http.StatusInternalServerError:
		log.Error(msg, zap.Error(err), zap.String("request_id", c.GetString("request_id")))
		body["error"] = "internal error"
	}
	_ = c.Error(err)
	c.JSON(status, body)
}
