package dashboard

import (
	"errors"
	"net/http"

	"skillendorse/gateway"
	"skillendorse/idempotency"

	"github.com/go-playground/validator/v10"
	"github.com/kataras/iris/v12"
)

// jsonError writes {"error": code, "message": message}.
func jsonError(ctx iris.Context, status int, code, message string) {
	ctx.StopWithJSON(status, iris.Map{"error": code, "message": message})
}

// classify maps an operation error onto a status and error code.
func classify(err error) (int, string) {
	var (
		verr *gateway.ValidationError
		uerr *gateway.UploadError
		lerr *gateway.LedgerError
		ferr validator.ValidationErrors
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &ferr):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, gateway.ErrNotAuthorized):
		return http.StatusForbidden, "not_authorized"
	case errors.Is(err, gateway.ErrNoSession):
		return http.StatusServiceUnavailable, "no_session"
	case errors.As(err, &uerr):
		return http.StatusBadGateway, "upload_failed"
	case errors.As(err, &lerr):
		return http.StatusUnprocessableEntity, "ledger_rejected"
	case errors.Is(err, gateway.ErrColumnMismatch):
		return http.StatusBadGateway, "malformed_ledger_reply"
	case errors.Is(err, idempotency.ErrInFlight):
		return http.StatusConflict, "request_in_progress"
	case errors.Is(err, idempotency.ErrKeyReused):
		return http.StatusUnprocessableEntity, "idempotency_key_reused"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError logs err once and writes its mapped response.
func writeError(ctx iris.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("[%s] %s %s: %v", reqID(ctx), ctx.Method(), ctx.Path(), err)
	} else {
		logger.Warningf("[%s] %s %s: %v", reqID(ctx), ctx.Method(), ctx.Path(), err)
	}

	var verr *gateway.ValidationError
	if errors.As(err, &verr) && verr.Field != "" {
		ctx.StopWithJSON(status, iris.Map{"error": code, "message": verr.Message, "field": verr.Field})
		return
	}
	jsonError(ctx, status, code, err.Error())
}

// readFailure answers a failed ledger read with an empty record list so
// views render nothing rather than stale or partial data.
func readFailure(ctx iris.Context, err error) {
	logger.Warningf("[%s] %s %s: read failed: %v", reqID(ctx), ctx.Method(), ctx.Path(), err)
	ctx.StopWithJSON(http.StatusBadGateway, iris.Map{
		"error":   "ledger_unavailable",
		"message": err.Error(),
		"records": []gateway.EndorsementRecord{},
	})
}
