package middleware

import (
	"context"
	"time"

	"proxygen/message"
	"proxygen/metrics"
	"proxygen/scperr"
)

// MetricsMiddleware records every request served, labelled by procedure and outcome.
func MetricsMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)
			metrics.RecordServerRequest(req.Procedure, Outcome(resp), time.Since(start))
			return resp
		}
	}
}

// Outcome names the result of a reply for metrics labels.
func Outcome(resp *message.RPCMessage) string {
	switch {
	case resp.Error != "":
		return metrics.OutcomeTransport
	case !resp.OSCA.Failed():
		return metrics.OutcomeOK
	}
	switch scperr.Severity(resp.OSCA.ErrorType) {
	case scperr.SeverityUser:
		return metrics.OutcomeUser
	case scperr.SeverityInformational:
		return metrics.OutcomeInformational
	default:
		return metrics.OutcomeFatal
	}
}
