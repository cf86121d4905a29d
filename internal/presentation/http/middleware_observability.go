package httppresentation

import (
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/minishop-io/inventory-engine/internal/observability"
	"github.com/minishop-io/inventory-engine/internal/observability/logctx"
)

// RequestIDFunc extracts a caller-provided request id, or returns "" to mint one.
type RequestIDFunc func(r *http.Request) string

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// ObservabilityMiddleware binds a request-scoped logger into the context and
// echoes the request id back to the caller. Trace ids are attached when an
// active span is present, so log lines correlate with traces.
func ObservabilityMiddleware(base observability.Logger, requestID RequestIDFunc, tel observability.Observability) func(http.Handler) http.Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	if base == nil {
		base = tel.Logger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if requestID != nil {
				id = requestID(r)
			}
			if id == "" {
				id = uuid.NewString()
			}

			fields := []observability.Field{observability.F("request_id", id)}
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				fields = append(fields,
					observability.F("trace_id", sc.TraceID().String()),
					observability.F("span_id", sc.SpanID().String()),
				)
			}

			ctx := logctx.With(r.Context(), base.With(fields...))
			w.Header().Set(headerRequestID, id)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
