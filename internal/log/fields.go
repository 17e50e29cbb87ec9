package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldReference     = "reference"
	FieldExternalID    = "external_id"
	FieldUserID        = "user_id"
	FieldGoalID        = "goal_id"
	FieldAmount        = "amount"
	FieldStatus        = "status"
	FieldStoreStatus   = "store_status"
	FieldGatewayStatus = "gateway_status"
	FieldOutcome       = "outcome"
	FieldAttempt       = "attempt"
	FieldMessageType   = "message_type"
)

const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentTopUps     = "topups"
	ComponentLedger     = "ledger"
	ComponentReconciler = "reconciler"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentGateway    = "momo"
	ComponentNotify     = "notify"
	ComponentSheets     = "sheets"
	ComponentBackend    = "backend"
)

const (
	OpCreate     = "create"
	OpTransition = "transition"
	OpAppend     = "append"
	OpReconcile  = "reconcile"
	OpNotify     = "notify"
	OpMirror     = "mirror"
	OpStartup    = "startup"
	OpShutdown   = "shutdown"
)

// Fields is a small builder for key/value pairs passed to slog.
type Fields map[string]any

func NewFields() Fields {
	return make(Fields)
}

func (f Fields) WithError(err error) Fields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f Fields) WithOperation(op string) Fields {
	f[FieldOperation] = op
	return f
}

func (f Fields) WithTopUp(reference, status string) Fields {
	f[FieldReference] = reference
	f[FieldStatus] = status
	return f
}

func (f Fields) WithHTTP(method, path string, status int, durationMs int64) Fields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldStatusCode] = status
	f[FieldDuration] = durationMs
	return f
}

// ToSlice flattens the fields into slog's alternating key/value form.
func (f Fields) ToSlice() []any {
	out := make([]any, 0, len(f)*2)
	for k, v := range f {
		out = append(out, k, v)
	}
	return out
}
