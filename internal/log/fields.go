package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldMonthKey   = "month_key"
	FieldDay        = "day"
	FieldQuinzena   = "quinzena"
	FieldAmount     = "amount"
	FieldKind       = "record_kind"
	FieldSkipped    = "skipped_days"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentHTTP    = "http"
	ComponentTracker = "tracker"
	ComponentStorage = "storage"
	ComponentCache   = "cache"
	ComponentRates   = "rates"
	ComponentBackend = "backend"
)

// Operations defines standard operation names
const (
	OpRead      = "read"
	OpSave      = "save"
	OpDelete    = "delete"
	OpSummary   = "summary"
	OpExpense   = "expense"
	OpExport    = "export"
	OpImport    = "import"
	OpNormalize = "normalize"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithDay adds the month bucket and day of a record.
func (f LogFields) WithDay(monthKey string, day int) LogFields {
	f[FieldMonthKey] = monthKey
	f[FieldDay] = day
	return f
}

// WithPeriod adds the month bucket and quinzena.
func (f LogFields) WithPeriod(monthKey string, quinzena int) LogFields {
	f[FieldMonthKey] = monthKey
	f[FieldQuinzena] = quinzena
	return f
}

func (f LogFields) WithHTTP(method, path string, statusCode int, durationMs int64) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
