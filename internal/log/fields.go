package log

// Common field names for structured logging.
const (
	FieldComponent    = "component"
	FieldRequestID    = "request_id"
	FieldClientIP     = "client_ip"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldStatusCode   = "status_code"
	FieldDuration     = "duration_ms"
	FieldError        = "error"
	FieldOperation    = "operation"
	FieldMemberID     = "member_id"
	FieldMonth        = "month"
	FieldYear         = "year"
	FieldProfit       = "profit"
	FieldTotalBalance = "total_balance"
	FieldBenefit      = "benefit"
	FieldMembers      = "members"
	FieldMissingNames = "missing_names"
	FieldRows         = "rows"
	FieldRunType      = "run_type"
)

// Components defines standard component names.
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentAllocator = "allocator"
	ComponentGenerator = "generator"
	ComponentInterest  = "interest"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentTrace     = "trace"
)

// Operations defines standard operation names.
const (
	OpAllocate = "allocate"
	OpGenerate = "generate"
	OpDelete   = "delete"
	OpList     = "list"
	OpRecord   = "record"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
