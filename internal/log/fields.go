package log

// Common field names for structured logging
const (
	FieldComponent = "component"
	FieldTaskID    = "task_id"
	FieldClientID  = "client_id"
	FieldStatus    = "status"
	FieldAttempt   = "attempt"
	FieldRows      = "rows"
	FieldMode      = "mode"
	FieldQueue     = "queue"
	FieldWorkers   = "workers"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldErrorCode = "error_code"
	FieldOperation = "operation"
	FieldPurged    = "purged"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentWorker  = "worker"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentService = "service"
	ComponentCache   = "cache"
)

// Operations defines standard operation names
const (
	OpSubmit   = "submit"
	OpClaim    = "claim"
	OpBuild    = "build"
	OpComplete = "complete"
	OpPurge    = "purge"
	OpConsume  = "consume"
	OpPublish  = "publish"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)
