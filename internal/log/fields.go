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
	FieldAction        = "action"
	FieldTeamID        = "team_id"
	FieldMemberID      = "member_id"
	FieldFromMemberID  = "from_member_id"
	FieldToMemberID    = "to_member_id"
	FieldManagerID     = "manager_id"
	FieldAmount        = "amount"
	FieldTransactionID = "transaction_id"
	FieldEventID       = "event_id"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentMonthly   = "monthly"
	ComponentExport    = "export"
	ComponentCache     = "cache"
	ComponentRateLimit = "rate_limit"
)

// Operations defines standard operation names
const (
	OpAddCredits     = "add_credits"
	OpRemoveCredits  = "remove_credits"
	OpTransfer       = "transfer_credits"
	OpMonthlySetup   = "monthly_setup"
	OpMonthlyCancel  = "monthly_cancel"
	OpMonthlyGrant   = "monthly_grant"
	OpUpsertMember   = "upsert_member"
	OpRemoveMember   = "remove_member"
	OpRosterLookup   = "roster_lookup"
	OpBalanceLookup  = "balance_lookup"
	OpExport         = "export"
	OpStartup        = "startup"
	OpShutdown       = "shutdown"
)
