package schema

// Document fields owned by the workflow worker.
const (
	FieldAction                = "CAF_WORKFLOW_ACTION"
	FieldActionsCompleted      = "CAF_WORKFLOW_ACTIONS_COMPLETED"
	FieldSettings              = "CAF_WORKFLOW_SETTINGS"
	FieldWorkflowName          = "CAF_WORKFLOW_NAME"
	FieldExtraFailureSubfields = "CAF_WORKFLOW_EXTRA_FAILURE_SUBFIELDS"
	FieldFailureHistory        = "CAF_WORKFLOW_FAILURE_HISTORY"
	FieldFailures              = "FAILURES"
	FieldWarnings              = "WARNINGS"
)

// Task custom-data keys read by the worker.
const (
	CustomDataWorkflowName       = "workflowName"
	CustomDataProjectID          = "projectId"
	CustomDataCorrelationID      = "correlationId"
	CustomDataSettingsLastUpdate = "settingsLastUpdateTime" // epoch milliseconds
	CustomDataExtraFailureKey    = "extraFailuresSubfieldKey"
	CustomDataExtraFailureValue  = "extraFailuresSubfieldValue"
)

// Response custom-data keys written by the worker.
const (
	ResponseSettings         = FieldSettings
	ResponseStorageReference = "CAF_WORKFLOW_STORAGE_REFERENCE"
)

// Recoverable per-document failure ids. Documents carrying one of these are
// routed to the failure queue instead of failing the whole delivery.
const (
	FailureNoWorkflow               = "NO_WORKFLOW"
	FailureWorkflowNotFound         = "WORKFLOW_NOT_FOUND"
	FailureMultipleWorkflowNames    = "MULTIPLE_WORKFLOW_NAMES"
	FailureInvalidSettingsUpdate    = "INVALID_SETTINGS_UPDATE_TIME"
	FailureUnexpectedSetting        = "UNEXPECTED_WORKFLOW_SETTING"
	FailureWorkflowEvaluationFailed = "WORKFLOW_EVALUATION_FAILED"
)
