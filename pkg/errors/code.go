package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Identity errors
// 12000-12999: Task catalog errors
// 13000-13999: Submission & grading errors
// 14000-14999: Contest, participant & scoreboard errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008
	Conflict            ErrorCode = 10009

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Identity Errors (11000-11999) ==========
	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Task Catalog Errors (12000-12999) ==========

	// Task basic (12000-12099)
	TaskNotFound     ErrorCode = 12000
	TaskAccessDenied ErrorCode = 12001
	TaskCreateFailed ErrorCode = 12002
	TaskUpdateFailed ErrorCode = 12003
	TaskInvalid      ErrorCode = 12004

	// Test cases (12100-12199)
	TestCaseInvalid ErrorCode = 12102

	// ========== Submission & Grading Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	LanguageNotSupported   ErrorCode = 13003
	SubmitTooFrequently    ErrorCode = 13004
	WrongFileFormat        ErrorCode = 13005
	ArtifactNotFound       ErrorCode = 13006
	SubmissionAccessDenied ErrorCode = 13007

	// Grading (13100-13199)
	JudgeQueueFull          ErrorCode = 13100
	JudgeSystemError        ErrorCode = 13101
	InvalidStatusTransition ErrorCode = 13110
	RejudgeConflict         ErrorCode = 13111
	StaleGradingReport      ErrorCode = 13112
	UngradableTask          ErrorCode = 13113

	// ========== Contest Errors (14000-14999) ==========

	// Contest basic (14000-14099)
	ContestNotFound     ErrorCode = 14000
	ContestNotStarted   ErrorCode = 14001
	ContestEnded        ErrorCode = 14002
	ContestAccessDenied ErrorCode = 14003
	ContestCreateFailed ErrorCode = 14004
	ContestUpdateFailed ErrorCode = 14005
	TaskNotInContest    ErrorCode = 14006

	// Registration (14100-14199)
	RegistrationClosed      ErrorCode = 14100
	AlreadyRegistered       ErrorCode = 14101
	RegistrationFailed      ErrorCode = 14102
	NotRegistered           ErrorCode = 14103
	ParticipantNotFound     ErrorCode = 14105
	ParticipantDisqualified ErrorCode = 14106

	// Ranking (14200-14299)
	RankingNotAvailable ErrorCode = 14200
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",
	Conflict:            "Request conflicts with current state",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Identity
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Task
	TaskNotFound:     "Task not found",
	TaskAccessDenied: "Access to this task is denied",
	TaskCreateFailed: "Failed to create task",
	TaskUpdateFailed: "Failed to update task",
	TaskInvalid:      "Invalid task description",
	TestCaseInvalid:  "Invalid test case",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "File has too large size",
	LanguageNotSupported:   "Programming language not supported",
	SubmitTooFrequently:    "Submitting too frequently, please wait",
	WrongFileFormat:        "Wrong format of file",
	ArtifactNotFound:       "Code artifact not found",
	SubmissionAccessDenied: "Access to this submission is denied",

	// Grading
	JudgeQueueFull:          "Judge queue is full, please try again later",
	JudgeSystemError:        "Judge system error",
	InvalidStatusTransition: "Submission status transition is not allowed",
	RejudgeConflict:         "Submission cannot be rejudged in its current state",
	StaleGradingReport:      "Grading report belongs to an outdated attempt",
	UngradableTask:          "Task has no tests to evaluate",

	// Contest
	ContestNotFound:     "Contest not found",
	ContestNotStarted:   "Contest has not started yet",
	ContestEnded:        "Contest has ended",
	ContestAccessDenied: "Access to this contest is denied",
	ContestCreateFailed: "Failed to create contest",
	ContestUpdateFailed: "Failed to update contest",
	TaskNotInContest:    "Task does not belong to this contest",

	// Registration
	RegistrationClosed:      "Registration is closed",
	AlreadyRegistered:       "Already registered for this contest",
	RegistrationFailed:      "Registration failed",
	NotRegistered:           "Not registered for this contest",
	ParticipantNotFound:     "Participant not found",
	ParticipantDisqualified: "You are disqualified from this contest",

	// Ranking
	RankingNotAvailable: "Ranking is not available",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden, c == TaskAccessDenied, c == ContestAccessDenied,
		c == SubmissionAccessDenied, c == NotRegistered, c == ParticipantDisqualified:
		return 403
	case c == NotFound, c == RecordNotFound, c == TaskNotFound, c == SubmissionNotFound,
		c == ArtifactNotFound, c == ContestNotFound, c == ParticipantNotFound, c == TaskNotInContest:
		return 404
	case c == Conflict, c == RecordAlreadyExists, c == AlreadyRegistered,
		c == InvalidStatusTransition, c == RejudgeConflict, c == StaleGradingReport:
		return 409
	case c == CodeTooLarge:
		return 413
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable, c == JudgeQueueFull:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == TaskInvalid, c == TestCaseInvalid, c == WrongFileFormat,
		c == LanguageNotSupported, c == UngradableTask:
		return 400
	case c == ContestNotStarted, c == ContestEnded, c == RegistrationClosed:
		return 403
	default:
		return 500
	}
}
