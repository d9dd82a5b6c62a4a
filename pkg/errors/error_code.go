package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidPeriod        ErrorCode = 102
	ErrCodeInvalidThreshold     ErrorCode = 103
	ErrCodeInvalidAllocation    ErrorCode = 104
	ErrCodeMissingParameter     ErrorCode = 105
	ErrCodeInvalidType          ErrorCode = 106
	ErrCodeInvalidSymbol        ErrorCode = 107

	// Data errors (200-299)
	ErrCodeInsufficientData ErrorCode = 200
	ErrCodeDataNotFound     ErrorCode = 201
	ErrCodeQueryFailed      ErrorCode = 202

	// Risk errors (300-399)
	ErrCodeSignalRejected     ErrorCode = 300
	ErrCodeRiskLimitBreach    ErrorCode = 301
	ErrCodeHistoryUnavailable ErrorCode = 302

	// Strategy errors (400-499)
	ErrCodeStrategyNotRegistered ErrorCode = 400
	ErrCodeStrategyConfigError   ErrorCode = 401
	ErrCodeStrategyRuntimeError  ErrorCode = 402

	// Portfolio errors (500-599)
	ErrCodeStrategyNotFound     ErrorCode = 500
	ErrCodeStrategyAlreadyAdded ErrorCode = 501
	ErrCodeSubmitFailed         ErrorCode = 502
	ErrCodeStateLoadFailed      ErrorCode = 503

	// Backtest errors (600-699)
	ErrCodeBacktestConfigError ErrorCode = 600
	ErrCodeBacktestNoData      ErrorCode = 601
	ErrCodeBacktestCancelled   ErrorCode = 602

	// Market data errors (700-799)
	ErrCodeMarketDataFetchFailed ErrorCode = 700
	ErrCodeMarketDataParseFailed ErrorCode = 701
	ErrCodeMarketDataUnavailable ErrorCode = 702
)
