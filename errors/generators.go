package errors

// NewResourceNotFoundError returns a new ErrNotFound error with kind
// KindResourceNotFound and the given message.
func NewResourceNotFoundError(message string, details Details) error {
	return Error{
		Code:    ErrNotFound,
		Kind:    KindResourceNotFound,
		Message: message,
		Details: details,
	}
}

// NewForbiddenError returns a new ErrForbidden error with the given kind. Used
// for failed preconditions on the current user state.
func NewForbiddenError(kind Kind, message string, details Details) error {
	return Error{
		Code:    ErrForbidden,
		Kind:    kind,
		Message: message,
		Details: details,
	}
}

// NewConflictError returns a new ErrConflict error with the given kind. Used
// for operations that were already performed.
func NewConflictError(kind Kind, message string, details Details) error {
	return Error{
		Code:    ErrConflict,
		Kind:    kind,
		Message: message,
		Details: details,
	}
}

// NewValidationError returns a new ErrValidation error with the given kind.
func NewValidationError(kind Kind, message string, details Details) error {
	return Error{
		Code:    ErrValidation,
		Kind:    kind,
		Message: message,
		Details: details,
	}
}

// NewValidationErrorFromErr returns a new ErrValidation error with the given
// kind and original error.
func NewValidationErrorFromErr(kind Kind, err error, message string) error {
	return Error{
		Code:    ErrValidation,
		Kind:    kind,
		Err:     err,
		Message: message,
	}
}

// NewInternalError creates a new ErrInternal error with the given message.
func NewInternalError(message string, details Details) error {
	return Error{
		Code:    ErrInternal,
		Message: message,
		Details: details,
	}
}

// NewInternalErrorFromErr creates a new ErrInternal error from the given
// original error.
func NewInternalErrorFromErr(err error, message string, details Details) error {
	return Error{
		Code:    ErrInternal,
		Err:     err,
		Message: message,
		Details: details,
	}
}

// NewQueryToSQLError creates a new ErrInternal error with kind KindDB for
// failed SQL generation.
func NewQueryToSQLError(err error, details Details) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDB,
		Err:     err,
		Message: "query to sql",
		Details: details,
	}
}

// NewExecQueryError creates a new ErrInternal error with kind KindDB for a
// failed query execution. The query is added to the error details.
func NewExecQueryError(err error, message string, query string) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDB,
		Err:     err,
		Message: message,
		Details: Details{"query": query},
	}
}

// NewScanDBRowError creates a new ErrInternal error with kind KindDB for a
// failed row scan. The query is added to the error details.
func NewScanDBRowError(err error, message string, query string) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDB,
		Err:     err,
		Message: message,
		Details: Details{"query": query},
	}
}

// NewDBTxBeginError creates a new ErrInternal error with kind KindDB for a
// failed transaction begin.
func NewDBTxBeginError(err error) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDB,
		Err:     err,
		Message: "begin tx",
	}
}

// NewDBTxCommitError creates a new ErrInternal error with kind KindDB for a
// failed transaction commit.
func NewDBTxCommitError(err error) error {
	return Error{
		Code:    ErrInternal,
		Kind:    KindDB,
		Err:     err,
		Message: "commit tx",
	}
}
