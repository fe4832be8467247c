package sqlqueue

import "errors"

var (
	// ErrProviderRequired is returned when a nil ConnProvider is provided.
	ErrProviderRequired = errors.New("sqlqueue: connection provider is required")
	// ErrDialectRequired is returned when a nil Dialect is provided.
	ErrDialectRequired = errors.New("sqlqueue: dialect is required")
	// ErrConnRequired is returned when Send or Receive is called with a nil Conn.
	ErrConnRequired = errors.New("sqlqueue: connection is required")
	// ErrSendOnly is returned when receiving or sweeping on a transport without an input address.
	ErrSendOnly = errors.New("sqlqueue: transport has no input address")
	// ErrRecipientRequired is returned when the destination address is empty.
	ErrRecipientRequired = errors.New("sqlqueue: recipient is required")
	// ErrRecipientTooLong is returned when the destination address exceeds MaxRecipientLength.
	ErrRecipientTooLong = errors.New("sqlqueue: recipient is too long")
	// ErrInvalidPriority is returned when the priority header is not an integer.
	ErrInvalidPriority = errors.New("sqlqueue: invalid priority header")
	// ErrInvalidDeferUntil is returned when the defer-until header is not an RFC 3339 timestamp.
	ErrInvalidDeferUntil = errors.New("sqlqueue: invalid defer-until header")
	// ErrInvalidTimeToLive is returned when the time-to-live header is not a non-negative duration.
	ErrInvalidTimeToLive = errors.New("sqlqueue: invalid time-to-live header")
	// ErrDeferredRecipientMissing is returned when sending to DeferredDeliveryAddress without HeaderDeferredRecipient.
	ErrDeferredRecipientMissing = errors.New("sqlqueue: deferred recipient header is required")
	// ErrReceiveCanceled marks a receive that stopped because its context was done.
	ErrReceiveCanceled = errors.New("sqlqueue: receive canceled")
	// ErrTableMissing is returned when the message table does not exist.
	ErrTableMissing = errors.New("sqlqueue: message table does not exist")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("sqlqueue: table name is required")
	// ErrInvalidTableName is returned when the table name has disallowed characters.
	ErrInvalidTableName = errors.New("sqlqueue: invalid table name")
	// ErrInvalidBatchSize indicates that the sweep batch size is not positive.
	ErrInvalidBatchSize = errors.New("sqlqueue: batch size must be positive")
	// ErrWorkerPanic indicates a receiver worker panic.
	ErrWorkerPanic = errors.New("sqlqueue: worker panic")
)
