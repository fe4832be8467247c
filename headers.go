package sqlqueue

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reserved header keys interpreted by Send.
const (
	// HeaderPriority holds the message priority as a 32-bit integer. Lower values are received first.
	HeaderPriority = "sqlqueue-priority"
	// HeaderDeferUntil holds an RFC 3339 timestamp before which the message is invisible.
	// It is removed from the persisted headers.
	HeaderDeferUntil = "sqlqueue-defer-until"
	// HeaderTimeToLive holds a Go duration string after which an unreceived message expires.
	HeaderTimeToLive = "sqlqueue-time-to-live"
	// HeaderDeferredRecipient names the real destination when sending to DeferredDeliveryAddress.
	HeaderDeferredRecipient = "sqlqueue-deferred-recipient"
)

// DeferredDeliveryAddress is the reserved destination used by an external deferred-delivery
// mechanism. Sends to it are redirected to the address in HeaderDeferredRecipient.
const DeferredDeliveryAddress = "##sqlqueue-deferred-delivery##"

// MaxRecipientLength is the maximum recipient length in characters.
const MaxRecipientLength = 200

// MaxExpiry is the expiration stored for messages without a time-to-live.
var MaxExpiry = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// SetPriority stores priority in headers.
func SetPriority(headers map[string]string, priority int32) {
	headers[HeaderPriority] = strconv.FormatInt(int64(priority), 10)
}

// SetDeferUntil stores the visibility time in headers.
func SetDeferUntil(headers map[string]string, at time.Time) {
	headers[HeaderDeferUntil] = at.UTC().Format(time.RFC3339Nano)
}

// SetTimeToLive stores the time-to-live in headers.
func SetTimeToLive(headers map[string]string, ttl time.Duration) {
	headers[HeaderTimeToLive] = ttl.String()
}

// IsDeferredDeliveryAddress reports whether address is the reserved deferred-delivery marker.
func IsDeferredDeliveryAddress(address string) bool {
	return strings.EqualFold(address, DeferredDeliveryAddress)
}

func resolveDestination(destination string, headers map[string]string) (string, error) {
	if !IsDeferredDeliveryAddress(destination) {
		return destination, nil
	}
	recipient, ok := headers[HeaderDeferredRecipient]
	if !ok || recipient == "" {
		return "", ErrDeferredRecipientMissing
	}

	return recipient, nil
}

func validateRecipient(recipient string) error {
	if recipient == "" {
		return ErrRecipientRequired
	}
	if n := len([]rune(recipient)); n > MaxRecipientLength {
		return fmt.Errorf("%w: %d characters, max %d", ErrRecipientTooLong, n, MaxRecipientLength)
	}

	return nil
}

func parsePriority(headers map[string]string) (int, error) {
	raw, ok := headers[HeaderPriority]
	if !ok {
		return 0, nil
	}
	priority, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %w", ErrInvalidPriority, raw, err)
	}

	return int(priority), nil
}

// visibleAt returns now when the header is absent or in the past.
func visibleAt(headers map[string]string, now time.Time) (time.Time, error) {
	raw, ok := headers[HeaderDeferUntil]
	if !ok {
		return now, nil
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %w", ErrInvalidDeferUntil, raw, err)
	}
	at = at.UTC()
	if at.Before(now) {
		return now, nil
	}

	return at, nil
}

func expiresAt(headers map[string]string, now time.Time) (time.Time, error) {
	raw, ok := headers[HeaderTimeToLive]
	if !ok {
		return MaxExpiry, nil
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q: %w", ErrInvalidTimeToLive, raw, err)
	}
	if ttl < 0 {
		return time.Time{}, fmt.Errorf("%w %q: negative duration", ErrInvalidTimeToLive, raw)
	}
	if ttl >= MaxExpiry.Sub(now) {
		return MaxExpiry, nil
	}

	return now.Add(ttl), nil
}
