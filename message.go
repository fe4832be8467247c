package sqlqueue

import (
	"maps"
	"time"
)

// Message is a transport message as seen by senders and receivers.
type Message struct {
	// ID is the store-assigned row id. It is zero on send and set on receive.
	ID int64
	// Headers carries delivery metadata. Reserved keys are listed in headers.go.
	Headers map[string]string
	// Body is the opaque payload.
	Body []byte
}

// Row is the persisted form of a message.
type Row struct {
	ID        int64
	Recipient string
	Priority  int
	VisibleAt time.Time
	ExpiresAt time.Time
	Headers   []byte
	Body      []byte
}

// buildRow applies the header protocol and encodes headers last.
func buildRow(recipient string, msg Message, now time.Time, codec HeaderCodec) (Row, error) {
	headers := maps.Clone(msg.Headers)
	if headers == nil {
		headers = map[string]string{}
	}

	priority, err := parsePriority(headers)
	if err != nil {
		return Row{}, err
	}
	visible, err := visibleAt(headers, now)
	if err != nil {
		return Row{}, err
	}
	delete(headers, HeaderDeferUntil)
	expires, err := expiresAt(headers, now)
	if err != nil {
		return Row{}, err
	}

	encoded, err := codec.Encode(headers)
	if err != nil {
		return Row{}, err
	}
	body := msg.Body
	if body == nil {
		body = []byte{}
	}

	return Row{
		Recipient: recipient,
		Priority:  priority,
		VisibleAt: visible,
		ExpiresAt: expires,
		Headers:   encoded,
		Body:      body,
	}, nil
}
