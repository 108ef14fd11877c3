// Package payload interprets verified payment notification bodies.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strconv"
	"strings"
)

// StatusSuccess is the only payment status that grants access.
const StatusSuccess = "success"

// Format identifies how a notification body was encoded.
type Format string

const (
	FormatJSON Format = "json"
	FormatForm Format = "form"
)

var (
	// ErrEmptyBody is returned for a zero-length notification.
	ErrEmptyBody = errors.New("empty notification body")
	// ErrMissingOrderRef is returned when order_num is absent or blank.
	ErrMissingOrderRef = errors.New("order reference missing")
	// ErrNonNumericOrderRef is returned when the order reference is not a base-10 integer.
	ErrNonNumericOrderRef = errors.New("order reference is not numeric")
	// ErrNonPositiveOrderRef is returned for zero or negative order references.
	ErrNonPositiveOrderRef = errors.New("order reference must be positive")
)

// Notification is the structured view of a payment notification.
type Notification struct {
	Format          Format
	Status          string // payment_status, or status when payment_status is absent
	OrderRef        string // order_num; never the provider's order_id
	ProviderOrderID string // order_id as assigned by the provider
	Sum             string
	Currency        string
	CustomerEmail   string
}

// IsSuccess reports whether the notification reports a completed payment.
// The status must be exactly "success"; surrounding whitespace is ignored.
func (n Notification) IsSuccess() bool {
	return strings.TrimSpace(n.Status) == StatusSuccess
}

// RecipientID parses the order reference as the recipient's chat identifier.
func (n Notification) RecipientID() (int64, error) {
	ref := strings.TrimSpace(n.OrderRef)
	if ref == "" {
		return 0, ErrMissingOrderRef
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNonNumericOrderRef, ref)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrNonPositiveOrderRef, id)
	}
	return id, nil
}

// Parse decodes a notification body. contentType may be empty, in which
// case the encoding is sniffed from the first non-space byte.
func Parse(rawBody []byte, contentType string) (Notification, error) {
	trimmed := bytes.TrimSpace(rawBody)
	if len(trimmed) == 0 {
		return Notification{}, ErrEmptyBody
	}

	var (
		fields map[string]string
		format Format
		err    error
	)
	switch detectFormat(trimmed, contentType) {
	case FormatJSON:
		format = FormatJSON
		fields, err = decodeJSON(trimmed)
	default:
		format = FormatForm
		fields, err = decodeForm(trimmed)
	}
	if err != nil {
		return Notification{}, err
	}

	return Notification{
		Format:          format,
		Status:          firstPresent(fields, "payment_status", "status"),
		OrderRef:        strings.TrimSpace(fields["order_num"]),
		ProviderOrderID: fields["order_id"],
		Sum:             fields["sum"],
		Currency:        fields["currency"],
		CustomerEmail:   fields["customer_email"],
	}, nil
}

func detectFormat(body []byte, contentType string) Format {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch {
		case mediaType == "application/json", strings.HasSuffix(mediaType, "+json"):
			return FormatJSON
		case mediaType == "application/x-www-form-urlencoded":
			return FormatForm
		}
	}
	if body[0] == '{' {
		return FormatJSON
	}
	return FormatForm
}

func decodeJSON(body []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json notification: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("decode json notification: body is not an object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("decode json notification: trailing data after object")
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		case bool:
			fields[k] = strconv.FormatBool(val)
		}
		// Nested objects, arrays and nulls are not addressable scalars.
	}
	return fields, nil
}

func decodeForm(body []byte) (map[string]string, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("decode form notification: %w", err)
	}
	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}
	return fields, nil
}

// firstPresent returns the value of the first key present in fields, even
// if that value is blank.
func firstPresent(fields map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
