// Package order extracts structured purchase orders from persona replies.
//
// The customer-service persona is instructed to append a delimited block to
// its reply once a purchase is confirmed:
//
//	[ORDER]
//	PRODUCT::Widget Pro
//	QUANTITY::2
//	ADDRESS::12 High St, Leeds
//	PAYMENT::card
//	[/ORDER]
//
// Fields may also be separated by "/" on a single line. The extractor
// validates each field into a fixed Record, persists it, and rewrites the
// reply so the caller hears a spoken acknowledgement instead of the markup.
// A block that fails validation is left in the reply untouched and nothing
// is persisted.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Block delimiters the persona is prompted to emit.
const (
	BlockStart = "[ORDER]"
	BlockEnd   = "[/ORDER]"
)

// ErrValidation is wrapped around any field-level failure. The wrapping
// error names the offending field.
var ErrValidation = errors.New("order: invalid order block")

// Payment modes accepted by the PAYMENT field.
const (
	PaymentCard           = "card"
	PaymentCashOnDelivery = "cash_on_delivery"
)

// Record is one validated purchase order.
type Record struct {
	SessionID   string `json:"session_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Address     string `json:"address"`
	PaymentMode string `json:"payment_mode"`
	// Timestamp is the extraction time in RFC 3339 UTC.
	Timestamp string `json:"timestamp"`
}

// Store is the persistence surface the extractor needs.
type Store interface {
	// Append stores doc in the named collection and returns its identifier.
	Append(ctx context.Context, collection string, doc any) (string, error)
}

// Option is a functional option for configuring the Extractor.
type Option func(*Extractor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		e.log = l
	}
}

// WithClock overrides the timestamp source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// Extractor finds, validates, and persists order blocks. Safe for concurrent
// use.
type Extractor struct {
	store      Store
	collection string
	log        *slog.Logger
	now        func() time.Time
}

// New creates an Extractor persisting into the given collection.
func New(store Store, collection string, opts ...Option) (*Extractor, error) {
	if store == nil {
		return nil, errors.New("order: store must not be nil")
	}
	if collection == "" {
		return nil, errors.New("order: collection must not be empty")
	}
	e := &Extractor{
		store:      store,
		collection: collection,
		log:        slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Process scans reply for an order block. Without one it returns the reply
// unchanged and a nil Record. With a valid block it persists the Record and
// returns the reply with the block replaced by a spoken acknowledgement
// naming product and quantity.
//
// On validation failure the reply comes back unchanged (block intact) with a
// nil Record and an ErrValidation-wrapped error. On persistence failure the
// reply also comes back unchanged, but the validated Record is returned
// alongside the error so callers can decide how much of the turn to salvage.
func (e *Extractor) Process(ctx context.Context, sessionID, reply string) (string, *Record, error) {
	block, ok := findBlock(reply)
	if !ok {
		return reply, nil, nil
	}

	rec, err := parseRecord(block, sessionID, e.now().UTC())
	if err != nil {
		return reply, nil, err
	}

	id, err := e.store.Append(ctx, e.collection, rec)
	if err != nil {
		return reply, rec, fmt.Errorf("order: persist: %w", err)
	}
	e.log.InfoContext(ctx, "order recorded",
		"id", id,
		"session", sessionID,
		"product", rec.ProductName,
		"quantity", rec.Quantity,
	)

	return rewrite(reply, rec), rec, nil
}

// findBlock returns the text between the first BlockStart/BlockEnd pair.
func findBlock(reply string) (string, bool) {
	start := strings.Index(reply, BlockStart)
	if start < 0 {
		return "", false
	}
	rest := reply[start+len(BlockStart):]
	end := strings.Index(rest, BlockEnd)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// parseRecord validates the block's fields into a Record. Unknown keys are
// ignored; each known field has its own validator and the first failure
// rejects the whole record.
func parseRecord(block, sessionID string, now time.Time) (*Record, error) {
	fields := map[string]string{}
	for _, part := range strings.FieldsFunc(block, func(r rune) bool {
		return r == '\n' || r == '/'
	}) {
		key, value, ok := strings.Cut(part, "::")
		if !ok {
			continue
		}
		fields[strings.ToUpper(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	product, err := requireText(fields, "PRODUCT")
	if err != nil {
		return nil, err
	}
	quantity, err := parseQuantity(fields["QUANTITY"])
	if err != nil {
		return nil, err
	}
	address, err := requireText(fields, "ADDRESS")
	if err != nil {
		return nil, err
	}
	payment, err := parsePayment(fields["PAYMENT"])
	if err != nil {
		return nil, err
	}

	return &Record{
		SessionID:   sessionID,
		ProductName: product,
		Quantity:    quantity,
		Address:     address,
		PaymentMode: payment,
		Timestamp:   now.Format(time.RFC3339),
	}, nil
}

func requireText(fields map[string]string, key string) (string, error) {
	v := fields[key]
	if v == "" {
		return "", fmt.Errorf("%w: %s missing or empty", ErrValidation, key)
	}
	return v, nil
}

// parseQuantity accepts only whole positive numbers. Anything else rejects
// the record rather than being coerced.
func parseQuantity(raw string) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: QUANTITY missing or empty", ErrValidation)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: QUANTITY %q is not a whole number", ErrValidation, raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: QUANTITY must be positive, got %d", ErrValidation, n)
	}
	return n, nil
}

func parsePayment(raw string) (string, error) {
	switch strings.ToLower(raw) {
	case PaymentCard:
		return PaymentCard, nil
	case PaymentCashOnDelivery:
		return PaymentCashOnDelivery, nil
	case "":
		return "", fmt.Errorf("%w: PAYMENT missing or empty", ErrValidation)
	default:
		return "", fmt.Errorf("%w: PAYMENT %q is not card or cash_on_delivery", ErrValidation, raw)
	}
}

// rewrite replaces the order block with a spoken acknowledgement.
func rewrite(reply string, rec *Record) string {
	start := strings.Index(reply, BlockStart)
	rest := reply[start+len(BlockStart):]
	end := strings.Index(rest, BlockEnd)
	after := rest[end+len(BlockEnd):]

	ack := fmt.Sprintf("I've placed your order for %d %s. Thank you for shopping with us!",
		rec.Quantity, rec.ProductName)
	return strings.TrimSpace(strings.TrimSpace(reply[:start]) + " " + ack + after)
}
