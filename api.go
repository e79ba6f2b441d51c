package ddns

import (
	"context"
	"errors"
)

// Resolver discovers the current public IP address.
//
// The returned string is the address exactly as the source reported it, trimmed of surrounding whitespace.
type Resolver interface {
	Resolve(context.Context) (string, error)
}

// ResolverFunc adapts an ordinary function to the Resolver interface.
type ResolverFunc func(context.Context) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context) (string, error) { return f(ctx) }

// Provider is the capability needed from a DNS provider to reconcile one address record.
//
// Implementations must not retry.
// Lookups return an error wrapping ErrNotFound when the number of matches is anything other than one.
type Provider interface {
	LookupZone(ctx context.Context, name string) (zoneID string, err error)
	LookupAddressRecord(ctx context.Context, zoneID, domain string) (Record, error)
	UpdateRecord(ctx context.Context, zoneID, recordID string, update RecordUpdate) error
}

// RecordTypeA is the only record type managed by this package.
const RecordTypeA = "A"

// Record is the provider-side state of an address record, fetched fresh on every pass.
type Record struct {
	ID      string
	Type    string
	Name    string
	Content string
}

// RecordUpdate is the complete desired state of a record.
// Updates replace the whole record, so every field is always sent.
type RecordUpdate struct {
	Name    string
	Content string
	TTL     int
	Proxied bool
}

var (
	// ErrNotFound is returned by resolvers and providers when nothing (or more than one thing) matched.
	ErrNotFound = errors.New("not found")

	ErrIPNotFound     = errors.New("IP not found")
	ErrZoneNotFound   = errors.New("zone not found")
	ErrRecordNotFound = errors.New("record not found")
	ErrUpdateFailed   = errors.New("update failed")
)
