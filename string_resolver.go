package ddns

import (
	"context"
	"errors"
)

// FromString constructs a resolver that always reports addr.
// The address is not validated here; the DNS provider rejects anything it can't store.
func FromString(addr string) Resolver {
	return stringResolver(addr)
}

type stringResolver string

func (s stringResolver) Resolve(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("empty IP address")
	}
	return string(s), nil
}
