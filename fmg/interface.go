package fmg

import (
	"context"
	"encoding/json"
)

// API is the set of calls the shell and the filesystem make against an
// appliance. Both Client and CachingClient implement it.
type API interface {
	Login(ctx context.Context, user, password string) error
	Logout(ctx context.Context) error
	LoggedIn() bool

	// Get returns the data of the first result for url.
	Get(ctx context.Context, url string, attrs Attributes) (json.RawMessage, error)

	Checksum(ctx context.Context, url string) (string, error)
	Records(ctx context.Context, url string, attrs Attributes) ([]Record, error)

	SetDebug(flag string) error
	Debug() string
}

var _ API = (*Client)(nil)
var _ API = (*CachingClient)(nil)
