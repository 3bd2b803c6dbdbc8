// Package backend defines the remote data backend consumed by the offline
// layer and an HTTP implementation of it. The offline facade only depends
// on the Remote interface; everything about the hosted service's wire
// format lives here.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hredostate/yebo-sub011/models"
)

var (
	// ErrNotFound is returned when a select matches no row. The drain's
	// conflict check treats it as "nothing to conflict with", never as a
	// transient failure.
	ErrNotFound = errors.New("row not found")
)

// UnavailableError wraps transport failures, timeouts, and backend 5xx
// responses: the class of errors worth retrying on the next sync pass.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err represents a transient backend failure.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// Remote is the generic capability the offline layer consumes. Every call
// returns the backend's raw JSON result or a non-nil error, never both
// absent.
type Remote interface {
	Select(ctx context.Context, table string, match models.Row) (json.RawMessage, error)
	Insert(ctx context.Context, table string, payload models.Row) (json.RawMessage, error)
	Update(ctx context.Context, table string, payload, match models.Row) (json.RawMessage, error)
	Delete(ctx context.Context, table string, match models.Row) (json.RawMessage, error)
	RPC(ctx context.Context, name string, args models.Row) (json.RawMessage, error)
	InvokeFunction(ctx context.Context, name string, body models.Row) (json.RawMessage, error)
	UploadFile(ctx context.Context, bucket, path string, data []byte, opts models.UploadOptions) (json.RawMessage, error)

	// Ping is a cheap health probe used by the connectivity watcher and
	// the operator CLI.
	Ping(ctx context.Context) error
}
