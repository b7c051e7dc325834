// Package suspension records time-boxed holds on accounts and devices.
//
// Records expire on their own: a read at or after the hold's end reports no
// suspension and deletes the record. Account holds and device bans live in
// separate namespaces and are only combined by the caller at decision time.
package suspension

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("suspension: no record")
	ErrInvalidNamespace = errors.New("suspension: unknown namespace")
	ErrInvalidSubject   = errors.New("suspension: subject is required")
)

// Namespace separates account holds from device bans.
type Namespace string

const (
	NamespaceAccount Namespace = "account"
	NamespaceDevice  Namespace = "device"
)

// Valid reports whether ns is a known namespace.
func (ns Namespace) Valid() bool {
	return ns == NamespaceAccount || ns == NamespaceDevice
}

// Record is one active or expired hold.
type Record struct {
	Namespace Namespace `json:"namespace"`
	Subject   string    `json:"subject"`
	Until     time.Time `json:"until"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Active reports whether the hold is still in force at now.
func (r *Record) Active(now time.Time) bool {
	return now.Before(r.Until)
}

// Store persists suspension records keyed by (namespace, subject).
type Store interface {
	Get(ctx context.Context, ns Namespace, subject string) (*Record, error)
	// Put stores r, keeping the later Until when a record already exists.
	Put(ctx context.Context, r *Record) error
	Delete(ctx context.Context, ns Namespace, subject string) error
	// DeleteIfUntil removes the record only if its Until still equals until.
	DeleteIfUntil(ctx context.Context, ns Namespace, subject string, until time.Time) (bool, error)
	// DeleteExpired removes every record whose Until is at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
