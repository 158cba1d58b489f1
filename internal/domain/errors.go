// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyResolved indicates a decision was attempted against an approval
// record that is no longer pending.
var ErrAlreadyResolved = errors.New("approval already resolved")
