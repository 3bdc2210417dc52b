package vitis

import (
	"errors"
	"fmt"
)

// Common sentinel errors. The typed errors below match them through errors.Is.
var (
	// ErrValidation is matched by *ValidationError.
	ErrValidation = errors.New("invalid request")

	// ErrUnsupportedResource is matched by *UnsupportedResourceError.
	ErrUnsupportedResource = errors.New("unsupported resource")

	// ErrFetch is matched by *FetchError and *ParseError.
	ErrFetch = errors.New("remote fetch failed")

	// ErrStore is matched by *StoreError.
	ErrStore = errors.New("store failure")

	// ErrNotFound is matched by *NotFoundError.
	ErrNotFound = errors.New("record set not found")
)

// ValidationError reports a request field that violates its constraint.
// It is raised before any network or store access.
type ValidationError struct {
	// Field is the offending request field ("category", "year").
	Field string

	// Constraint is a human-readable statement of the rule.
	Constraint string

	// Value is the rejected value, if any.
	Value string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Constraint)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Constraint)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// UnsupportedResourceError reports a category or category/sub-category pair
// outside the closed enumeration.
type UnsupportedResourceError struct {
	Category    string
	SubCategory string
}

func (e *UnsupportedResourceError) Error() string {
	if e.SubCategory != "" {
		return fmt.Sprintf("unsupported resource: category %q has no sub-category %q", e.Category, e.SubCategory)
	}
	return fmt.Sprintf("unsupported resource: unknown category %q", e.Category)
}

func (e *UnsupportedResourceError) Is(target error) bool { return target == ErrUnsupportedResource }

// Field names the request field at fault.
func (e *UnsupportedResourceError) Field() string {
	if e.SubCategory != "" {
		return "sub_category"
	}
	return "category"
}

// FetchError is a transient remote failure: transport error, timeout or
// non-2xx status.
type FetchError struct {
	Key        string
	URL        string
	StatusCode int // 0 when no response was received
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s: http %d", e.Key, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.Key, e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Retriable reports whether another attempt may succeed.
func (e *FetchError) Retriable() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == 429
}

// ParseError means the document was retrieved but held no usable table.
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

func (e *ParseError) Is(target error) bool { return target == ErrFetch }

// StoreError wraps a failure of the storage engine.
type StoreError struct {
	Op    string // "exists", "read", "write", "last_refresh", "init"
	Key   string
	Cause error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Cause)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

func (e *StoreError) Is(target error) bool { return target == ErrStore }

// NotFoundError is returned by Store.Read for an absent key.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record set %s not found", e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func storeErr(op, key string, cause error) error {
	if cause == nil {
		return nil
	}
	return &StoreError{Op: op, Key: key, Cause: cause}
}

// ErrorKind classifies errors returned by the Extractor for callers that map
// them onto a transport (HTTP status, job outcome).
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindUnsupportedResource
	KindFetch
	KindStore
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnsupportedResource:
		return "unsupported_resource"
	case KindFetch:
		return "fetch"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// KindOf returns the kind of err. A ParseError is a fetch failure.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrUnsupportedResource):
		return KindUnsupportedResource
	case errors.Is(err, ErrStore), errors.Is(err, ErrNotFound):
		return KindStore
	case errors.Is(err, ErrFetch):
		return KindFetch
	default:
		return KindUnknown
	}
}

// isFetchFailure reports whether err is a remote failure eligible for
// stale fallback.
func isFetchFailure(err error) bool {
	return errors.Is(err, ErrFetch) && !errors.Is(err, ErrStore)
}
