package errors

import "errors"

// Store and lookup errors.
var (
	ErrPageNotFound = errors.New("page not found")
	ErrStateSchema  = errors.New("unsupported state schema")
)

// Remote errors.
var (
	ErrStaleVersion    = errors.New("remote page changed since base version")
	ErrManifestInvalid = errors.New("invalid remote manifest")
)

// Local tree errors.
var (
	ErrSourceMissing = errors.New("source file does not exist")
	ErrPathTraversal = errors.New("path escapes mirror root")
	ErrNotMarkdown   = errors.New("not a markdown page file")
)

// Conflict handling errors.
var (
	ErrUnresolvedConflict = errors.New("page has unresolved conflict markers")
	ErrInvalidSide        = errors.New("invalid conflict side")
)
