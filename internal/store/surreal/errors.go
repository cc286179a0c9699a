package surreal

import "errors"

// errNotFound marks a missing record or a lost compare-and-swap race —
// callers reload and re-evaluate rather than treating it as fatal.
var errNotFound = errors.New("surreal: not found or state changed")
