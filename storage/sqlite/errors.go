package sqlite

import "errors"

// ErrDBRequired indicates a repository was constructed without a database.
var ErrDBRequired = errors.New("sqlite database is required")
