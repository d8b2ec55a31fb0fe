package debugtest

import "errors"

var errSourceNotFound = errors.New("source not found")
