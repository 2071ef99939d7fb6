package testerr

import "errors"

// Err is the error returned by failing dependencies in tests.
var Err = errors.New("test error")
