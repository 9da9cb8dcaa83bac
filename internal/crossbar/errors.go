package crossbar

import "errors"

var errMissingToken = errors.New("missing token")
