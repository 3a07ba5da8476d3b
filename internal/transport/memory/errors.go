package memory

import "errors"

// ErrTransportClosed is returned when sending through a closed transport.
var ErrTransportClosed = errors.New("transport is closed")
