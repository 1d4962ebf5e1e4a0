package turn

import "errors"

// ErrClosed is returned after Close.
var ErrClosed = errors.New("turn: controller closed")
