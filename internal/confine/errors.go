package confine

import "errors"

var ErrScan = errors.New("cannot scan image archive")
