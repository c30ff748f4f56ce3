package dockerfile

import "errors"

var ErrRender = errors.New("cannot render Dockerfile")
