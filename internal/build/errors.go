package build

import "errors"

var (
	ErrBuild               = errors.New("build failed")
	ErrFileSystemOperation = errors.New("file system operation failed")
	ErrCopy                = errors.New("copy failed")
	ErrCommandFailed       = errors.New("command failed")
	ErrInstall             = errors.New("package installation failed")
	ErrCompile             = errors.New("compilation failed")
	ErrAssembly            = errors.New("runtime assembly failed")
)
