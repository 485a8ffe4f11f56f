//go:build !(darwin || dragonfly || freebsd || linux || netbsd || openbsd || windows)

package history

import (
	"errors"
	"os"
)

var errLockUnsupported = errors.New("file locking is not supported on this platform")

func tryLockFile(*os.File) (bool, error) { return false, errLockUnsupported }

func unlockFile(*os.File) error { return errLockUnsupported }
