//go:build !linux && !darwin

package engine

// raiseFileLimit is a no-op where RLIMIT_NOFILE is not available.
func raiseFileLimit() (uint64, error) {
	return 0, nil
}
