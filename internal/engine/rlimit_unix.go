//go:build linux || darwin

package engine

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// raiseFileLimit lifts the soft open-file limit to the hard limit and
// returns the limit in effect.
func raiseFileLimit() (uint64, error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, fmt.Errorf("getrlimit: %w", err)
	}
	if lim.Cur >= lim.Max {
		return lim.Cur, nil
	}
	raised := lim
	raised.Cur = lim.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &raised); err != nil {
		return lim.Cur, fmt.Errorf("setrlimit: %w", err)
	}
	return raised.Cur, nil
}
