//go:build linux

package main

import (
	"log"

	"golang.org/x/sys/unix"
)

// raiseFileLimit lifts the soft open-file limit to the hard limit so a burst
// of feed subscribers and provider connections cannot exhaust descriptors
// under the default 1024 soft cap.
func raiseFileLimit() {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		log.Printf("[moderatord] getrlimit failed: %v", err)
		return
	}
	if rl.Cur >= rl.Max {
		return
	}
	rl.Cur = rl.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		log.Printf("[moderatord] setrlimit failed: %v", err)
		return
	}
	log.Printf("[moderatord] raised open file limit to %d", rl.Cur)
}
