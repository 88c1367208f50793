//go:build !linux

package main

// raiseFileLimit is a no-op on non-Linux platforms; development machines
// rarely hit the descriptor cap.
func raiseFileLimit() {}
