//go:build !linux

package player

import "errors"

// ShmSupported is false outside linux
func ShmSupported() bool {
	return false
}

func writeShm(name string, data []byte) error {
	return errors.New("shared memory transmission needs linux")
}
