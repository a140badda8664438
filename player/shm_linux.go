//go:build linux

package player

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

const (
	shmDir = "/dev/shm"

	probeName    = "/scrub-probe"
	probeImageID = 999
)

// ShmSupported reports whether frames can be sent through shared memory:
// /dev/shm must exist and the terminal must acknowledge a t=s transmission.
// The reply is read from stdin, so call it before bubbletea owns the terminal.
func ShmSupported() bool {
	if info, err := os.Stat(shmDir); err != nil || !info.IsDir() {
		return false
	}

	var reply string
	err := withRawInput(int(os.Stdin.Fd()), 2, func() error {
		var err error
		reply, err = probeShm(os.Stdout, os.Stdin)
		return err
	})
	return err == nil && shmAccepted(reply, probeImageID)
}

// withRawInput runs fn with echo and line buffering off. Reads return after
// timeout tenths of a second without input.
func withRawInput(fd int, timeout uint8, fn func() error) error {
	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	raw := *saved
	raw.Lflag &^= unix.ECHO | unix.ICANON | unix.ISIG
	raw.Iflag &^= unix.IXON | unix.ICRNL
	raw.Cc[unix.VMIN] = 0
	raw.Cc[unix.VTIME] = timeout
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return err
	}
	defer unix.IoctlSetTermios(fd, unix.TCSETS, saved)

	return fn()
}

// probeShm sends a 1x1 RGBA image the way Present does with shared memory,
// but without q= so the terminal answers. It returns whatever came back.
func probeShm(out io.Writer, in io.Reader) (string, error) {
	// pending input would be taken for the reply
	in.Read(make([]byte, 256))

	if err := writeShm(probeName, []byte{0, 0, 0, 255}); err != nil {
		return "", err
	}
	defer os.Remove(shmDir + probeName)

	fmt.Fprintf(out, "\x1b_Ga=T,f=32,t=s,s=1,v=1,i=%d;%s\x1b\\",
		probeImageID, base64.StdEncoding.EncodeToString([]byte(probeName)))

	buf := make([]byte, 256)
	n, _ := in.Read(buf)

	fmt.Fprintf(out, "\x1b_Ga=d,d=i,i=%d,q=2\x1b\\", probeImageID)
	return string(buf[:n]), nil
}

// shmAccepted reports whether reply carries the terminal's OK for image id
func shmAccepted(reply string, id int) bool {
	return strings.Contains(reply, fmt.Sprintf("i=%d;OK", id))
}

// writeShm stores data in /dev/shm under name. The terminal unlinks it after reading.
func writeShm(name string, data []byte) error {
	return os.WriteFile(shmDir+name, data, 0600)
}
