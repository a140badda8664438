//go:build linux

package player

import (
	"bytes"
	"encoding/base64"
	"io"
	"os"
	"strings"
	"testing"
)

// scriptedInput returns one chunk per Read, then io.EOF
type scriptedInput struct {
	chunks []string
}

func (s *scriptedInput) Read(p []byte) (int, error) {
	if len(s.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	s.chunks = s.chunks[1:]
	return n, nil
}

func requireShm(t *testing.T) {
	t.Helper()
	if info, err := os.Stat(shmDir); err != nil || !info.IsDir() {
		t.Skip("no /dev/shm")
	}
}

func TestShmAccepted(t *testing.T) {
	tests := []struct {
		reply string
		want  bool
	}{
		{"\x1b_Gi=999;OK\x1b\\", true},
		{"\x1b_Gi=999;ENOENT:no such file\x1b\\", false},
		{"\x1b_Gi=12;OK\x1b\\", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := shmAccepted(tt.reply, probeImageID); got != tt.want {
			t.Errorf("shmAccepted(%q) = %v, want %v", tt.reply, got, tt.want)
		}
	}
}

func TestProbeShm(t *testing.T) {
	requireShm(t)

	var out bytes.Buffer
	in := &scriptedInput{chunks: []string{"stale keypress", "\x1b_Gi=999;OK\x1b\\"}}

	reply, err := probeShm(&out, in)
	if err != nil {
		t.Fatalf("probeShm: %v", err)
	}
	if !shmAccepted(reply, probeImageID) {
		t.Errorf("reply = %q, stale input was not drained", reply)
	}

	name := base64.StdEncoding.EncodeToString([]byte(probeName))
	if !strings.Contains(out.String(), "t=s,s=1,v=1,i=999;"+name) {
		t.Errorf("probe command = %q", out.String())
	}
	if !strings.HasSuffix(out.String(), "\x1b_Ga=d,d=i,i=999,q=2\x1b\\") {
		t.Errorf("probe image not deleted: %q", out.String())
	}
	if _, err := os.Stat(shmDir + probeName); !os.IsNotExist(err) {
		t.Errorf("probe file left in %s", shmDir)
	}
}

func TestPresentThroughShm(t *testing.T) {
	requireShm(t)

	var out bytes.Buffer
	r := NewKittyRenderer(&out)
	r.SetUseShm(true)

	f := testFrame(4, 2)
	if err := r.Present(f); err != nil {
		t.Fatalf("Present: %v", err)
	}

	const name = "/scrub-frame-1"
	t.Cleanup(func() { os.Remove(shmDir + name) })

	data, err := os.ReadFile(shmDir + name)
	if err != nil {
		t.Fatalf("frame not written to shared memory: %v", err)
	}
	if !bytes.Equal(data, f.Pix) {
		t.Error("shared memory frame differs from the presented one")
	}
	if !strings.Contains(out.String(), "t=s,s=4,v=2,i=1,q=2;"+base64.StdEncoding.EncodeToString([]byte(name))) {
		t.Errorf("shm command = %q", out.String())
	}
}
