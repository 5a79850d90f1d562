package recording

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestFileDevice_OpenMissingFile(t *testing.T) {
	dev := &FileDevice{Path: filepath.Join(t.TempDir(), "nope.raw")}

	_, err := dev.Open("default")
	var devErr *DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("Open() error = %v, want *DeviceError", err)
	}
	if devErr.Reason != ReasonNotFound {
		t.Errorf("Reason = %v, want %v", devErr.Reason, ReasonNotFound)
	}
}

func TestFileDevice_OpenAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.raw")
	if err := os.WriteFile(path, []byte("pcm-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	dev := &FileDevice{Path: path}
	stream, err := dev.Open("default")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer stream.Close()

	buf := make([]byte, 32)
	n, err := stream.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(buf[:n]) != "pcm-bytes" {
		t.Errorf("Read %q, want %q", buf[:n], "pcm-bytes")
	}
}

func TestDeviceError_UserMessages(t *testing.T) {
	cases := []struct {
		reason DeviceErrorReason
		want   string
	}{
		{ReasonPermissionDenied, "Microphone access denied. Please allow microphone access."},
		{ReasonNotFound, "No microphone found. Please connect a microphone."},
		{ReasonDeviceBusy, "Microphone is in use by another application."},
	}

	for _, tc := range cases {
		err := &DeviceError{Reason: tc.reason}
		if got := err.UserMessage(); got != tc.want {
			t.Errorf("UserMessage(%v) = %q, want %q", tc.reason, got, tc.want)
		}
	}
}
