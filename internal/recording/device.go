package recording

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// DeviceErrorReason classifies why a capture device could not be acquired
type DeviceErrorReason int

const (
	ReasonUnknown DeviceErrorReason = iota
	ReasonPermissionDenied
	ReasonNotFound
	ReasonDeviceBusy
	ReasonOverconstrained
)

// DeviceError reports a device acquisition or capture failure with a
// user-presentable reason
type DeviceError struct {
	Reason   DeviceErrorReason
	DeviceID string
	Err      error
}

func (e *DeviceError) Error() string {
	switch e.Reason {
	case ReasonPermissionDenied:
		return fmt.Sprintf("microphone error: permission denied for device %q", e.DeviceID)
	case ReasonNotFound:
		return fmt.Sprintf("microphone error: device %q not found", e.DeviceID)
	case ReasonDeviceBusy:
		return fmt.Sprintf("microphone error: device %q is in use by another application", e.DeviceID)
	case ReasonOverconstrained:
		return fmt.Sprintf("microphone error: cannot satisfy constraints for device %q", e.DeviceID)
	default:
		return fmt.Sprintf("microphone error on device %q: %v", e.DeviceID, e.Err)
	}
}

func (e *DeviceError) Unwrap() error { return e.Err }

// UserMessage returns the guidance shown to the user for this failure
func (e *DeviceError) UserMessage() string {
	switch e.Reason {
	case ReasonPermissionDenied:
		return "Microphone access denied. Please allow microphone access."
	case ReasonNotFound:
		return "No microphone found. Please connect a microphone."
	case ReasonDeviceBusy:
		return "Microphone is in use by another application."
	case ReasonOverconstrained:
		return "Selected microphone is unavailable. Check your audio settings."
	default:
		return "Error accessing microphone. Please check your settings."
	}
}

// Device acquires capture streams. Implementations wrap the platform
// audio-input API
type Device interface {
	// Open acquires the capture device identified by deviceID ("default"
	// selects the system default). Failures are reported as *DeviceError
	Open(deviceID string) (Stream, error)
}

// Stream delivers raw captured audio. Read blocks until data is
// available; io.EOF signals the source is exhausted. Close releases the
// underlying device and unblocks any pending Read
type Stream interface {
	io.ReadCloser
}

// FileDevice is a headless Device that captures from a prerecorded file,
// used by the headless client binary and tests
type FileDevice struct {
	// Path is the audio file streamed as capture input. When DeviceID
	// passed to Open is not "default", it is used as the path instead
	Path string
}

// Open opens the capture file, mapping filesystem errors to device
// reasons
func (d *FileDevice) Open(deviceID string) (Stream, error) {
	path := d.Path
	if deviceID != "" && deviceID != "default" {
		path = deviceID
	}
	if path == "" {
		return nil, &DeviceError{Reason: ReasonNotFound, DeviceID: deviceID, Err: errors.New("no capture source configured")}
	}

	f, err := os.Open(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, &DeviceError{Reason: ReasonNotFound, DeviceID: deviceID, Err: err}
		case errors.Is(err, fs.ErrPermission):
			return nil, &DeviceError{Reason: ReasonPermissionDenied, DeviceID: deviceID, Err: err}
		default:
			return nil, &DeviceError{Reason: ReasonUnknown, DeviceID: deviceID, Err: err}
		}
	}
	return f, nil
}
