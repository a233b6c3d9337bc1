package auth

import (
	"fmt"
	"io"
	"time"
)

// Notifier receives the user-facing events of a login attempt.
// Implementations must not block; display failures are ignored.
type Notifier interface {
	// DeviceCode is called once the code is known and should be shown to the user.
	DeviceCode(code DeviceCodeResponse)
	// Polling is called before each wait; attempt is 1-based.
	Polling(attempt int, interval time.Duration)
	// SlowDown is called when the server asked for a longer interval.
	SlowDown(interval time.Duration)
}

type nopNotifier struct{}

func (nopNotifier) DeviceCode(DeviceCodeResponse) {}
func (nopNotifier) Polling(int, time.Duration) {}
func (nopNotifier) SlowDown(time.Duration) {}

// WriterNotifier prints plain-text prompts, for non-interactive output.
type WriterNotifier struct {
	w io.Writer
}

// NewWriterNotifier creates a WriterNotifier writing to w (usually os.Stderr so stdout stays clean).
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (n *WriterNotifier) DeviceCode(code DeviceCodeResponse) {
	fmt.Fprintf(n.w, "Device authorization required.\n")
	fmt.Fprintf(n.w, "Visit:      %s\n", code.VerificationURI)
	fmt.Fprintf(n.w, "Enter code: %s\n", code.UserCode)
	if code.VerificationURIComplete != "" {
		fmt.Fprintf(n.w, "Or open:    %s\n", code.VerificationURIComplete)
	}
	if code.ExpiresIn > 0 {
		fmt.Fprintf(n.w, "Waiting for authorization (expires in %d minutes)...\n", code.ExpiresInMinutes())
	} else {
		fmt.Fprintf(n.w, "Waiting for authorization...\n")
	}
}

func (n *WriterNotifier) Polling(int, time.Duration) {}

func (n *WriterNotifier) SlowDown(interval time.Duration) {
	fmt.Fprintf(n.w, "Server asked to slow down, now polling every %s\n", interval)
}
