// Package clipboard puts replies and transcripts on the system clipboard.
package clipboard

import (
	"errors"
	"fmt"
	"strings"

	cb "github.com/atotto/clipboard"
)

var ErrUnavailable = errors.New("clipboard unavailable")

// ErrNothing is returned by CopyLast when there is neither a reply nor a
// transcript to copy.
var ErrNothing = errors.New("nothing to copy")

func Read() (string, error) {
	if cb.Unsupported {
		return "", ErrUnavailable
	}
	return cb.ReadAll()
}

func Copy(text string) error {
	if cb.Unsupported {
		return ErrUnavailable
	}
	if err := cb.WriteAll(text); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Pick chooses what Ctrl+Y copies: the last spoken reply, else the current
// transcript.
func Pick(reply, transcript string) string {
	if s := strings.TrimSpace(reply); s != "" {
		return s
	}
	return strings.TrimSpace(transcript)
}

// CopyLast copies Pick(reply, transcript) and returns it.
func CopyLast(reply, transcript string) (string, error) {
	text := Pick(reply, transcript)
	if text == "" {
		return "", ErrNothing
	}
	return text, Copy(text)
}
