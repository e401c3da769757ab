package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrPickerCancelled is returned when Ctrl+C is pressed in the picker.
var ErrPickerCancelled = errors.New("device selection cancelled")

type pickerKey int

const (
	keyNone pickerKey = iota
	keyUp
	keyDown
	keyEnter
	keyCancel
)

func decodeKey(buf []byte) pickerKey {
	switch {
	case len(buf) == 1 && buf[0] == 13:
		return keyEnter
	case len(buf) == 1 && buf[0] == 3:
		return keyCancel
	case len(buf) == 1 && buf[0] == 'k':
		return keyUp
	case len(buf) == 1 && buf[0] == 'j':
		return keyDown
	case len(buf) == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'A':
		return keyUp
	case len(buf) == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'B':
		return keyDown
	}
	return keyNone
}

func renderDeviceList(devices []DeviceInfo, cursor int) string {
	var b strings.Builder
	b.WriteString("\r\x1b[J")
	b.WriteString("Select microphone (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range devices {
		tag := ""
		if IsBluetooth(d.Name) {
			tag = " \x1b[33m[bluetooth: lower quality]\x1b[0m"
		}
		if i == cursor {
			fmt.Fprintf(&b, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, tag)
		} else {
			fmt.Fprintf(&b, "    %s%s\r\n", d.Name, tag)
		}
	}
	return b.String()
}

// pick runs the picker loop over raw key reads from in.
func pick(devices []DeviceInfo, in io.Reader, out io.Writer) (*DeviceInfo, error) {
	cursor := 0
	io.WriteString(out, renderDeviceList(devices, cursor))

	buf := make([]byte, 3)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		switch decodeKey(buf[:n]) {
		case keyEnter:
			io.WriteString(out, "\r\n")
			return &devices[cursor], nil
		case keyCancel:
			io.WriteString(out, "\r\n")
			return nil, ErrPickerCancelled
		case keyUp:
			cursor = max(cursor-1, 0)
		case keyDown:
			cursor = min(cursor+1, len(devices)-1)
		}
		fmt.Fprintf(out, "\x1b[%dA", len(devices)+2)
		io.WriteString(out, renderDeviceList(devices, cursor))
	}
}

// SelectDevice lets the user pick a capture device on the terminal. With a
// single device it returns that device without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, errors.Join(ErrDeviceDenied, errors.New("no capture devices found"))
	}
	if len(devices) == 1 {
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	return pick(devices, os.Stdin, os.Stdout)
}
