//go:build !linux

package main

import (
	"os"
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

func init() {
	runtime.LockOSThread()
}

// The global hotkey needs the main thread on macOS and Windows.
func main() {
	code := 0
	mainthread.Init(func() { code = run() })
	os.Exit(code)
}
