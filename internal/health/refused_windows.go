//go:build windows

package health

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isPlatformRefused matches the Winsock refusal, which syscall.ECONNREFUSED
// does not map to on Windows.
func isPlatformRefused(err error) bool {
	return errors.Is(err, windows.WSAECONNREFUSED)
}
