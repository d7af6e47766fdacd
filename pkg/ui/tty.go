//go:build !windows

package ui

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// OpenTTY opens the controlling terminal, for prompts while stdin or stdout
// are redirected.
func OpenTTY() (io.ReadWriteCloser, error) {
	f, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "no controlling terminal")
	}
	return f, nil
}
