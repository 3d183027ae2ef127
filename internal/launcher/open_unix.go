//go:build !windows

package launcher

import (
	"context"
	"runtime"
)

// SystemOpener opens URIs with open(1) on macOS and xdg-open elsewhere.
type SystemOpener struct{}

// Open implements Opener.
func (SystemOpener) Open(ctx context.Context, uri string) error {
	name := "xdg-open"
	if runtime.GOOS == "darwin" {
		name = "open"
	}
	_, err := execContext(ctx, openTimeout, name, uri)
	return err
}
