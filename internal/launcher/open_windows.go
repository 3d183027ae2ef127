//go:build windows

package launcher

import (
	"context"
	"fmt"

	"golang.org/x/sys/windows"
)

// SystemOpener opens URIs through the shell, like double-clicking a link.
type SystemOpener struct{}

// Open implements Opener.
func (SystemOpener) Open(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	verb, err := windows.UTF16PtrFromString("open")
	if err != nil {
		return err
	}
	file, err := windows.UTF16PtrFromString(uri)
	if err != nil {
		return fmt.Errorf("invalid uri %q: %w", uri, err)
	}

	if err := windows.ShellExecute(0, verb, file, nil, nil, windows.SW_SHOWNORMAL); err != nil {
		return fmt.Errorf("ShellExecute: %w", err)
	}
	return nil
}
