package fuse

import (
	"fmt"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Mount mounts root read-only at mountpoint. Global kernel timeouts are
// zero; nodes set their own.
func Mount(mountpoint string, root *FS, debug bool) (*fuse.Server, error) {
	opts := &fs.Options{}
	opts.Debug = debug
	opts.FsName = "fmgshell"
	opts.Name = "fmgshell"
	opts.Options = append(opts.Options, "ro")
	entryTimeout := time.Duration(0)
	attrTimeout := time.Duration(0)
	negativeTimeout := time.Duration(0)
	opts.EntryTimeout = &entryTimeout
	opts.AttrTimeout = &attrTimeout
	opts.NegativeTimeout = &negativeTimeout

	srv, err := fs.Mount(mountpoint, root, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to mount %s: %w", mountpoint, err)
	}
	return srv, nil
}
