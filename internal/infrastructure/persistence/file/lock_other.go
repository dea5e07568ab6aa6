//go:build !unix

package file

// dirLock is a no-op where flock(2) is unavailable; only the in-process
// mutex guards commits there.
type dirLock struct{}

func openDirLock(string) (*dirLock, error) { return &dirLock{}, nil }

func (*dirLock) lock() error   { return nil }
func (*dirLock) unlock() error { return nil }
func (*dirLock) close() error  { return nil }
