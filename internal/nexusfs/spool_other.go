//go:build !linux

package nexusfs

// Spooling is a Linux-only optimization (O_DIRECT, fallocate and fadvise
// have no portable equivalent); elsewhere oversized writes simply stay in
// memory.
func maybeSpool(dir string, maxSize uint64, data []byte) ([]byte, error) {
	return data, nil
}
