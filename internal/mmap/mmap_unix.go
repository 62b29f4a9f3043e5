//go:build !windows

package mmap

import (
	"os"

	"golang.org/x/sys/unix"
)

var advice = map[AccessPattern]int{
	AccessSequential: unix.MADV_SEQUENTIAL,
	AccessRandom:     unix.MADV_RANDOM,
	AccessWillNeed:   unix.MADV_WILLNEED,
}

func mmap(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
}

func munmap(data []byte) error {
	return unix.Munmap(data)
}

func madvise(data []byte, p AccessPattern) error {
	a, ok := advice[p]
	if !ok {
		a = unix.MADV_NORMAL
	}
	return unix.Madvise(data, a)
}
