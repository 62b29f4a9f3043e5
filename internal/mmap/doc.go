// Package mmap maps local segment files read-only.
//
// The local blob store maps every file it opens. Record data is mapped with
// AccessSequential because merges stream it front to back; offset indexes
// and segment info are read in full and mapped with AccessWillNeed:
//
//	m, err := mmap.Map("_7.dat", mmap.AccessSequential)
//	if err != nil { ... }
//	defer m.Close()
//
// Unix uses mmap(2) and madvise(2) via golang.org/x/sys/unix. Windows uses
// CreateFileMapping and MapViewOfFile and ignores the access hint.
package mmap
