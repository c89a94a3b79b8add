// Copyright (c) 2024 Contributors to the Eclipse Foundation
//
// See the NOTICE file(s) distributed with this work for additional
// information regarding copyright ownership.
//
// This program and the accompanying materials are made available under the
// terms of the Apache Software License 2.0 which is available at
// https://www.apache.org/licenses/LICENSE-2.0, or the MIT license
// which is available at https://opensource.org/licenses/MIT.
//
// SPDX-License-Identifier: Apache-2.0 OR MIT

package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

const regionVersion uint32 = 1

// registry tracks Regions already mapped by this process, keyed by path,
// so a second OfferService/FindService in the same process shares one
// mapping instead of mmap'ing the same file twice (§5 "Shared-memory
// regions: opened once per (process, instance), reference-counted
// locally, unmapped on last close").
var registry = struct {
	mu      sync.Mutex
	regions map[string]*Region
}{regions: map[string]*Region{}}

// Region is a mmap'd ServiceDataStorage file. Offsets into it are
// expressed relative to its base via the Offset type, never as raw
// pointers (§9).
type Region struct {
	path string
	fd   int
	data []byte

	mu       sync.Mutex
	refs     int
	unmapped bool
}

// CreateOrOpen opens the region file at path, creating it with the given
// size if it does not exist. init is invoked with the freshly zeroed
// bytes of a newly created region to lay out the header and any other
// fixed structures before the file becomes visible to other processes
// (achieved through a temp-file-plus-rename creation sequence, matching
// the slotcache pack file's creation pattern). If the file already
// exists its header is validated against want; a mismatch is reported as
// an error (the caller, per §4.3 step 2, treats this as "reject on
// mismatch").
func CreateOrOpen(path string, size int, want Header, init func([]byte)) (*Region, bool, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	if r, ok := registry.regions[path]; ok {
		r.mu.Lock()
		r.refs++
		r.mu.Unlock()
		return r, false, nil
	}

	fd, err := unix.Open(path, unix.O_RDWR, 0o644)
	if err == nil {
		r, err := mapExisting(path, fd, want)
		if err != nil {
			return nil, false, err
		}
		registry.regions[path] = r
		return r, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("shm: open region %s: %w", path, err)
	}

	r, err := createRegion(path, size, want, init)
	if err != nil {
		return nil, false, err
	}
	registry.regions[path] = r
	return r, true, nil
}

func mapExisting(path string, fd int, want Header) (*Region, error) {
	st, err := unix.Fstat(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("shm: fstat %s: %w", path, err)
	}
	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}
	hdr, err := DecodeHeader(data)
	if err != nil {
		_ = unix.Munmap(data)
		_ = unix.Close(fd)
		return nil, fmt.Errorf("shm: %s: %w", path, err)
	}
	if hdr.Version != want.Version {
		_ = unix.Munmap(data)
		_ = unix.Close(fd)
		return nil, fmt.Errorf("shm: %s: header version %d, want %d", path, hdr.Version, want.Version)
	}
	return &Region{path: path, fd: fd, data: data, refs: 1}, nil
}

// createRegion creates a new region file via temp-file-plus-rename so
// concurrent openers never observe a partially-initialized file (the
// slotcache pack file's creation pattern).
func createRegion(path string, size int, want Header, init func([]byte)) (*Region, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("shm: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-region-*")
	if err != nil {
		return nil, fmt.Errorf("shm: create temp region: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if err := tmp.Truncate(int64(size)); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("shm: truncate temp region: %w", err)
	}
	fd := int(tmp.Fd())
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("shm: mmap temp region: %w", err)
	}

	want.Size = uint64(size)
	EncodeHeader(data, want)
	if init != nil {
		init(data)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = unix.Munmap(data)
		tmp.Close()
		return nil, fmt.Errorf("shm: publish region %s: %w", path, err)
	}

	realFd, err := unix.Open(path, unix.O_RDWR, 0o644)
	if err != nil {
		_ = unix.Munmap(data)
		tmp.Close()
		return nil, fmt.Errorf("shm: reopen region %s: %w", path, err)
	}
	_ = unix.Munmap(data)
	tmp.Close()

	data, err = unix.Mmap(realFd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(realFd)
		return nil, fmt.Errorf("shm: mmap region %s: %w", path, err)
	}
	return &Region{path: path, fd: realFd, data: data, refs: 1}, nil
}

// Bytes returns the region's mapped bytes. The header occupies
// [0:HeaderSize); payload begins at HeaderSize.
func (r *Region) Bytes() []byte { return r.data }

// Path returns the filesystem path this region is backed by.
func (r *Region) Path() string { return r.path }

// Acquire adds a local reference, mirroring the consumer-side mapping
// share described in §9 "Object lifetimes across processes".
func (r *Region) Acquire() {
	r.mu.Lock()
	r.refs++
	r.mu.Unlock()
}

// Close drops one local reference, unmapping on last close (§5).
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs--
	if r.refs > 0 || r.unmapped {
		return nil
	}
	r.unmapped = true

	registry.mu.Lock()
	delete(registry.regions, r.path)
	registry.mu.Unlock()

	if err := unix.Munmap(r.data); err != nil {
		return fmt.Errorf("shm: munmap %s: %w", r.path, err)
	}
	return unix.Close(r.fd)
}

// Unlink removes the backing file. Called by the last offerer out
// (§4.3 StopOfferService step 3, §4.4 recovery step 3).
func Unlink(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
