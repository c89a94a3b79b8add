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
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by TryLock* when the lock is already held
// elsewhere. It signals "no live peer" is not yet established, not a
// failure (§3 "Lock file").
var ErrWouldBlock = errors.New("shm: lock would block")

// LockFile is one OS-level file used purely as an advisory-lock anchor;
// its presence plus lock state encodes a service instance's liveness
// (§3 GLOSSARY "Lock file", §4.3 Offer/StopOffer). Recursion is not
// permitted: a LockFile must not be locked twice by the same owner.
type LockFile struct {
	path string
	fd   int
}

// OpenLockFile opens (creating if necessary) the lock file at path. The
// file's own contents are never read or written; only its fd is used for
// flock.
func OpenLockFile(path string) (*LockFile, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shm: open lock file %s: %w", path, err)
	}
	return &LockFile{path: path, fd: fd}, nil
}

// TryLockExclusive attempts a non-blocking exclusive flock. Failure with
// ErrWouldBlock means another process (or this one, elsewhere) holds the
// lock, i.e. "a live peer exists" (§4.3 step 1).
func (l *LockFile) TryLockExclusive() error {
	return l.flock(unix.LOCK_EX | unix.LOCK_NB)
}

// LockShared takes a blocking shared flock, retained for the service's
// lifetime so peers can detect "alive offer" via TryLockExclusive
// (§4.3 step 3).
func (l *LockFile) LockShared() error {
	return l.flock(unix.LOCK_SH)
}

func (l *LockFile) flock(how int) error {
	err := unix.Flock(l.fd, how)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
		return ErrWouldBlock
	}
	return fmt.Errorf("shm: flock %s: %w", l.path, err)
}

// Unlock releases whatever lock this file currently holds.
func (l *LockFile) Unlock() error {
	if err := unix.Flock(l.fd, unix.LOCK_UN); err != nil {
		return fmt.Errorf("shm: unlock %s: %w", l.path, err)
	}
	return nil
}

// Close releases the underlying file descriptor. It does not remove the
// file: the lock file persists so later processes can still flock it
// (§3 "Lock file").
func (l *LockFile) Close() error {
	if l.fd < 0 {
		return nil
	}
	err := unix.Close(l.fd)
	l.fd = -1
	return err
}

// Remove deletes the lock file from the filesystem. Used only by
// StopOfferService's discovery-marker removal (§4.3 step 1), on the same
// discovery lock file path that Publish locks. A missing file is not an
// error.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
