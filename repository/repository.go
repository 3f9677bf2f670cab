// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on composefs_experiments
 * (src/bin/composefs-pivot-sysroot.rs)'s Repository::open_system /
 * pivot_sysroot calls, an experimental prototype this package's
 * collaborator interface is ported from. The repository's own storage
 * layout is a supplement: the original crate's repository.rs was not
 * among the retrieved files.
 */

// Package repository gives composefs's core something to read and
// write content through: a content-addressed object store, and the
// boot-time mechanism that switches the running system onto a
// composefs image.
package repository

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cfs-toolkit/composefs/fsverity"
)

// SystemRepositoryPath is the well-known location OpenSystem opens.
const SystemRepositoryPath = "/composefs"

// Repository is the storage collaborator composefs's core consumes: a
// content-addressed object sink/source, plus the boot-time operation of
// switching the running system onto an image it holds.
type Repository interface {
	// OpenObject returns a reader over the object identified by digest.
	OpenObject(digest fsverity.Digest) (io.ReadCloser, error)

	// InsertObject stores the bytes read from r and returns the digest
	// they hash to.
	InsertObject(r io.Reader) (fsverity.Digest, error)

	// PivotSysroot mounts the image identified by imageDigest and
	// switches the running system's root to it at sysroot.
	PivotSysroot(imageDigest fsverity.Digest, sysroot string) error
}

// ErrNotFound is returned by OpenObject when no object has the
// requested digest.
var ErrNotFound = errors.New("repository: object not found")

// DirRepository is a Repository backed by a plain directory tree:
// objects are stored at objects/<first two hex digits>/<remaining hex
// digits>, the same sharding convention used by git and OSTree object
// stores, to keep any one directory from holding too many entries.
type DirRepository struct {
	root string
}

// Open opens (without creating) the repository rooted at dir.
func Open(dir string) (*DirRepository, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("repository: opening %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository: %s is not a directory", dir)
	}
	return &DirRepository{root: dir}, nil
}

// OpenSystem opens the well-known system repository at
// SystemRepositoryPath, as a booted composefs system's init expects.
func OpenSystem() (*DirRepository, error) {
	return Open(SystemRepositoryPath)
}

// Init creates an empty repository at dir, including its objects
// subdirectory.
func Init(dir string) (*DirRepository, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0755); err != nil {
		return nil, fmt.Errorf("repository: initializing %s: %w", dir, err)
	}
	return &DirRepository{root: dir}, nil
}

func (r *DirRepository) objectPath(digest fsverity.Digest) string {
	hexDigest := digest.String()
	return filepath.Join(r.root, "objects", hexDigest[:2], hexDigest[2:])
}

// OpenObject implements Repository.
func (r *DirRepository) OpenObject(digest fsverity.Digest) (io.ReadCloser, error) {
	f, err := os.Open(r.objectPath(digest))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	if err != nil {
		return nil, fmt.Errorf("repository: opening object %s: %w", digest, err)
	}
	return f, nil
}

// InsertObject implements Repository. It streams r to a temporary file
// in the objects tree, hashing as it goes, then renames the file into
// place under the digest it computed — so a crash mid-write never
// leaves a partial object visible under a real digest.
func (r *DirRepository) InsertObject(src io.Reader) (fsverity.Digest, error) {
	tmp, err := os.CreateTemp(r.root, "insert-*")
	if err != nil {
		return fsverity.Digest{}, fmt.Errorf("repository: creating temp object: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), src); err != nil {
		return fsverity.Digest{}, fmt.Errorf("repository: writing object: %w", err)
	}

	var digest fsverity.Digest
	copy(digest[:], h.Sum(nil))

	dst := r.objectPath(digest)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fsverity.Digest{}, fmt.Errorf("repository: preparing object directory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fsverity.Digest{}, fmt.Errorf("repository: closing temp object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fsverity.Digest{}, fmt.Errorf("repository: finalizing object %s: %w", digest, err)
	}

	return digest, nil
}
