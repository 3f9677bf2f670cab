// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on composefs_experiments
 * (src/image.rs)'s Directory/DirEnt/Inode, an experimental prototype
 * this package's in-memory model is ported from.
 */

package composefs

import (
	"errors"
	"sort"
)

// ErrNotDirectory is returned when an operation that requires a
// directory is applied to a path component that is a Leaf instead.
var ErrNotDirectory = errors.New("composefs: not a directory")

// ErrNotFound is returned when a named directory entry doesn't exist.
var ErrNotFound = errors.New("composefs: entry not found")

// ErrExists is returned when inserting a name that is already taken.
var ErrExists = errors.New("composefs: entry already exists")

// ErrIsDirectory is returned where a Leaf is required but the named
// entry is a Directory (e.g. hardlink targets must be leaves).
var ErrIsDirectory = errors.New("composefs: is a directory")

// Inode is either a *Directory or a *Leaf.
type Inode interface {
	isInode()
}

// DirEnt is one named entry in a Directory.
type DirEnt struct {
	Name  string
	Inode Inode
}

// Directory is an internal node: metadata plus entries sorted by name.
type Directory struct {
	Stat    Stat
	entries []DirEnt
}

func (*Directory) isInode() {}

// NewDirectory creates an empty directory with the given metadata.
func NewDirectory(stat Stat) *Directory {
	return &Directory{Stat: stat}
}

// Entries returns the directory's entries in sorted (name) order.
// Callers must not mutate the returned slice.
func (d *Directory) Entries() []DirEnt {
	return d.entries
}

func (d *Directory) find(name string) (int, bool) {
	i := sort.Search(len(d.entries), func(i int) bool {
		return d.entries[i].Name >= name
	})
	return i, i < len(d.entries) && d.entries[i].Name == name
}

// Get looks up a direct child by name.
func (d *Directory) Get(name string) (Inode, error) {
	i, ok := d.find(name)
	if !ok {
		return nil, ErrNotFound
	}
	return d.entries[i].Inode, nil
}

func (d *Directory) insert(name string, inode Inode) error {
	i, ok := d.find(name)
	if ok {
		return ErrExists
	}
	d.entries = append(d.entries, DirEnt{})
	copy(d.entries[i+1:], d.entries[i:])
	d.entries[i] = DirEnt{Name: name, Inode: inode}
	return nil
}

// Mkdir creates and inserts a new, empty subdirectory named name. If a
// directory already exists under that name, its Stat is replaced by
// stat and it is returned with its existing children intact — mkdir
// over an existing directory replaces its metadata, not the tree
// beneath it. A non-directory entry already at name is still an error.
func (d *Directory) Mkdir(name string, stat Stat) (*Directory, error) {
	if i, ok := d.find(name); ok {
		existing, isDir := d.entries[i].Inode.(*Directory)
		if !isDir {
			return nil, ErrExists
		}
		existing.Stat = stat
		return existing, nil
	}

	child := NewDirectory(stat)
	if err := d.insert(name, child); err != nil {
		return nil, err
	}
	return child, nil
}

// Insert adds a fresh Leaf under name, owning the only reference to it.
func (d *Directory) Insert(name string, leaf *Leaf) error {
	return d.insert(name, leaf)
}

// InsertExisting adds another name for an already-shared Leaf,
// incrementing its reference count — i.e. a hard link.
func (d *Directory) InsertExisting(name string, leaf *Leaf) error {
	if err := d.insert(name, leaf); err != nil {
		return err
	}
	leaf.AddRef()
	return nil
}

// GetForLink resolves name to a Leaf suitable as a hardlink target,
// failing if it names a Directory instead.
func (d *Directory) GetForLink(name string) (*Leaf, error) {
	inode, err := d.Get(name)
	if err != nil {
		return nil, err
	}
	leaf, ok := inode.(*Leaf)
	if !ok {
		return nil, ErrIsDirectory
	}
	return leaf, nil
}

// Remove deletes the named entry, decrementing its Leaf's reference
// count if applicable. Removing a name that is not present is a no-op.
func (d *Directory) Remove(name string) error {
	i, ok := d.find(name)
	if !ok {
		return nil
	}
	if leaf, ok := d.entries[i].Inode.(*Leaf); ok {
		leaf.DelRef()
	}
	d.entries = append(d.entries[:i], d.entries[i+1:]...)
	return nil
}
