// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on composefs_experiments
 * (src/image.rs)'s LeafContent/Leaf, an experimental prototype this
 * package's in-memory model is ported from. The reference-counting
 * idiom on Leaf is based on github.com/KarpelesLab/squashfs's
 * Inode.AddRef/DelRef.
 */

package composefs

import (
	"sync/atomic"

	"github.com/cfs-toolkit/composefs/fsverity"
)

// LeafContent is the payload a non-directory node carries. Exactly one
// of the concrete types below implements it.
type LeafContent interface {
	isLeafContent()
}

// InlineFile is regular file content stored directly in the tree.
type InlineFile struct {
	Data []byte
}

// ExternalFile is regular file content that lives outside the tree,
// addressed by its fsverity digest in a content-addressed store.
type ExternalFile struct {
	Digest fsverity.Digest
	Size   uint64
}

// BlockDevice is a block special file.
type BlockDevice struct {
	Rdev uint64
}

// CharacterDevice is a character special file.
type CharacterDevice struct {
	Rdev uint64
}

// Fifo is a named pipe.
type Fifo struct{}

// Socket is a Unix domain socket.
type Socket struct{}

// Symlink is a symbolic link.
type Symlink struct {
	Target string
}

func (InlineFile) isLeafContent()      {}
func (ExternalFile) isLeafContent()    {}
func (BlockDevice) isLeafContent()     {}
func (CharacterDevice) isLeafContent() {}
func (Fifo) isLeafContent()            {}
func (Socket) isLeafContent()          {}
func (Symlink) isLeafContent()         {}

// Leaf is a shared, reference-counted non-directory node. Every
// Directory entry that names it holds one reference; the count is the
// node's hard link count.
type Leaf struct {
	Stat    Stat
	Content LeafContent

	refCount int32
}

// NewLeaf creates a Leaf with a single reference, as if it had just
// been inserted under one name.
func NewLeaf(stat Stat, content LeafContent) *Leaf {
	return &Leaf{Stat: stat, Content: content, refCount: 1}
}

// AddRef records an additional name referring to this leaf (a hard
// link) and returns the updated reference count.
func (l *Leaf) AddRef() int32 {
	return atomic.AddInt32(&l.refCount, 1)
}

// DelRef records that one name referring to this leaf has been removed
// and returns the updated reference count. A return of zero means no
// directory entry names this leaf any longer.
func (l *Leaf) DelRef() int32 {
	return atomic.AddInt32(&l.refCount, -1)
}

// Nlink returns the current reference count, i.e. the node's hard link
// count.
func (l *Leaf) Nlink() int32 {
	return atomic.LoadInt32(&l.refCount)
}

func (*Leaf) isInode() {}
