// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on composefs_experiments
 * (src/erofs/debug.rs)'s ImageVisitor, an experimental prototype this
 * package's traversal algorithm is ported from.
 */

package erofs

import (
	"fmt"
	"path"

	"github.com/google/btree"
)

// SegmentKind classifies one addressed region of an image.
type SegmentKind int

const (
	SegmentInode SegmentKind = iota
	SegmentSharedXAttr
	SegmentDirectoryBlock
	SegmentDataBlock
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentInode:
		return "inode"
	case SegmentSharedXAttr:
		return "shared xattr"
	case SegmentDirectoryBlock:
		return "directory block"
	case SegmentDataBlock:
		return "data block"
	default:
		return "unknown"
	}
}

// Segment is one region of an image that a Visitor has walked:
// a byte range, what kind of thing lives there, and (for inodes) every
// path that reaches it — more than one path means a hard link.
type Segment struct {
	Kind   SegmentKind
	Offset int64
	Size   int64
	Paths  []string
}

func segmentLess(a, b *Segment) bool { return a.Offset < b.Offset }

// Visitor walks every region of an image reachable from the root
// directory, recording each one exactly once, keyed by its byte offset.
// Visiting a second path to an already-recorded inode appends that path
// instead of recursing again — this is how hard links are discovered
// and how cycles (should a corrupt image contain one) are bounded.
type Visitor struct {
	img      *Image
	segments *btree.BTreeG[*Segment]
}

// NewVisitor creates a Visitor over img. Call Walk to populate it.
func NewVisitor(img *Image) *Visitor {
	return &Visitor{
		img:      img,
		segments: btree.NewG(32, segmentLess),
	}
}

// Segments returns every recorded segment in ascending offset order.
func (v *Visitor) Segments() []*Segment {
	var out []*Segment
	v.segments.Ascend(func(s *Segment) bool {
		out = append(out, s)
		return true
	})
	return out
}

// note records (or, if already present, cross-checks and extends) the
// segment at off. Returns whether this is the first time off has been
// seen — callers use that to decide whether to recurse into it.
func (v *Visitor) note(kind SegmentKind, off, size int64, pathLabel string) (*Segment, bool, error) {
	if existing, ok := v.segments.Get(&Segment{Offset: off}); ok {
		if existing.Kind != kind || existing.Size != size {
			return nil, false, fmt.Errorf("erofs: conflicting segments at offset %#x: %s/%d vs %s/%d",
				off, existing.Kind, existing.Size, kind, size)
		}
		if pathLabel != "" {
			existing.Paths = append(existing.Paths, pathLabel)
		}
		return existing, false, nil
	}

	seg := &Segment{Kind: kind, Offset: off, Size: size}
	if pathLabel != "" {
		seg.Paths = append(seg.Paths, pathLabel)
	}
	v.segments.ReplaceOrInsert(seg)
	return seg, true, nil
}

// Walk records every segment reachable from the root directory.
func (v *Visitor) Walk() error {
	root, err := v.img.Inode(v.img.RootNid())
	if err != nil {
		return fmt.Errorf("resolving root inode: %w", err)
	}
	return v.visitInode(root, "/")
}

func (v *Visitor) visitInode(ino *Inode, pathLabel string) error {
	size, err := ino.viewLen()
	if err != nil {
		return fmt.Errorf("inode at %#x: %w", ino.Offset(), err)
	}

	_, first, err := v.note(SegmentInode, ino.Offset(), size, pathLabel)
	if err != nil {
		return err
	}
	if !first {
		// Already visited via another path: a hard link (or, for a
		// malformed image, a cycle). Either way don't recurse again.
		return nil
	}

	if err := v.visitXAttrs(ino); err != nil {
		return fmt.Errorf("inode at %#x: %w", ino.Offset(), err)
	}

	dataLayout, err := ino.DataLayout()
	if err != nil {
		return err
	}

	switch {
	case ino.Mode()&S_IFMT == S_IFDIR:
		return v.visitDirectory(ino, pathLabel)
	case dataLayout != DataLayoutChunkBased:
		return v.visitData(ino)
	default:
		return fmt.Errorf("erofs: chunk-based data layout is not supported")
	}
}

func (v *Visitor) visitXAttrs(ino *Inode) error {
	xattrs, err := ino.XAttrs()
	if err != nil {
		return fmt.Errorf("decoding xattrs: %w", err)
	}
	if xattrs == nil {
		return nil
	}
	for _, id := range xattrs.Shared {
		off := v.img.sb.XattrOffset() + int64(id)*4
		_, span, err := v.img.xattrAt(off)
		if err != nil {
			return fmt.Errorf("shared xattr %d: %w", id, err)
		}
		if _, _, err := v.note(SegmentSharedXAttr, off, span, ""); err != nil {
			return err
		}
	}
	return nil
}

func (v *Visitor) visitDirectory(ino *Inode, pathLabel string) error {
	blocks, err := ino.Blocks(v.img.BlkSzBits())
	if err != nil {
		return fmt.Errorf("directory blocks: %w", err)
	}

	for _, blockNo := range blocks {
		off := int64(blockNo) * int64(v.img.BlockSize())
		block, err := v.img.DirectoryBlock(blockNo)
		if err != nil {
			return err
		}
		if err := v.visitDirentBlock(block, off, pathLabel); err != nil {
			return err
		}
	}

	if inline, err := ino.Inline(); err != nil {
		return err
	} else if len(inline) > 0 {
		off := ino.Offset() + ino.headerLen() + ino.xattrLen()
		if err := v.visitDirentBlock(inline, off, pathLabel); err != nil {
			return err
		}
	}

	return nil
}

func (v *Visitor) visitDirentBlock(block []byte, off int64, pathLabel string) error {
	if _, _, err := v.note(SegmentDirectoryBlock, off, int64(len(block)), ""); err != nil {
		return err
	}

	entries, err := DirectoryEntries(block)
	if err != nil {
		return fmt.Errorf("directory block at %#x: %w", off, err)
	}

	for _, ent := range entries {
		name := string(ent.Name)
		if name == "." || name == ".." {
			continue
		}

		child, err := v.img.InodeAt(int64(ent.InodeOffset))
		if err != nil {
			return fmt.Errorf("resolving dirent %q: %w", name, err)
		}
		if err := v.visitInode(child, path.Join(pathLabel, name)); err != nil {
			return err
		}
	}

	return nil
}

func (v *Visitor) visitData(ino *Inode) error {
	blocks, err := ino.Blocks(v.img.BlkSzBits())
	if err != nil {
		return fmt.Errorf("data blocks: %w", err)
	}
	for _, blockNo := range blocks {
		off := int64(blockNo) * int64(v.img.BlockSize())
		if _, _, err := v.note(SegmentDataBlock, off, int64(v.img.BlockSize()), ""); err != nil {
			return err
		}
	}
	return nil
}

// viewLen returns the total number of bytes this inode's fixed-size
// on-disk view spans: header + xattr trailer + inline payload.
func (ino *Inode) viewLen() (int64, error) {
	inlineLen, err := ino.inlineLen()
	if err != nil {
		return 0, err
	}
	return ino.headerLen() + ino.xattrLen() + inlineLen, nil
}
