// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on composefs_experiments
 * (src/erofs/debug.rs), an experimental prototype this package's dump
 * format is ported from.
 */

package erofs

import (
	"fmt"
	"io"
	"strings"
)

// Dump renders a deterministic, offset-ordered human-readable
// description of every region of img reachable from its root
// directory: inodes, xattrs, directory and data blocks, plus any
// padding gaps or overlaps between them.
func Dump(w io.Writer, img *Image) error {
	v := NewVisitor(img)
	if err := v.Walk(); err != nil {
		return fmt.Errorf("walking image: %w", err)
	}

	fmt.Fprintf(w, "composefs header: magic=%#x version=%d flags=%#x composefs_version=%d\n",
		img.header.Magic, img.header.Version, img.header.Flags, img.header.ComposefsVersion)
	fmt.Fprintf(w, "superblock: blocks=%d block_size=%d root_nid=%d meta_blkaddr=%d xattr_blkaddr=%d\n\n",
		img.sb.Blocks, img.BlockSize(), img.sb.RootNid, img.sb.MetaBlkAddr, img.sb.XattrBlkAddr)

	segments := v.Segments()

	cursor := int64(0)
	for _, seg := range segments {
		if seg.Offset > cursor {
			if err := dumpGap(w, img, cursor, seg.Offset); err != nil {
				return err
			}
		} else if seg.Offset < cursor {
			fmt.Fprintf(w, "!!! overlap: segment at %#x begins before previous segment ended at %#x\n", seg.Offset, cursor)
		}

		if err := dumpSegment(w, img, seg); err != nil {
			return fmt.Errorf("segment at %#x: %w", seg.Offset, err)
		}

		end := seg.Offset + seg.Size
		if end > cursor {
			cursor = end
		}
	}

	if cursor < int64(len(img.data)) {
		fmt.Fprintf(w, "\n+%#x: %d trailing bytes after last segment\n", cursor, int64(len(img.data))-cursor)
	}

	return nil
}

func dumpGap(w io.Writer, img *Image, start, end int64) error {
	gap, err := img.bytesAt(start, end-start)
	if err != nil {
		return err
	}
	if allZero(gap) {
		fmt.Fprintf(w, "+%#x: %d bytes of padding\n", start, len(gap))
		return nil
	}
	fmt.Fprintf(w, "+%#x: %d bytes of non-zero padding\n", start, len(gap))
	hexdump(w, gap, start)
	return nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func dumpSegment(w io.Writer, img *Image, seg *Segment) error {
	fmt.Fprintf(w, "+%#x (%d bytes) %s", seg.Offset, seg.Size, seg.Kind)
	if len(seg.Paths) > 0 {
		fmt.Fprintf(w, " %s", strings.Join(seg.Paths, ", "))
	}
	fmt.Fprintln(w)

	switch seg.Kind {
	case SegmentInode:
		ino, err := img.InodeAt(seg.Offset)
		if err != nil {
			return err
		}
		return dumpInode(w, img, ino)
	case SegmentSharedXAttr:
		xattr, _, err := img.xattrAt(seg.Offset)
		if err != nil {
			return err
		}
		dumpXAttr(w, xattr)
		return nil
	case SegmentDirectoryBlock:
		block, err := img.bytesAt(seg.Offset, seg.Size)
		if err != nil {
			return err
		}
		return dumpDirectoryBlock(w, block)
	case SegmentDataBlock:
		block, err := img.bytesAt(seg.Offset, seg.Size)
		if err != nil {
			return err
		}
		hexdump(w, block, seg.Offset)
		return nil
	default:
		return fmt.Errorf("erofs: unknown segment kind %v", seg.Kind)
	}
}

func dumpInode(w io.Writer, img *Image, ino *Inode) error {
	if ino.format != DefaultFormatField {
		fmt.Fprintf(w, "  format: %s\n", ino.format)
	}
	fmt.Fprintf(w, "  mode: %#o (%s)\n", ino.mode, FileTypeName(fileTypeFromMode(ino.mode)))
	if ino.nlink != 1 {
		fmt.Fprintf(w, "  nlink: %d\n", ino.nlink)
	}
	fmt.Fprintf(w, "  size: %d\n", ino.size)
	fmt.Fprintf(w, "  uid: %d gid: %d\n", ino.uid, ino.gid)
	if ino.mtime != 0 {
		fmt.Fprintf(w, "  mtime: %d\n", ino.mtime)
	}

	xattrs, err := ino.XAttrs()
	if err != nil {
		return err
	}
	if xattrs != nil {
		fmt.Fprintf(w, "  xattrs: name_filter=%#x shared=%v\n", xattrs.NameFilter, xattrs.Shared)
		for _, x := range xattrs.Local {
			dumpXAttr(w, x)
		}
	}

	if ino.mode&S_IFMT == S_IFLNK {
		inline, err := ino.Inline()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  symlink target: %q\n", string(inline))
	}

	return nil
}

func dumpXAttr(w io.Writer, x XAttr) {
	fmt.Fprintf(w, "  xattr %q = %q\n", string(x.Name), string(x.Value))
}

func dumpDirectoryBlock(w io.Writer, block []byte) error {
	entries, err := DirectoryEntries(block)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		fmt.Fprintf(w, "  %s %q -> +%#x\n", FileTypeName(ent.FileType), string(ent.Name), ent.InodeOffset)
	}
	return nil
}

// fileTypeFromMode derives the on-disk FT_* constant from a decoded
// POSIX mode_t, for display purposes only — the authoritative file type
// for a directory entry is its DirectoryEntryHeader.FileType field.
func fileTypeFromMode(mode uint16) uint8 {
	switch mode & S_IFMT {
	case S_IFDIR:
		return FT_DIR
	case S_IFLNK:
		return FT_SYMLINK
	case S_IFBLK:
		return FT_BLKDEV
	case S_IFCHR:
		return FT_CHRDEV
	case S_IFIFO:
		return FT_FIFO
	case S_IFSOCK:
		return FT_SOCK
	default:
		return FT_REG_FILE
	}
}

// hexdump renders data 16 bytes per row, each row prefixed with its
// offset (base plus the row's position within data) and followed by an
// ASCII gutter, in a layout modelled on hexdump -C.
func hexdump(w io.Writer, data []byte, base int64) {
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		row := data[off:end]

		fmt.Fprintf(w, "    +%04x  ", base+int64(off))
		for i := 0; i < 16; i++ {
			if i < len(row) {
				fmt.Fprintf(w, "%02x ", row[i])
			} else {
				fmt.Fprint(w, "   ")
			}
			if i == 7 {
				fmt.Fprint(w, " ")
			}
		}

		fmt.Fprint(w, " |")
		for _, c := range row {
			if c >= 0x20 && c < 0x7f {
				fmt.Fprintf(w, "%c", c)
			} else {
				fmt.Fprint(w, ".")
			}
		}
		fmt.Fprintln(w, "|")
	}
}
