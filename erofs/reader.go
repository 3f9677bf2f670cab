// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on code originally from: github.com/google/gvisor
 *
 * Copyright 2023 The gVisor Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package erofs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrBadMagic is returned by Open when the composefs header or the
// superblock magic doesn't match.
var ErrBadMagic = errors.New("erofs: bad magic")

// ErrTruncatedImage is returned whenever a typed view would extend past
// the end of the image.
var ErrTruncatedImage = errors.New("erofs: truncated image")

// Image is a read-only, borrowed view over a composefs image held
// entirely in memory. It never mutates the underlying bytes and keeps
// no interior mutable state, so one Image may safely be shared by
// multiple goroutines.
type Image struct {
	data   []byte
	header ComposefsHeader
	sb     Superblock
}

// Open validates the composefs header and EROFS superblock embedded in
// data and returns typed handles onto them. data is retained by
// reference, not copied.
func Open(data []byte) (*Image, error) {
	img := &Image{data: data}

	if err := img.readStruct(0, &img.header); err != nil {
		return nil, fmt.Errorf("reading composefs header: %w", err)
	}
	if img.header.Magic != ComposefsHeaderMagic {
		return nil, fmt.Errorf("%w: header magic %#x", ErrBadMagic, img.header.Magic)
	}

	if err := img.readStruct(SuperblockOffset, &img.sb); err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	if img.sb.Magic != SuperblockMagic {
		return nil, fmt.Errorf("%w: superblock magic %#x", ErrBadMagic, img.sb.Magic)
	}

	return img, nil
}

// Header returns a copy of the composefs header.
func (img *Image) Header() ComposefsHeader { return img.header }

// Superblock returns a copy of the EROFS superblock.
func (img *Image) Superblock() Superblock { return img.sb }

// Bytes returns the whole underlying image. Callers must not mutate it.
func (img *Image) Bytes() []byte { return img.data }

// BlkSzBits exposes the block size bit-shift so walkers can enumerate
// blocks without reaching into the superblock directly.
func (img *Image) BlkSzBits() uint8 { return img.sb.BlkSzBits }

// BlockSize returns the image's block size in bytes.
func (img *Image) BlockSize() uint32 { return img.sb.BlockSize() }

// RootNid returns the root directory's inode number.
func (img *Image) RootNid() uint64 { return uint64(img.sb.RootNid) }

func (img *Image) bytesAt(off, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off > int64(len(img.data)) || n > int64(len(img.data))-off {
		return nil, fmt.Errorf("%w: range [%d, %d) outside image of length %d", ErrTruncatedImage, off, off+n, len(img.data))
	}
	return img.data[off : off+n], nil
}

func (img *Image) readStruct(off int64, v any) error {
	size := int64(binary.Size(v))
	buf, err := img.bytesAt(off, size)
	if err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, v)
}

// Inode is a decoded view over a compact or extended on-disk inode,
// normalized to a single capability surface regardless of layout.
type Inode struct {
	img *Image

	// off is this inode's absolute byte offset within the image.
	off int64
	// headerSize is 32 for a compact inode, 64 for an extended one.
	headerSize int64

	format FormatField
	mode   uint16
	nlink  uint32
	size   uint64
	uid    uint32
	gid    uint32
	mtime  int64

	xattrIcount uint16

	// dataOff is the byte offset of the first out-of-line data block,
	// valid when DataLayout is FlatPlain or FlatInline.
	dataOff int64
}

// Offset returns the inode's absolute byte offset within the image —
// the value a DirectoryEntryHeader.InodeOffset field (or, for the root,
// Superblock.RootNid converted via NidToOffset) addresses.
func (ino *Inode) Offset() int64 { return ino.off }

// Size returns the inode's size, in bytes.
func (ino *Inode) Size() uint64 { return ino.size }

// Mode returns the POSIX mode_t value (type bits + permissions).
func (ino *Inode) Mode() uint16 { return ino.mode }

// Nlink returns the hard link count.
func (ino *Inode) Nlink() uint32 { return ino.nlink }

// UID returns the owning user id.
func (ino *Inode) UID() uint32 { return ino.uid }

// GID returns the owning group id.
func (ino *Inode) GID() uint32 { return ino.gid }

// Mtime returns the modification time in seconds. Compact inodes don't
// carry their own timestamp and inherit the superblock's build time.
func (ino *Inode) Mtime() int64 { return ino.mtime }

// Layout returns the InodeLayout (Compact or Extended) of this inode.
func (ino *Inode) Layout() uint16 { return ino.format.Layout() }

// DataLayout returns the DataLayout of this inode.
func (ino *Inode) DataLayout() (uint16, error) { return ino.format.DataLayout() }

func (ino *Inode) headerLen() int64 { return ino.headerSize }

// xattrLen returns the span of bytes this inode's xattr trailer
// (InodeXAttrHeader + shared ids + inline xattrs) occupies, zero when
// xattr_icount is zero.
func (ino *Inode) xattrLen() int64 {
	if ino.xattrIcount == 0 {
		return 0
	}
	return InodeXAttrHeaderSize + int64(ino.xattrIcount-1)*4
}

// inlineLen returns the span of trailing inline-fragment bytes this
// inode carries: the tail of size mod block_size bytes for a
// FlatInline file, or zero for a whole-block-multiple size.
func (ino *Inode) inlineLen() (int64, error) {
	dataLayout, err := ino.DataLayout()
	if err != nil {
		return 0, err
	}
	if dataLayout != DataLayoutFlatInline {
		return 0, nil
	}
	blockSize := int64(ino.img.BlockSize())
	return int64(ino.size) % blockSize, nil
}

// InodeAt decodes the inode whose on-disk header begins at the absolute
// byte offset off. Every non-root directory entry addresses its target
// this way; only the root inode is normally reached via the
// slot-indexed convenience Inode(nid).
func (img *Image) InodeAt(off int64) (*Inode, error) {
	formatBuf, err := img.bytesAt(off, 2)
	if err != nil {
		return nil, fmt.Errorf("reading inode format at %#x: %w", off, err)
	}
	format := FormatField(binary.LittleEndian.Uint16(formatBuf))

	ino := &Inode{img: img, off: off, format: format}

	switch format.Layout() {
	case InodeLayoutCompact:
		var hdr CompactInodeHeader
		if err := img.readStruct(off, &hdr); err != nil {
			return nil, fmt.Errorf("reading compact inode at %#x: %w", off, err)
		}
		ino.headerSize = InodeSlotSize
		ino.mode = hdr.Mode
		ino.nlink = uint32(hdr.Nlink)
		ino.size = uint64(hdr.Size)
		ino.uid = uint32(hdr.UID)
		ino.gid = uint32(hdr.GID)
		ino.mtime = int64(img.sb.BuildTime)
		ino.xattrIcount = hdr.XattrCount
		ino.dataOff = img.sb.BlockAddrToOffset(hdr.U)

	case InodeLayoutExtended:
		var hdr ExtendedInodeHeader
		if err := img.readStruct(off, &hdr); err != nil {
			return nil, fmt.Errorf("reading extended inode at %#x: %w", off, err)
		}
		ino.headerSize = 2 * InodeSlotSize
		ino.mode = hdr.Mode
		ino.nlink = hdr.Nlink
		ino.size = hdr.Size
		ino.uid = hdr.UID
		ino.gid = hdr.GID
		ino.mtime = int64(hdr.Mtime)
		ino.xattrIcount = hdr.XattrCount
		ino.dataOff = img.sb.BlockAddrToOffset(hdr.U)

	default:
		return nil, fmt.Errorf("%w: unrecognized inode layout %d at %#x", ErrInvalidDataLayout, format.Layout(), off)
	}

	if _, err := ino.DataLayout(); err != nil {
		return nil, fmt.Errorf("inode at %#x: %w", off, err)
	}

	return ino, nil
}

// Inode decodes the inode identified by the slot index nid, converting
// it to a byte offset via Superblock.NidToOffset first. This is used
// for the root inode (whose nid is all the superblock gives us) and in
// tests; every other inode reference in an image is an absolute offset
// reached through InodeAt.
func (img *Image) Inode(nid uint64) (*Inode, error) {
	return img.InodeAt(img.sb.NidToOffset(nid))
}

// XAttr is a single decoded extended-attribute record.
type XAttr struct {
	NameIndex uint8
	Name      []byte // full name: XAttrPrefixes[NameIndex] + suffix
	Value     []byte
}

// xattrAt decodes one XAttrHeader + suffix + value record starting at
// off, returning it along with the total span it occupies, padded to a
// 4-byte boundary.
func (img *Image) xattrAt(off int64) (XAttr, int64, error) {
	var hdr XAttrHeader
	if err := img.readStruct(off, &hdr); err != nil {
		return XAttr{}, 0, fmt.Errorf("reading xattr header at %#x: %w", off, err)
	}

	suffix, err := img.bytesAt(off+XAttrHeaderSize, int64(hdr.NameLen))
	if err != nil {
		return XAttr{}, 0, fmt.Errorf("reading xattr suffix at %#x: %w", off, err)
	}
	value, err := img.bytesAt(off+XAttrHeaderSize+int64(hdr.NameLen), int64(hdr.ValueSize))
	if err != nil {
		return XAttr{}, 0, fmt.Errorf("reading xattr value at %#x: %w", off, err)
	}

	if int(hdr.NameIndex) >= len(XAttrPrefixes) {
		return XAttr{}, 0, fmt.Errorf("erofs: xattr name_index %d out of range at %#x", hdr.NameIndex, off)
	}
	prefix := XAttrPrefixes[hdr.NameIndex]

	name := make([]byte, 0, len(prefix)+len(suffix))
	name = append(name, prefix...)
	name = append(name, suffix...)

	unpadded := int64(XAttrHeaderSize) + int64(hdr.NameLen) + int64(hdr.ValueSize)
	padded := roundUp4(unpadded)
	if _, err := img.bytesAt(off, padded); err != nil {
		return XAttr{}, 0, fmt.Errorf("reading padded xattr at %#x: %w", off, err)
	}

	return XAttr{NameIndex: hdr.NameIndex, Name: name, Value: value}, padded, nil
}

// SharedXAttr decodes the shared xattr identified by id: a 4-byte-unit
// index into the shared xattr region rooted at Superblock.XattrBlkAddr.
func (img *Image) SharedXAttr(id uint32) (XAttr, error) {
	off := img.sb.XattrOffset() + int64(id)*4
	xattr, _, err := img.xattrAt(off)
	return xattr, err
}

// InodeXAttrs is the decoded xattr trailer of one inode: a header, the
// ids of any shared xattrs it references, and any local xattrs that
// follow.
type InodeXAttrs struct {
	NameFilter uint32
	Shared     []uint32
	Local      []XAttr
}

// XAttrs decodes ino's xattr trailer, or returns (nil, nil) if the inode
// carries none.
func (ino *Inode) XAttrs() (*InodeXAttrs, error) {
	if ino.xattrIcount == 0 {
		return nil, nil
	}

	base := ino.off + ino.headerLen()

	var hdr InodeXAttrHeader
	if err := ino.img.readStruct(base, &hdr); err != nil {
		return nil, fmt.Errorf("reading inode xattr header at %#x: %w", base, err)
	}

	shared := make([]uint32, hdr.SharedCount)
	sharedOff := base + InodeXAttrHeaderSize
	for i := range shared {
		buf, err := ino.img.bytesAt(sharedOff+int64(i)*4, 4)
		if err != nil {
			return nil, fmt.Errorf("reading shared xattr id at %#x: %w", sharedOff+int64(i)*4, err)
		}
		shared[i] = binary.LittleEndian.Uint32(buf)
	}

	end := base + ino.xattrLen()
	cur := sharedOff + int64(hdr.SharedCount)*4

	var local []XAttr
	for cur < end {
		xattr, span, err := ino.img.xattrAt(cur)
		if err != nil {
			return nil, err
		}
		local = append(local, xattr)
		cur += span
	}

	return &InodeXAttrs{NameFilter: hdr.NameFilter, Shared: shared, Local: local}, nil
}

// Inline returns the inode's trailing inline-fragment bytes: file tail
// data for a FlatInline regular file, or the final directory entries for
// a FlatInline directory. It is empty unless DataLayout is FlatInline.
func (ino *Inode) Inline() ([]byte, error) {
	inlineLen, err := ino.inlineLen()
	if err != nil {
		return nil, err
	}
	if inlineLen == 0 {
		return nil, nil
	}
	off := ino.off + ino.headerLen() + ino.xattrLen()
	return ino.img.bytesAt(off, inlineLen)
}

// Blocks returns the absolute block numbers of this inode's whole
// out-of-line data blocks. For FlatInline, the trailing partial block
// (if any) is excluded here and reached instead via Inline.
func (ino *Inode) Blocks(blkszbits uint8) ([]uint64, error) {
	dataLayout, err := ino.DataLayout()
	if err != nil {
		return nil, err
	}
	if dataLayout == DataLayoutChunkBased {
		return nil, fmt.Errorf("erofs: chunk-based data layout is not supported")
	}

	blockSize := int64(1) << blkszbits
	wholeBytes := int64(ino.size)
	if dataLayout == DataLayoutFlatInline {
		wholeBytes -= wholeBytes % blockSize
	}

	nblocks := (wholeBytes + blockSize - 1) / blockSize
	if nblocks == 0 {
		return nil, nil
	}

	startBlock := ino.dataOff / blockSize
	blocks := make([]uint64, nblocks)
	for i := range blocks {
		blocks[i] = uint64(startBlock) + uint64(i)
	}
	return blocks, nil
}

// DirectoryBlock returns the block-size bytes of the directory block at
// the absolute block number blockNo.
func (img *Image) DirectoryBlock(blockNo uint64) ([]byte, error) {
	return img.bytesAt(int64(blockNo)*int64(img.BlockSize()), int64(img.BlockSize()))
}

// DataBlock returns the block-size bytes of the data block at the
// absolute block number blockNo.
func (img *Image) DataBlock(blockNo uint64) ([]byte, error) {
	return img.bytesAt(int64(blockNo)*int64(img.BlockSize()), int64(img.BlockSize()))
}

// DirectoryEntry is one decoded entry from a directory block: the fixed
// header plus its resolved name.
type DirectoryEntry struct {
	InodeOffset uint64
	FileType    uint8
	Name        []byte
}

// DirectoryEntries decodes every DirectoryEntryHeader in a single
// directory block, resolving each entry's variable-length name from the
// next entry's name_offset (or, for the last entry, the end of the
// block's used bytes: trailing zero padding is not part of the name).
func DirectoryEntries(block []byte) ([]DirectoryEntry, error) {
	if len(block) < DirentSize {
		return nil, nil
	}

	var first DirectoryEntryHeader
	if err := binary.Read(bytes.NewReader(block[:DirentSize]), binary.LittleEndian, &first); err != nil {
		return nil, fmt.Errorf("reading first dirent: %w", err)
	}
	if first.NameOffset < DirentSize || int(first.NameOffset) > len(block) {
		return nil, fmt.Errorf("erofs: invalid dirent name offset %d", first.NameOffset)
	}
	count := int(first.NameOffset) / DirentSize

	headers := make([]DirectoryEntryHeader, count)
	headers[0] = first
	for i := 1; i < count; i++ {
		off := i * DirentSize
		if err := binary.Read(bytes.NewReader(block[off:off+DirentSize]), binary.LittleEndian, &headers[i]); err != nil {
			return nil, fmt.Errorf("reading dirent %d: %w", i, err)
		}
	}

	entries := make([]DirectoryEntry, count)
	for i, h := range headers {
		start := int(h.NameOffset)
		end := len(block)
		if i+1 < count {
			end = int(headers[i+1].NameOffset)
		} else {
			for end > start && block[end-1] == 0 {
				end--
			}
		}
		if start < 0 || end > len(block) || end < start {
			return nil, fmt.Errorf("erofs: invalid dirent name span [%d, %d)", start, end)
		}
		entries[i] = DirectoryEntry{
			InodeOffset: h.InodeOffset,
			FileType:    h.FileType,
			Name:        block[start:end],
		}
	}

	return entries, nil
}
