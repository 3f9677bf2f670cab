// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package erofs_test

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/cfs-toolkit/composefs/erofs"
)

const syntheticBlockSize = 4096

type direntSpec struct {
	name        string
	inodeOffset int64
	fileType    uint8
}

func buildDirentBlock(entries []direntSpec) []byte {
	sorted := make([]direntSpec, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		rank := func(name string) int {
			switch name {
			case ".":
				return 0
			case "..":
				return 1
			default:
				return 2
			}
		}
		ri, rj := rank(sorted[i].name), rank(sorted[j].name)
		if ri != rj {
			return ri < rj
		}
		return sorted[i].name < sorted[j].name
	})

	headerBytes := len(sorted) * erofs.DirentSize
	var names bytes.Buffer
	var out bytes.Buffer

	nameOffset := headerBytes
	for _, e := range sorted {
		hdr := erofs.DirectoryEntryHeader{
			InodeOffset: uint64(e.inodeOffset),
			NameOffset:  uint16(nameOffset),
			FileType:    e.fileType,
		}
		_ = binary.Write(&out, binary.LittleEndian, hdr)
		names.WriteString(e.name)
		nameOffset += len(e.name)
	}

	out.Write(names.Bytes())
	return out.Bytes()
}

func align32(off int64) int64 {
	return (off + 31) &^ 31
}

func putAt(img []byte, off int64, v any) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	copy(img[off:], buf.Bytes())
}

// syntheticImage is the decoded layout of newSyntheticImage, so tests can
// assert against the exact offsets and sizes used to build it.
type syntheticImage struct {
	data []byte

	rootOff, helloOff, linkOff, subOff int64
	helloData, linkTarget              []byte
}

// newSyntheticImage hand-builds a tiny composefs image, entirely with
// FlatInline inodes (no out-of-line data blocks), laid out as:
//
//	/ (dir)
//	├── hello.txt (regular file, "hello world!")
//	├── link -> hello.txt (symlink)
//	└── sub/ (empty directory)
func newSyntheticImage() *syntheticImage {
	const metaBlkAddr = 1
	metaOffset := int64(metaBlkAddr) * syntheticBlockSize

	rootOff := metaOffset

	helloData := []byte("hello world!")
	linkTarget := []byte("hello.txt")

	rootEntries := []direntSpec{
		{name: ".", fileType: erofs.FT_DIR},
		{name: "..", fileType: erofs.FT_DIR},
		{name: "hello.txt", fileType: erofs.FT_REG_FILE},
		{name: "link", fileType: erofs.FT_SYMLINK},
		{name: "sub", fileType: erofs.FT_DIR},
	}
	subEntries := []direntSpec{
		{name: ".", fileType: erofs.FT_DIR},
		{name: "..", fileType: erofs.FT_DIR},
	}

	rootDirents := buildDirentBlock(rootEntries) // sizes only; offsets filled below
	helloOff := align32(rootOff + 32 + int64(len(rootDirents)))
	linkOff := align32(helloOff + 32 + int64(len(helloData)))
	subOff := align32(linkOff + 32 + int64(len(linkTarget)))
	subDirents := buildDirentBlock(subEntries)
	end := align32(subOff + 32 + int64(len(subDirents)))

	totalLen := ((end + syntheticBlockSize - 1) / syntheticBlockSize) * syntheticBlockSize
	img := make([]byte, totalLen)

	putAt(img, 0, erofs.ComposefsHeader{
		Magic:            erofs.ComposefsHeaderMagic,
		Version:          1,
		ComposefsVersion: 1,
	})

	putAt(img, erofs.SuperblockOffset, erofs.Superblock{
		Magic:       erofs.SuperblockMagic,
		BlkSzBits:   12,
		RootNid:     0, // NidToOffset(0) == metaOffset == rootOff
		Inos:        4,
		BuildTime:   1700000000,
		Blocks:      uint32(totalLen / syntheticBlockSize),
		MetaBlkAddr: metaBlkAddr,
		DirBlkBits:  12,
	})

	// Now that every inode's offset is known, re-render each directory's
	// dirents with real InodeOffset values and place everything.
	rootEntries[0].inodeOffset = rootOff
	rootEntries[1].inodeOffset = rootOff
	rootEntries[2].inodeOffset = helloOff
	rootEntries[3].inodeOffset = linkOff
	rootEntries[4].inodeOffset = subOff
	rootDirents = buildDirentBlock(rootEntries)

	subEntries[0].inodeOffset = subOff
	subEntries[1].inodeOffset = rootOff
	subDirents = buildDirentBlock(subEntries)

	putAt(img, rootOff, erofs.CompactInodeHeader{
		Format: erofs.NewFormatField(erofs.InodeLayoutCompact, erofs.DataLayoutFlatInline),
		Mode:   erofs.S_IFDIR | 0o755,
		Nlink:  3,
		Size:   uint32(len(rootDirents)),
		Ino:    1,
	})
	copy(img[rootOff+32:], rootDirents)

	putAt(img, helloOff, erofs.CompactInodeHeader{
		Format: erofs.NewFormatField(erofs.InodeLayoutCompact, erofs.DataLayoutFlatInline),
		Mode:   erofs.S_IFREG | 0o644,
		Nlink:  1,
		Size:   uint32(len(helloData)),
		Ino:    2,
	})
	copy(img[helloOff+32:], helloData)

	putAt(img, linkOff, erofs.CompactInodeHeader{
		Format: erofs.NewFormatField(erofs.InodeLayoutCompact, erofs.DataLayoutFlatInline),
		Mode:   erofs.S_IFLNK | 0o777,
		Nlink:  1,
		Size:   uint32(len(linkTarget)),
		Ino:    3,
	})
	copy(img[linkOff+32:], linkTarget)

	putAt(img, subOff, erofs.CompactInodeHeader{
		Format: erofs.NewFormatField(erofs.InodeLayoutCompact, erofs.DataLayoutFlatInline),
		Mode:   erofs.S_IFDIR | 0o755,
		Nlink:  2,
		Size:   uint32(len(subDirents)),
		Ino:    4,
	})
	copy(img[subOff+32:], subDirents)

	return &syntheticImage{
		data:       img,
		rootOff:    rootOff,
		helloOff:   helloOff,
		linkOff:    linkOff,
		subOff:     subOff,
		helloData:  helloData,
		linkTarget: linkTarget,
	}
}
