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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cfs-toolkit/composefs/erofs"
)

func TestDump(t *testing.T) {
	synth := newSyntheticImage()

	img, err := erofs.Open(synth.data)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, erofs.Dump(&out, img))

	rendered := out.String()
	require.Contains(t, rendered, "composefs header: magic=")
	require.Contains(t, rendered, "superblock: blocks=")
	require.Contains(t, rendered, "RegularFile")
	require.Contains(t, rendered, "Symlink")
	require.Contains(t, rendered, "Directory")
	require.Contains(t, rendered, `symlink target: "hello.txt"`)
	require.Contains(t, rendered, "hello.txt")
	require.Contains(t, rendered, "/link")
	require.Contains(t, rendered, "/sub")
}

// TestDumpDataBlockHexdump builds an image with one FlatPlain regular
// file backed by an out-of-line data block, and checks that Dump
// hexdumps that block rather than silently skipping it.
func TestDumpDataBlockHexdump(t *testing.T) {
	const blockSize = 4096
	const metaBlkAddr = 1
	const dataBlockAddr = 2

	rootOff := int64(metaBlkAddr) * blockSize
	fileContent := []byte("ABCDEFGHIJ")

	rootEntries := []direntSpec{
		{name: ".", fileType: erofs.FT_DIR},
		{name: "..", fileType: erofs.FT_DIR},
		{name: "data.bin", fileType: erofs.FT_REG_FILE},
	}
	rootDirents := buildDirentBlock(rootEntries)
	fileOff := align32(rootOff + 32 + int64(len(rootDirents)))

	totalLen := int64(dataBlockAddr+1) * blockSize
	img := make([]byte, totalLen)

	putAt(img, 0, erofs.ComposefsHeader{
		Magic:            erofs.ComposefsHeaderMagic,
		Version:          1,
		ComposefsVersion: 1,
	})

	putAt(img, erofs.SuperblockOffset, erofs.Superblock{
		Magic:       erofs.SuperblockMagic,
		BlkSzBits:   12,
		RootNid:     0,
		Inos:        2,
		BuildTime:   1700000000,
		Blocks:      uint32(totalLen / blockSize),
		MetaBlkAddr: metaBlkAddr,
		DirBlkBits:  12,
	})

	rootEntries[0].inodeOffset = rootOff
	rootEntries[1].inodeOffset = rootOff
	rootEntries[2].inodeOffset = fileOff
	rootDirents = buildDirentBlock(rootEntries)

	putAt(img, rootOff, erofs.CompactInodeHeader{
		Format: erofs.NewFormatField(erofs.InodeLayoutCompact, erofs.DataLayoutFlatInline),
		Mode:   erofs.S_IFDIR | 0o755,
		Nlink:  2,
		Size:   uint32(len(rootDirents)),
		Ino:    1,
	})
	copy(img[rootOff+32:], rootDirents)

	putAt(img, fileOff, erofs.CompactInodeHeader{
		Format: erofs.NewFormatField(erofs.InodeLayoutCompact, erofs.DataLayoutFlatPlain),
		Mode:   erofs.S_IFREG | 0o644,
		Nlink:  1,
		Size:   uint32(len(fileContent)),
		Ino:    2,
		U:      dataBlockAddr,
	})

	copy(img[dataBlockAddr*blockSize:], fileContent)

	opened, err := erofs.Open(img)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, erofs.Dump(&out, opened))

	rendered := out.String()
	require.Contains(t, rendered, "data block")
	require.Contains(t, rendered, "|ABCDEFGHIJ")
}
