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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cfs-toolkit/composefs/erofs"
)

// TestBlocksFlatPlainRoundsUp builds a minimal image with a FlatPlain
// regular file whose size isn't a multiple of the block size, and
// checks that its trailing partial block is still counted rather than
// floor-divided away.
func TestBlocksFlatPlainRoundsUp(t *testing.T) {
	const blockSize = 4096

	img := make([]byte, blockSize*3)

	putAt(img, 0, erofs.ComposefsHeader{
		Magic:            erofs.ComposefsHeaderMagic,
		Version:          1,
		ComposefsVersion: 1,
	})

	putAt(img, erofs.SuperblockOffset, erofs.Superblock{
		Magic:       erofs.SuperblockMagic,
		BlkSzBits:   12,
		RootNid:     0,
		Inos:        1,
		BuildTime:   1700000000,
		Blocks:      3,
		MetaBlkAddr: 1,
		DirBlkBits:  12,
	})

	const inoOff = blockSize // block 1
	const dataBlockAddr = 2  // block 2

	putAt(img, inoOff, erofs.CompactInodeHeader{
		Format: erofs.NewFormatField(erofs.InodeLayoutCompact, erofs.DataLayoutFlatPlain),
		Mode:   erofs.S_IFREG | 0o644,
		Nlink:  1,
		Size:   10, // not a multiple of blockSize
		Ino:    1,
		U:      dataBlockAddr,
	})

	opened, err := erofs.Open(img)
	require.NoError(t, err)

	ino, err := opened.InodeAt(inoOff)
	require.NoError(t, err)

	blocks, err := ino.Blocks(opened.BlkSzBits())
	require.NoError(t, err)
	require.Equal(t, []uint64{dataBlockAddr}, blocks)
}

// TestBlocksFlatPlainExactMultiple checks the common case: an exact
// multiple of the block size yields exactly that many blocks, with no
// off-by-one from the rounding fix.
func TestBlocksFlatPlainExactMultiple(t *testing.T) {
	const blockSize = 4096

	img := make([]byte, blockSize*4)

	putAt(img, 0, erofs.ComposefsHeader{
		Magic:            erofs.ComposefsHeaderMagic,
		Version:          1,
		ComposefsVersion: 1,
	})

	putAt(img, erofs.SuperblockOffset, erofs.Superblock{
		Magic:       erofs.SuperblockMagic,
		BlkSzBits:   12,
		RootNid:     0,
		Inos:        1,
		BuildTime:   1700000000,
		Blocks:      4,
		MetaBlkAddr: 1,
		DirBlkBits:  12,
	})

	const inoOff = blockSize
	const dataBlockAddr = 2

	putAt(img, inoOff, erofs.CompactInodeHeader{
		Format: erofs.NewFormatField(erofs.InodeLayoutCompact, erofs.DataLayoutFlatPlain),
		Mode:   erofs.S_IFREG | 0o644,
		Nlink:  1,
		Size:   blockSize * 2,
		Ino:    1,
		U:      dataBlockAddr,
	})

	opened, err := erofs.Open(img)
	require.NoError(t, err)

	ino, err := opened.InodeAt(inoOff)
	require.NoError(t, err)

	blocks, err := ino.Blocks(opened.BlkSzBits())
	require.NoError(t, err)
	require.Equal(t, []uint64{dataBlockAddr, dataBlockAddr + 1}, blocks)
}
