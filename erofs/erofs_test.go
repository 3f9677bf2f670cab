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
	"io"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cfs-toolkit/composefs/erofs"
)

func TestFS(t *testing.T) {
	synth := newSyntheticImage()

	img, err := erofs.Open(synth.data)
	require.NoError(t, err)

	fsys := erofs.NewFS(img)

	t.Run("Open", func(t *testing.T) {
		t.Run("File", func(t *testing.T) {
			f, err := fsys.Open("hello.txt")
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, f.Close()) })

			info, err := f.Stat()
			require.NoError(t, err)

			require.Equal(t, "hello.txt", info.Name())
			require.Equal(t, len(synth.helloData), int(info.Size()))
			require.Equal(t, fs.FileMode(0o644), info.Mode()&fs.ModePerm)
			require.False(t, info.IsDir())

			data, err := io.ReadAll(f)
			require.NoError(t, err)
			require.Equal(t, synth.helloData, data)
		})

		t.Run("SymlinkFollowsToTarget", func(t *testing.T) {
			f, err := fsys.Open("link")
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, f.Close()) })

			data, err := io.ReadAll(f)
			require.NoError(t, err)
			require.Equal(t, synth.helloData, data)
		})
	})

	t.Run("ReadDir", func(t *testing.T) {
		entries, err := fsys.ReadDir(".")
		require.NoError(t, err)
		require.Len(t, entries, 3)

		require.Equal(t, "hello.txt", entries[0].Name())
		require.False(t, entries[0].IsDir())

		require.Equal(t, "link", entries[1].Name())
		require.True(t, entries[1].Type()&fs.ModeSymlink != 0)

		require.Equal(t, "sub", entries[2].Name())
		require.True(t, entries[2].IsDir())
	})

	t.Run("Stat", func(t *testing.T) {
		info, err := fsys.Stat("sub")
		require.NoError(t, err)

		require.Equal(t, "sub", info.Name())
		require.True(t, info.IsDir())
		require.Equal(t, fs.FileMode(0o755), info.Mode()&fs.ModePerm)

		ino, ok := info.Sys().(*erofs.Inode)
		require.True(t, ok)
		require.Equal(t, synth.subOff, ino.Offset())
	})

	t.Run("ReadLink", func(t *testing.T) {
		target, err := fsys.ReadLink("link")
		require.NoError(t, err)
		require.Equal(t, string(synth.linkTarget), target)
	})

	t.Run("StatLink", func(t *testing.T) {
		info, err := fsys.StatLink("link")
		require.NoError(t, err)

		require.Equal(t, "link", info.Name())
		require.True(t, info.Mode()&fs.ModeSymlink != 0)
	})

	t.Run("WalkDir", func(t *testing.T) {
		var paths []string
		err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			paths = append(paths, path)
			return nil
		})
		require.NoError(t, err)

		require.Equal(t, []string{".", "hello.txt", "link", "sub"}, paths)
	})
}
