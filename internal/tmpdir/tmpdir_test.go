// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package tmpdir_test

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cfs-toolkit/composefs/internal/tmpdir"
)

func TestNewCreatesDirUnderTempDir(t *testing.T) {
	d, err := tmpdir.New()
	require.NoError(t, err)
	defer d.Close()

	require.True(t, strings.HasPrefix(d.Path, os.TempDir()))
	require.True(t, strings.HasPrefix(d.Path[len(os.TempDir()):], string(os.PathSeparator)+"composefs."))

	info, err := os.Stat(d.Path)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNewProducesDistinctDirs(t *testing.T) {
	a, err := tmpdir.New()
	require.NoError(t, err)
	defer a.Close()

	b, err := tmpdir.New()
	require.NoError(t, err)
	defer b.Close()

	require.NotEqual(t, a.Path, b.Path)
}

func TestCloseRemovesDir(t *testing.T) {
	d, err := tmpdir.New()
	require.NoError(t, err)

	require.NoError(t, d.Close())

	_, err = os.Stat(d.Path)
	require.True(t, os.IsNotExist(err))
}

func TestCloseRemovesContents(t *testing.T) {
	d, err := tmpdir.New()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(d.Path+"/file", []byte("x"), 0o644))
	require.NoError(t, d.Close())

	_, err = os.Stat(d.Path)
	require.True(t, os.IsNotExist(err))
}
