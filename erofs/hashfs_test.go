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
	"github.com/cfs-toolkit/composefs/internal/testutil"
)

func TestHashFSIsDeterministic(t *testing.T) {
	a := newSyntheticImage()
	b := newSyntheticImage()

	imgA, err := erofs.Open(a.data)
	require.NoError(t, err)
	imgB, err := erofs.Open(b.data)
	require.NoError(t, err)

	hashA, err := testutil.HashFS(erofs.NewFS(imgA))
	require.NoError(t, err)
	hashB, err := testutil.HashFS(erofs.NewFS(imgB))
	require.NoError(t, err)

	require.Equal(t, hashA, hashB)
}

func TestHashFSChangesWithContent(t *testing.T) {
	synth := newSyntheticImage()
	img, err := erofs.Open(synth.data)
	require.NoError(t, err)

	baseline, err := testutil.HashFS(erofs.NewFS(img))
	require.NoError(t, err)

	patched := make([]byte, len(synth.data))
	copy(patched, synth.data)
	copy(patched[synth.helloOff+32:], []byte("goodbye worl"))

	patchedImg, err := erofs.Open(patched)
	require.NoError(t, err)
	changed, err := testutil.HashFS(erofs.NewFS(patchedImg))
	require.NoError(t, err)

	require.NotEqual(t, baseline, changed)
}
