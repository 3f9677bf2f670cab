// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package composefs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cfs-toolkit/composefs"
)

func TestLeafRefCounting(t *testing.T) {
	leaf := composefs.NewLeaf(composefs.Stat{Mode: 0o644}, composefs.InlineFile{Data: []byte("x")})
	require.Equal(t, int32(1), leaf.Nlink())

	require.Equal(t, int32(2), leaf.AddRef())
	require.Equal(t, int32(3), leaf.AddRef())

	require.Equal(t, int32(2), leaf.DelRef())
	require.Equal(t, int32(1), leaf.DelRef())
	require.Equal(t, int32(0), leaf.DelRef())
}

func TestStatXAttrs(t *testing.T) {
	var st composefs.Stat

	_, ok := st.XAttr("user.foo")
	require.False(t, ok)

	st.SetXAttr("user.foo", []byte("bar"))
	value, ok := st.XAttr("user.foo")
	require.True(t, ok)
	require.Equal(t, []byte("bar"), value)

	st.SetXAttr("user.foo", []byte("baz"))
	value, ok = st.XAttr("user.foo")
	require.True(t, ok)
	require.Equal(t, []byte("baz"), value)
	require.Len(t, st.XAttrs, 1)
}
