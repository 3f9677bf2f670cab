// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on composefs_experiments
 * (src/image.rs), an experimental prototype this package's in-memory
 * model is ported from.
 */

// Package composefs builds an in-memory filesystem tree — directories,
// regular files, devices, symlinks — independent of any on-disk
// encoding. It is the model a future EROFS encoder would consume; this
// package only builds and inspects it.
package composefs

// XAttr is one extended attribute carried by a Leaf or Directory.
type XAttr struct {
	Name  string
	Value []byte
}

// Stat holds the POSIX metadata common to every node in a FileSystem.
type Stat struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	Mtime int64

	XAttrs []XAttr
}

// XAttr looks up a named extended attribute, mirroring the shape of
// os/pkg-xattr style accessors.
func (s *Stat) XAttr(name string) ([]byte, bool) {
	for _, x := range s.XAttrs {
		if x.Name == name {
			return x.Value, true
		}
	}
	return nil, false
}

// SetXAttr inserts or replaces a named extended attribute.
func (s *Stat) SetXAttr(name string, value []byte) {
	for i, x := range s.XAttrs {
		if x.Name == name {
			s.XAttrs[i].Value = value
			return
		}
	}
	s.XAttrs = append(s.XAttrs, XAttr{Name: name, Value: value})
}
