//go:build !windows
// +build !windows

// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on code originally from:
 * github.com/dpeckett/archivefs (erofs/owner_unix.go), adapted here to
 * also recover device rdev numbers and hard-link identity.
 */

package composefs

import (
	"archive/tar"
	"io/fs"
	"syscall"
)

func ownerFromFileInfo(fi fs.FileInfo) (uid, gid uint32) {
	switch sys := fi.Sys().(type) {
	case *syscall.Stat_t:
		uid = sys.Uid
		gid = sys.Gid
	case *tar.Header:
		uid = uint32(sys.Uid)
		gid = uint32(sys.Gid)
	}
	return
}

func rdevFromFileInfo(fi fs.FileInfo) (uint64, bool) {
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		return sys.Rdev, true
	}
	return 0, false
}

type fileKey struct {
	dev, ino uint64
}

// hardlinkKey returns the device+inode identity of fi, and whether fi
// is worth tracking for hard links at all (nlink > 1).
func hardlinkKey(fi fs.FileInfo) (fileKey, bool) {
	sys, ok := fi.Sys().(*syscall.Stat_t)
	if !ok || sys.Nlink <= 1 {
		return fileKey{}, false
	}
	return fileKey{dev: uint64(sys.Dev), ino: sys.Ino}, true
}
