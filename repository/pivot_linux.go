// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on composefs_experiments
 * (src/bin/composefs-pivot-sysroot.rs)'s pivot_sysroot call, an
 * experimental prototype this package's boot mechanism is ported from.
 */

package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/cfs-toolkit/composefs/fsverity"
)

// erofsFilesystemType is the mount(2) fstype for a composefs image, a
// specialized EROFS.
const erofsFilesystemType = "erofs"

// PivotSysroot implements Repository: it mounts the EROFS image
// identified by imageDigest read-only at sysroot, passing the object's
// file path straight to mount(2) as the source (no loop device is set
// up), then switches
// the running system's root filesystem to it via pivot_root(2), moving
// the previous root aside at <sysroot>/.pivot_root so the caller can
// unmount it once nothing references it anymore.
func (r *DirRepository) PivotSysroot(imageDigest fsverity.Digest, sysroot string) error {
	imagePath := r.objectPath(imageDigest)

	if err := syscall.Mount(imagePath, sysroot, erofsFilesystemType, syscall.MS_RDONLY, ""); err != nil {
		return fmt.Errorf("repository: mounting %s at %s: %w", imageDigest, sysroot, err)
	}

	oldRoot := filepath.Join(sysroot, ".pivot_root")
	if err := os.MkdirAll(oldRoot, 0o700); err != nil {
		return fmt.Errorf("repository: preparing pivot target: %w", err)
	}

	if err := syscall.PivotRoot(sysroot, oldRoot); err != nil {
		return fmt.Errorf("repository: pivot_root(%s, %s): %w", sysroot, oldRoot, err)
	}

	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("repository: chdir to new root: %w", err)
	}

	return nil
}
