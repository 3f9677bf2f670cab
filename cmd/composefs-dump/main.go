// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Command composefs-dump prints a human-readable layout of a composefs
// EROFS image, for debugging and for comparing images across builds.
package main

import (
	"fmt"
	"os"

	"github.com/cfs-toolkit/composefs/erofs"
)

const usage = `Usage: composefs-dump <image-file>

Prints the superblock, inode and directory layout of a composefs EROFS
image to stdout.
`

func main() {
	if len(os.Args) != 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		fmt.Fprint(os.Stderr, usage)
		if len(os.Args) != 2 {
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	img, err := erofs.Open(data)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}

	return erofs.Dump(os.Stdout, img)
}
