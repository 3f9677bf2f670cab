// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on composefs_experiments
 * (src/bin/composefs-pivot-sysroot.rs), an experimental prototype this
 * boot helper is ported from.
 */

// Command composefs-pivot-sysroot is an early-boot helper: it reads the
// composefs=<digest> token off /proc/cmdline and switches the running
// system's root filesystem to the composefs image that digest names.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/cfs-toolkit/composefs/fsverity"
	"github.com/cfs-toolkit/composefs/repository"
)

// ErrCmdlineMissing is returned by parseComposefsCmdline when no
// composefs= token is present.
var ErrCmdlineMissing = errors.New("composefs-pivot-sysroot: no composefs= token on the kernel command line")

const cmdlineToken = "composefs="

// parseComposefsCmdline finds the composefs=<hex digest> token in
// cmdline, splitting on ASCII whitespace the same way the kernel does.
//
// TODO: this does not understand double-quoted values, so a digest
// token containing whitespace inside quotes would be split incorrectly.
// Kernel command lines don't do this in practice for a hex digest.
func parseComposefsCmdline(cmdline []byte) (fsverity.Digest, error) {
	for _, field := range bytes.Fields(cmdline) {
		if rest, ok := bytes.CutPrefix(field, []byte(cmdlineToken)); ok {
			return fsverity.ParseDigest(string(rest))
		}
	}
	return fsverity.Digest{}, ErrCmdlineMissing
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "composefs-pivot-sysroot: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	cmdline, err := os.ReadFile("/proc/cmdline")
	if err != nil {
		return fmt.Errorf("reading /proc/cmdline: %w", err)
	}

	digest, err := parseComposefsCmdline(cmdline)
	if err != nil {
		return err
	}

	repo, err := repository.OpenSystem()
	if err != nil {
		return fmt.Errorf("opening system repository: %w", err)
	}

	if err := repo.PivotSysroot(digest, "/sysroot"); err != nil {
		return fmt.Errorf("pivoting to %s: %w", digest, err)
	}

	return nil
}
