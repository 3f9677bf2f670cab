// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on composefs_experiments
 * (src/tmpdir.rs), an experimental prototype this package's scratch
 * directory allocator is ported from.
 */

// Package tmpdir allocates a scratch directory under os.TempDir()
// (/tmp unless $TMPDIR is set) for the boot helper to use as a
// pivot_root mount point, cleaning it up on Close.
package tmpdir

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrExhausted is returned by New when no unused scratch directory name
// could be found.
var ErrExhausted = errors.New("tmpdir: exhausted candidate names")

// maxAttempts mirrors the source prototype's 26*26*26 retry budget: a
// 6-character suffix drawn from 62 symbols is a large enough space that
// repeated collisions are a sign something is wrong, not bad luck.
const maxAttempts = 26 * 26 * 26

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Dir is a scratch directory that removes itself on Close.
type Dir struct {
	Path string
}

// New creates a fresh, empty directory under os.TempDir() named
// "composefs.<6-char suffix>", retrying with a new suffix on any
// collision up to maxAttempts times.
func New() (*Dir, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		suffix, err := randomSuffix(6)
		if err != nil {
			return nil, fmt.Errorf("tmpdir: generating suffix: %w", err)
		}

		path := filepath.Join(os.TempDir(), "composefs."+suffix)
		if err := os.Mkdir(path, 0o700); err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, fmt.Errorf("tmpdir: creating %s: %w", path, err)
		}

		return &Dir{Path: path}, nil
	}

	return nil, ErrExhausted
}

// Close removes the scratch directory and everything in it.
func (d *Dir) Close() error {
	return os.RemoveAll(d.Path)
}

func randomSuffix(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	out := make([]byte, n)
	for i, b := range raw {
		out[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return string(out), nil
}
