// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on composefs_experiments
 * (src/image.rs)'s Sha256HashValue, an experimental prototype this
 * type's identity contract is ported from.
 */

// Package fsverity carries the 32-byte digest identity that composefs
// uses to address content in a repository. Computing an actual
// fsverity Merkle tree digest over a file is out of scope here: this
// package only gives that digest a stable, comparable, marshalable Go
// type.
package fsverity

import (
	"encoding/hex"
	"fmt"
)

// DigestSize is the length, in bytes, of a Digest (SHA-256).
const DigestSize = 32

// Digest is a content digest as used by fsverity and by composefs
// repositories to name objects.
type Digest [DigestSize]byte

// ParseDigest decodes a 64-character hex string into a Digest.
func ParseDigest(s string) (Digest, error) {
	if len(s) != 2*DigestSize {
		return Digest{}, fmt.Errorf("fsverity: digest %q is %d hex characters, want %d", s, len(s), 2*DigestSize)
	}
	var d Digest
	n, err := hex.Decode(d[:], []byte(s))
	if err != nil {
		return Digest{}, fmt.Errorf("fsverity: parsing digest: %w", err)
	}
	if n != DigestSize {
		return Digest{}, fmt.Errorf("fsverity: digest %q is %d bytes, want %d", s, n, DigestSize)
	}
	return d, nil
}

// String renders the digest as lowercase hex, matching the
// `composefs=<hex>` /proc/cmdline convention.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// IsZero reports whether d is the all-zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}
