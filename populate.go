// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on code originally from:
 * github.com/dpeckett/archivefs (erofs/owner_unix.go, erofs/writer.go's
 * toInode), adapted here to populate a composefs.FileSystem from a
 * live host tree instead of an EROFS image.
 */

package composefs

import (
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/pkg/xattr"

	"github.com/cfs-toolkit/composefs/repository"
)

// PopulateOptions controls how PopulateFromFS ingests a host tree.
type PopulateOptions struct {
	// InlineThreshold is the largest file size, in bytes, stored
	// directly as InlineFile. Larger files are inserted into Repo and
	// referenced as ExternalFile. Zero means every non-empty regular
	// file is stored externally.
	InlineThreshold int64

	// Repo receives any file larger than InlineThreshold. Required
	// whenever the source tree contains such a file.
	Repo repository.Repository

	// HostPath, if non-empty, is the real filesystem path backing
	// source — required to read extended attributes, since fs.FS has
	// no xattr API of its own.
	HostPath string
}

// PopulateFromFS walks source (typically os.DirFS(path) or a memfs
// tree) and inserts every entry it finds into dest at destPath,
// preserving mode, ownership, extended attributes, symlinks and hard
// links (identified by host device+inode number).
func PopulateFromFS(dest *FileSystem, destPath string, source fs.FS, opts PopulateOptions) error {
	seen := make(map[fileKey]*Leaf)

	return fs.WalkDir(source, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if name == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("composefs: stat %q: %w", name, err)
		}

		targetPath := path.Join(destPath, name)
		st := statFromFileInfo(info)
		if err := populateXAttrs(&st, opts.HostPath, name); err != nil {
			return fmt.Errorf("composefs: reading xattrs for %q: %w", name, err)
		}

		if d.IsDir() {
			_, err := dest.Mkdir(targetPath, st)
			return err
		}

		if key, ok := hardlinkKey(info); ok {
			if existing, ok := seen[key]; ok {
				parent, base, err := dest.getParentDir(targetPath)
				if err != nil {
					return err
				}
				return parent.InsertExisting(base, existing)
			}
			leaf, err := populateLeaf(dest, targetPath, source, name, info, st, opts)
			if err != nil {
				return err
			}
			seen[key] = leaf
			return nil
		}

		_, err = populateLeaf(dest, targetPath, source, name, info, st, opts)
		return err
	})
}

func populateLeaf(dest *FileSystem, targetPath string, source fs.FS, name string, info fs.FileInfo, st Stat, opts PopulateOptions) (*Leaf, error) {
	content, err := leafContentFor(source, name, info, opts)
	if err != nil {
		return nil, fmt.Errorf("composefs: reading %q: %w", name, err)
	}
	return dest.Insert(targetPath, st, content)
}

func leafContentFor(source fs.FS, name string, info fs.FileInfo, opts PopulateOptions) (LeafContent, error) {
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		if rl, ok := source.(ReadLinkFS); ok {
			target, err := rl.ReadLink(name)
			if err != nil {
				return nil, err
			}
			return Symlink{Target: target}, nil
		}
		return nil, fmt.Errorf("source %T does not implement ReadLinkFS, cannot read symlink %q", source, name)

	case info.Mode()&fs.ModeDevice != 0:
		rdev, _ := rdevFromFileInfo(info)
		if info.Mode()&fs.ModeCharDevice != 0 {
			return CharacterDevice{Rdev: rdev}, nil
		}
		return BlockDevice{Rdev: rdev}, nil

	case info.Mode()&fs.ModeNamedPipe != 0:
		return Fifo{}, nil

	case info.Mode()&fs.ModeSocket != 0:
		return Socket{}, nil

	default:
		f, err := source.Open(name)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if info.Size() <= opts.InlineThreshold {
			data, err := io.ReadAll(f)
			if err != nil {
				return nil, err
			}
			return InlineFile{Data: data}, nil
		}

		if opts.Repo == nil {
			return nil, fmt.Errorf("%q is %d bytes, over the inline threshold, but no repository was given", name, info.Size())
		}
		digest, err := opts.Repo.InsertObject(f)
		if err != nil {
			return nil, err
		}
		return ExternalFile{Digest: digest, Size: uint64(info.Size())}, nil
	}
}

func statFromFileInfo(info fs.FileInfo) Stat {
	uid, gid := ownerFromFileInfo(info)
	return Stat{
		Mode:  uint32(modeFromFileMode(info.Mode())),
		UID:   uid,
		GID:   gid,
		Mtime: info.ModTime().Unix(),
	}
}

// populateXAttrs reads every extended attribute set on hostPath/name
// (when hostPath is non-empty) into st.
func populateXAttrs(st *Stat, hostPath, name string) error {
	if hostPath == "" {
		return nil
	}
	full := path.Join(hostPath, name)

	names, err := xattr.LList(full)
	if err != nil {
		if xattr.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, attrName := range names {
		value, err := xattr.LGet(full, attrName)
		if err != nil {
			return fmt.Errorf("reading %q: %w", attrName, err)
		}
		st.SetXAttr(attrName, value)
	}
	return nil
}

// modeFromFileMode converts a Go fs.FileMode into the POSIX mode_t
// value a Stat stores (kept independent of the erofs package, which
// only ever decodes mode_t, per this model's intended use by a future,
// separate encoder).
func modeFromFileMode(mode fs.FileMode) uint16 {
	const (
		sIFSOCK = 0140000
		sIFLNK  = 0120000
		sIFREG  = 0100000
		sIFBLK  = 060000
		sIFDIR  = 040000
		sIFCHR  = 020000
		sIFIFO  = 010000
		sISUID  = 04000
		sISGID  = 02000
		sISVTX  = 01000
	)

	st := uint16(mode.Perm())

	switch mode & fs.ModeType {
	case fs.ModeDir:
		st |= sIFDIR
	case fs.ModeSymlink:
		st |= sIFLNK
	case fs.ModeDevice:
		st |= sIFBLK
	case fs.ModeDevice | fs.ModeCharDevice, fs.ModeCharDevice:
		st |= sIFCHR
	case fs.ModeNamedPipe:
		st |= sIFIFO
	case fs.ModeSocket:
		st |= sIFSOCK
	default:
		st |= sIFREG
	}

	if mode&fs.ModeSetuid != 0 {
		st |= sISUID
	}
	if mode&fs.ModeSetgid != 0 {
		st |= sISGID
	}
	if mode&fs.ModeSticky != 0 {
		st |= sISVTX
	}

	return st
}
