// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on code originally from: github.com/dpeckett/archivefs
 * (erofs/erofs.go), adapted here onto the composefs-native Image/Inode
 * reader instead of upstream EROFS's nid-slot addressing.
 */

package erofs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"
)

var (
	_ fs.FS        = (*FS)(nil)
	_ fs.ReadDirFS = (*FS)(nil)
	_ fs.StatFS    = (*FS)(nil)
)

// ErrNotDirectory is returned by ReadDir when the named entry exists but
// isn't a directory.
var ErrNotDirectory = errors.New("erofs: not a directory")

// ErrNotFound is returned by resolve when a path component has no
// matching directory entry.
var ErrNotFound = fmt.Errorf("erofs: %w", fs.ErrNotExist)

// FS presents a composefs image as a read-only io/fs.FS, so the rest of
// the toolchain (and callers outside it) can walk, open and stat it with
// nothing image-format-specific in sight.
type FS struct {
	img *Image
}

// NewFS wraps img as an io/fs.FS rooted at its root directory.
func NewFS(img *Image) *FS {
	return &FS{img: img}
}

// Open implements fs.FS.
func (fsys *FS) Open(name string) (fs.File, error) {
	ino, resolved, err := fsys.resolve(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	if ino.Mode()&S_IFMT == S_IFDIR {
		entries, err := fsys.readDirEntries(ino)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		return &openDir{name: resolved, img: fsys.img, ino: ino, entries: entries}, nil
	}

	data, err := readInodeData(fsys.img, ino)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &openFile{name: resolved, ino: ino, Reader: bytes.NewReader(data)}, nil
}

// ReadDir implements fs.ReadDirFS.
func (fsys *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	ino, _, err := fsys.resolve(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	if ino.Mode()&S_IFMT != S_IFDIR {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrNotDirectory}
	}

	entries, err := fsys.readDirEntries(ino)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}

	out := make([]fs.DirEntry, len(entries))
	for i, e := range entries {
		out[i] = dirEntry{DirectoryEntry: e, img: fsys.img}
	}
	return out, nil
}

// Stat implements fs.StatFS.
func (fsys *FS) Stat(name string) (fs.FileInfo, error) {
	ino, resolved, err := fsys.resolve(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return &fileInfo{name: path.Base(resolved), ino: ino}, nil
}

// ReadLink returns the destination of the named symbolic link, without
// following it. Experimental implementation of:
// https://github.com/golang/go/issues/49580
func (fsys *FS) ReadLink(name string) (string, error) {
	ino, _, err := fsys.resolve(name, true)
	if err != nil {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: err}
	}
	if ino.Mode()&S_IFMT != S_IFLNK {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: fs.ErrInvalid}
	}

	data, err := readInodeData(fsys.img, ino)
	if err != nil {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: err}
	}
	return string(data), nil
}

// StatLink describes the named entry without following a trailing
// symbolic link. Experimental implementation of:
// https://github.com/golang/go/issues/49580
func (fsys *FS) StatLink(name string) (fs.FileInfo, error) {
	ino, resolved, err := fsys.resolve(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: err}
	}
	return &fileInfo{name: path.Base(resolved), ino: ino}, nil
}

// resolve walks name's components from the root, following every
// symlink it crosses unless noResolveLastSymlink is set and the
// component being resolved is the final one. It returns the resolved
// inode and the (symlink-expanded) path it ultimately named.
func (fsys *FS) resolve(name string, noResolveLastSymlink bool) (*Inode, string, error) {
	if !fs.ValidPath(name) {
		return nil, "", fs.ErrInvalid
	}

	ino, err := fsys.img.Inode(fsys.img.RootNid())
	if err != nil {
		return nil, "", err
	}
	if name == "." {
		return ino, ".", nil
	}

	components := strings.Split(name, "/")
	resolvedName := ""
	for i, comp := range components {
		if ino.Mode()&S_IFMT != S_IFDIR {
			return nil, "", ErrNotDirectory
		}

		entries, err := fsys.readDirEntries(ino)
		if err != nil {
			return nil, "", err
		}

		idx := -1
		for j, e := range entries {
			if string(e.Name) == comp {
				idx = j
				break
			}
		}
		if idx < 0 {
			return nil, "", ErrNotFound
		}

		child, err := fsys.img.InodeAt(int64(entries[idx].InodeOffset))
		if err != nil {
			return nil, "", err
		}

		if child.Mode()&S_IFMT == S_IFLNK && !(noResolveLastSymlink && i == len(components)-1) {
			target, err := readInodeData(fsys.img, child)
			if err != nil {
				return nil, "", err
			}

			linkPath := path.Clean(string(target))
			if !strings.HasPrefix(linkPath, "/") {
				linkPath = path.Join(strings.Join(components[:i], "/"), linkPath)
			}
			linkPath = strings.TrimPrefix(linkPath, "/")

			resolved, resolvedPath, err := fsys.resolve(linkPath, noResolveLastSymlink)
			if err != nil {
				return nil, "", err
			}
			ino, resolvedName = resolved, resolvedPath
			continue
		}

		ino = child
		resolvedName = path.Join(resolvedName, comp)
	}

	return ino, resolvedName, nil
}

// readDirEntries gathers every DirectoryEntry belonging to dirIno: one
// per whole out-of-line block, plus any FlatInline tail, skipping "."
// and "..".
func (fsys *FS) readDirEntries(dirIno *Inode) ([]DirectoryEntry, error) {
	blocks, err := dirIno.Blocks(fsys.img.BlkSzBits())
	if err != nil {
		return nil, err
	}

	var all []DirectoryEntry
	for _, blockNo := range blocks {
		block, err := fsys.img.DirectoryBlock(blockNo)
		if err != nil {
			return nil, err
		}
		entries, err := DirectoryEntries(block)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}

	inline, err := dirIno.Inline()
	if err != nil {
		return nil, err
	}
	if len(inline) > 0 {
		entries, err := DirectoryEntries(inline)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}

	out := all[:0]
	for _, e := range all {
		if name := string(e.Name); name != "." && name != ".." {
			out = append(out, e)
		}
	}
	return out, nil
}

// readInodeData reads the full contents addressed by ino: its whole
// out-of-line blocks followed by any inline tail, truncated to its
// recorded size.
func readInodeData(img *Image, ino *Inode) ([]byte, error) {
	blocks, err := ino.Blocks(img.BlkSzBits())
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, ino.Size())
	for _, blockNo := range blocks {
		block, err := img.DataBlock(blockNo)
		if err != nil {
			return nil, err
		}
		buf = append(buf, block...)
	}

	inline, err := ino.Inline()
	if err != nil {
		return nil, err
	}
	buf = append(buf, inline...)

	if uint64(len(buf)) > ino.Size() {
		buf = buf[:ino.Size()]
	}
	return buf, nil
}

type dirEntry struct {
	DirectoryEntry
	img *Image
}

func (de dirEntry) Name() string { return string(de.DirectoryEntry.Name) }

func (de dirEntry) IsDir() bool { return de.FileType == FT_DIR }

func (de dirEntry) Type() fs.FileMode {
	switch de.FileType {
	case FT_DIR:
		return fs.ModeDir
	case FT_SYMLINK:
		return fs.ModeSymlink
	case FT_BLKDEV:
		return fs.ModeDevice
	case FT_CHRDEV:
		return fs.ModeDevice | fs.ModeCharDevice
	case FT_FIFO:
		return fs.ModeNamedPipe
	case FT_SOCK:
		return fs.ModeSocket
	default:
		return 0
	}
}

func (de dirEntry) Info() (fs.FileInfo, error) {
	ino, err := de.img.InodeAt(int64(de.InodeOffset))
	if err != nil {
		return nil, err
	}
	return &fileInfo{name: de.Name(), ino: ino}, nil
}

type openFile struct {
	name string
	ino  *Inode
	*bytes.Reader
}

func (f *openFile) Stat() (fs.FileInfo, error) { return &fileInfo{name: path.Base(f.name), ino: f.ino}, nil }
func (f *openFile) Close() error               { return nil }

type openDir struct {
	name    string
	img     *Image
	ino     *Inode
	entries []DirectoryEntry
	pos     int
}

func (d *openDir) Stat() (fs.FileInfo, error) { return &fileInfo{name: path.Base(d.name), ino: d.ino}, nil }

func (d *openDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *openDir) Close() error { return nil }

func (d *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if n <= 0 {
		rest := make([]fs.DirEntry, len(d.entries)-d.pos)
		for i, e := range d.entries[d.pos:] {
			rest[i] = dirEntry{DirectoryEntry: e, img: d.img}
		}
		d.pos = len(d.entries)
		return rest, nil
	}

	if d.pos >= len(d.entries) {
		return nil, io.EOF
	}
	end := d.pos + n
	if end > len(d.entries) {
		end = len(d.entries)
	}
	out := make([]fs.DirEntry, end-d.pos)
	for i, e := range d.entries[d.pos:end] {
		out[i] = dirEntry{DirectoryEntry: e, img: d.img}
	}
	d.pos = end
	return out, nil
}

type fileInfo struct {
	name string
	ino  *Inode
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return int64(fi.ino.Size()) }
func (fi *fileInfo) Mode() fs.FileMode  { return FileModeFromMode(fi.ino.Mode()) }
func (fi *fileInfo) ModTime() time.Time { return time.Unix(fi.ino.Mtime(), 0) }
func (fi *fileInfo) IsDir() bool        { return fi.ino.Mode()&S_IFMT == S_IFDIR }
func (fi *fileInfo) Sys() any           { return fi.ino }
