// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on code originally from:
 * github.com/psanford/memfs
 *
 * Copyright (c) 2021 The memfs Authors. All rights reserved.
 *
 * Redistribution and use in source and binary forms, with or without
 * modification, are permitted provided that the following conditions are
 * met:
 *
 * * Redistributions of source code must retain the above copyright
 * notice, this list of conditions and the following disclaimer.
 * * Redistributions in binary form must reproduce the above
 * copyright notice, this list of conditions and the following disclaimer
 * in the documentation and/or other materials provided with the
 * distribution.
 * * Neither the name of the copyright holder nor the names of its
 * contributors may be used to endorse or promote products derived from
 * this software without specific prior written permission.
 *
 * THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
 * "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
 * LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
 * A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
 * OWNER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
 * SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
 * LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
 * DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
 * THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
 * (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
 * OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.
 */

// Package memfs is a small, writable in-memory fs.FS, used in tests as
// a source tree for composefs.PopulateFromFS and as a general staging
// area.
package memfs

import (
	"bytes"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

type fileData struct {
	name    string
	data    []byte
	mode    fs.FileMode
	modTime time.Time
	link    string // symlink target, valid when mode&fs.ModeSymlink != 0
}

func (f *fileData) Name() string       { return path.Base(f.name) }
func (f *fileData) Size() int64        { return int64(len(f.data)) }
func (f *fileData) Mode() fs.FileMode  { return f.mode }
func (f *fileData) ModTime() time.Time { return f.modTime }
func (f *fileData) IsDir() bool        { return f.mode.IsDir() }
func (f *fileData) Sys() any           { return nil }

func (f *fileData) Type() fs.FileMode          { return f.mode.Type() }
func (f *fileData) Info() (fs.FileInfo, error) { return f, nil }

// FS is a writable, in-memory filesystem implementing fs.FS,
// fs.ReadDirFS and fs.StatFS.
type FS struct {
	mu   sync.Mutex
	tree map[string]*fileData
}

// New creates an empty FS, containing only its root directory.
func New() *FS {
	return &FS{
		tree: map[string]*fileData{
			".": {name: ".", mode: fs.ModeDir | 0o755, modTime: time.Time{}},
		},
	}
}

func cleanPath(name string) string {
	return path.Clean(name)
}

func (m *FS) get(name string) (*fileData, bool) {
	f, ok := m.tree[cleanPath(name)]
	return f, ok
}

// MkdirAll creates name and every missing parent directory, with mode
// perm, like os.MkdirAll.
func (m *FS) MkdirAll(name string, perm fs.FileMode) error {
	if !fs.ValidPath(name) {
		return &fs.PathError{Op: "mkdir", Path: name, Err: fs.ErrInvalid}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name = cleanPath(name)
	parts := strings.Split(name, "/")

	cur := "."
	for _, part := range parts {
		if part == "." {
			continue
		}
		cur = path.Join(cur, part)
		if existing, ok := m.tree[cur]; ok {
			if !existing.IsDir() {
				return &fs.PathError{Op: "mkdir", Path: name, Err: fs.ErrExist}
			}
			continue
		}
		m.tree[cur] = &fileData{name: cur, mode: fs.ModeDir | perm, modTime: time.Now()}
	}

	return nil
}

// WriteFile creates (or replaces) name with data and mode perm. The
// parent directory of name must already exist.
func (m *FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	if !fs.ValidPath(name) {
		return &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name = cleanPath(name)
	parent, ok := m.tree[path.Dir(name)]
	if !ok || !parent.IsDir() {
		return &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	m.tree[name] = &fileData{name: name, data: cp, mode: perm, modTime: time.Now()}
	return nil
}

// Symlink creates name as a symbolic link pointing at target. The
// parent directory of name must already exist.
func (m *FS) Symlink(target, name string) error {
	if !fs.ValidPath(name) {
		return &fs.PathError{Op: "symlink", Path: name, Err: fs.ErrInvalid}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name = cleanPath(name)
	parent, ok := m.tree[path.Dir(name)]
	if !ok || !parent.IsDir() {
		return &fs.PathError{Op: "symlink", Path: name, Err: fs.ErrNotExist}
	}

	m.tree[name] = &fileData{name: name, link: target, mode: fs.ModeSymlink | 0o777, modTime: time.Now()}
	return nil
}

// ReadLink returns the destination of the symbolic link name,
// implementing the ReadLinkFS interface some consumers (such as
// composefs.PopulateFromFS) look for.
func (m *FS) ReadLink(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.get(name)
	if !ok {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: fs.ErrNotExist}
	}
	if f.mode&fs.ModeSymlink == 0 {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: fs.ErrInvalid}
	}
	return f.link, nil
}

// StatLink describes name without following a trailing symlink.
func (m *FS) StatLink(name string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.get(name)
	if !ok {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: fs.ErrNotExist}
	}
	return f, nil
}

// Open implements fs.FS.
func (m *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	m.mu.Lock()
	f, ok := m.get(name)
	m.mu.Unlock()

	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}

	if f.IsDir() {
		return &openDir{fileData: f, fs: m}, nil
	}
	return &openFile{fileData: f, Reader: bytes.NewReader(f.data)}, nil
}

// ReadDir implements fs.ReadDirFS.
func (m *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir, ok := m.get(name)
	if !ok || !dir.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	return m.childrenLocked(cleanPath(name)), nil
}

func (m *FS) childrenLocked(dir string) []fs.DirEntry {
	var entries []fs.DirEntry
	for p, f := range m.tree {
		if p == dir || p == "." {
			continue
		}
		if path.Dir(p) != dir {
			continue
		}
		entries = append(entries, f)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries
}

// Stat implements fs.StatFS, following a trailing symlink (and any
// symlink that one points at in turn) as os.Stat does; a relative
// target is resolved against the link's own directory. Symlinks among
// the leading components of name are not followed.
func (m *FS) Stat(name string) (fs.FileInfo, error) {
	m.mu.Lock()
	f, ok := m.get(name)
	m.mu.Unlock()

	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	if f.mode&fs.ModeSymlink != 0 {
		target := f.link
		if path.IsAbs(target) {
			target = strings.TrimPrefix(path.Clean(target), "/")
		} else {
			target = path.Join(path.Dir(cleanPath(name)), target)
		}
		return m.Stat(target)
	}
	return f, nil
}

// Sub implements fs.SubFS.
func (m *FS) Sub(dir string) (fs.FS, error) {
	if !fs.ValidPath(dir) {
		return nil, &fs.PathError{Op: "sub", Path: dir, Err: fs.ErrInvalid}
	}
	if f, ok := m.get(dir); !ok || !f.IsDir() {
		return nil, &fs.PathError{Op: "sub", Path: dir, Err: fs.ErrNotExist}
	}
	return &subFS{base: m, prefix: cleanPath(dir)}, nil
}

type subFS struct {
	base   *FS
	prefix string
}

func (s *subFS) full(name string) string {
	if s.prefix == "." {
		return name
	}
	return path.Join(s.prefix, name)
}

func (s *subFS) Open(name string) (fs.File, error)             { return s.base.Open(s.full(name)) }
func (s *subFS) ReadDir(name string) ([]fs.DirEntry, error)     { return s.base.ReadDir(s.full(name)) }
func (s *subFS) Stat(name string) (fs.FileInfo, error)          { return s.base.Stat(s.full(name)) }
func (s *subFS) ReadLink(name string) (string, error)           { return s.base.ReadLink(s.full(name)) }
func (s *subFS) StatLink(name string) (fs.FileInfo, error)      { return s.base.StatLink(s.full(name)) }

type openFile struct {
	*fileData
	*bytes.Reader
}

func (f *openFile) Stat() (fs.FileInfo, error) { return f.fileData, nil }
func (f *openFile) Close() error               { return nil }

type openDir struct {
	*fileData
	fs      *FS
	entries []fs.DirEntry
	pos     int
}

func (d *openDir) Stat() (fs.FileInfo, error) { return d.fileData, nil }
func (d *openDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}
func (d *openDir) Close() error { return nil }

func (d *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.entries == nil {
		d.fs.mu.Lock()
		d.entries = d.fs.childrenLocked(d.name)
		d.fs.mu.Unlock()
	}

	if n <= 0 {
		rest := d.entries[d.pos:]
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
	out := d.entries[d.pos:end]
	d.pos = end
	return out, nil
}
