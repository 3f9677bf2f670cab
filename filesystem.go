// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on composefs_experiments
 * (src/image.rs)'s FileSystem, an experimental prototype this package's
 * in-memory model is ported from.
 */

package composefs

import (
	"fmt"
	"io"
	"path"
	"strings"
)

// FileSystem is a tree of Directory and Leaf nodes rooted at Root, fed
// by PopulateFromFS or built up directly via Mkdir/Insert/Hardlink.
type FileSystem struct {
	Root *Directory
}

// NewFileSystem creates a FileSystem with an empty root directory.
func NewFileSystem(rootStat Stat) *FileSystem {
	return &FileSystem{Root: NewDirectory(rootStat)}
}

// splitPath cleans and splits an absolute, slash-separated path into
// its non-empty components.
func splitPath(p string) []string {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(clean, "/"), "/")
}

// getParentDir walks every component of p except the last, returning
// the directory that should contain it along with that last component.
func (fs *FileSystem) getParentDir(p string) (*Directory, string, error) {
	parts := splitPath(p)
	if len(parts) == 0 {
		return nil, "", fmt.Errorf("composefs: %q has no final component", p)
	}

	dir := fs.Root
	for _, part := range parts[:len(parts)-1] {
		inode, err := dir.Get(part)
		if err != nil {
			return nil, "", fmt.Errorf("composefs: resolving %q: %w", p, err)
		}
		child, ok := inode.(*Directory)
		if !ok {
			return nil, "", fmt.Errorf("composefs: resolving %q: %q: %w", p, part, ErrNotDirectory)
		}
		dir = child
	}

	return dir, parts[len(parts)-1], nil
}

// Mkdir creates a new, empty directory at p. The parent of p must
// already exist. If p already names a directory, its Stat is replaced
// and its entries are kept.
func (fs *FileSystem) Mkdir(p string, stat Stat) (*Directory, error) {
	parent, name, err := fs.getParentDir(p)
	if err != nil {
		return nil, err
	}
	return parent.Mkdir(name, stat)
}

// MkdirAll creates every missing directory component of p, like
// os.MkdirAll, using stat for any directory it creates.
func (fs *FileSystem) MkdirAll(p string, stat Stat) (*Directory, error) {
	dir := fs.Root
	for _, part := range splitPath(p) {
		inode, err := dir.Get(part)
		if err == nil {
			child, ok := inode.(*Directory)
			if !ok {
				return nil, fmt.Errorf("composefs: %q: %w", part, ErrNotDirectory)
			}
			dir = child
			continue
		}
		child, err := dir.Mkdir(part, stat)
		if err != nil {
			return nil, err
		}
		dir = child
	}
	return dir, nil
}

// Insert creates a fresh Leaf at p with the given metadata and content.
func (fs *FileSystem) Insert(p string, stat Stat, content LeafContent) (*Leaf, error) {
	parent, name, err := fs.getParentDir(p)
	if err != nil {
		return nil, err
	}
	leaf := NewLeaf(stat, content)
	if err := parent.Insert(name, leaf); err != nil {
		return nil, fmt.Errorf("composefs: inserting %q: %w", p, err)
	}
	return leaf, nil
}

// GetForLink resolves p to the Leaf it names, for use as a hard link
// source.
func (fs *FileSystem) GetForLink(p string) (*Leaf, error) {
	parts := splitPath(p)
	if len(parts) == 0 {
		return nil, fmt.Errorf("composefs: %q: %w", p, ErrIsDirectory)
	}
	parent, name, err := fs.getParentDir(p)
	if err != nil {
		return nil, err
	}
	leaf, err := parent.GetForLink(name)
	if err != nil {
		return nil, fmt.Errorf("composefs: resolving %q: %w", p, err)
	}
	return leaf, nil
}

// Hardlink inserts source as an additional name for the Leaf already
// present at target.
func (fs *FileSystem) Hardlink(target, source string) error {
	leaf, err := fs.GetForLink(target)
	if err != nil {
		return err
	}
	parent, name, err := fs.getParentDir(source)
	if err != nil {
		return err
	}
	if err := parent.InsertExisting(name, leaf); err != nil {
		return fmt.Errorf("composefs: linking %q to %q: %w", source, target, err)
	}
	return nil
}

// Remove deletes the entry at p. A missing final component is a no-op;
// a missing parent directory is still an error.
func (fs *FileSystem) Remove(p string) error {
	parent, name, err := fs.getParentDir(p)
	if err != nil {
		return err
	}
	if err := parent.Remove(name); err != nil {
		return fmt.Errorf("composefs: removing %q: %w", p, err)
	}
	return nil
}

// Dump writes a deterministic, depth-first listing of every path in
// fs, one record per line, following the grammar:
//
//	"<path>" -> dir
//	"<path>" -> file
//	"<path>" -> hard.
//	"<name>" -> hard "<first-path>"
//
// Children are visited in each directory's sorted order, the root
// directory line always first. A Leaf reached by more than one path
// (Nlink() > 1) is rendered as "<path>" -> hard. the first time it is
// encountered and "<name>" -> hard "<first-path>" on every subsequent
// encounter, using pointer identity (not content equality) to detect
// the reencounter — the same Leaf value inserted twice under unrelated
// names is one node, not two coincidentally-equal ones.
func (fs *FileSystem) Dump(w io.Writer) error {
	seen := make(map[*Leaf]string)
	return dumpDirectory(w, "/", fs.Root, seen)
}

func dumpDirectory(w io.Writer, p string, dir *Directory, seen map[*Leaf]string) error {
	fmt.Fprintf(w, "%q -> dir\n", p)
	for _, ent := range dir.Entries() {
		childPath := path.Join(p, ent.Name)
		switch inode := ent.Inode.(type) {
		case *Directory:
			if err := dumpDirectory(w, childPath, inode, seen); err != nil {
				return err
			}
		case *Leaf:
			dumpLeaf(w, childPath, ent.Name, inode, seen)
		default:
			return fmt.Errorf("composefs: %q: unrecognized inode type %T", childPath, inode)
		}
	}
	return nil
}

func dumpLeaf(w io.Writer, p, name string, leaf *Leaf, seen map[*Leaf]string) {
	if first, ok := seen[leaf]; ok {
		fmt.Fprintf(w, "%q -> hard %q\n", name, first)
		return
	}
	if leaf.Nlink() > 1 {
		seen[leaf] = p
		fmt.Fprintf(w, "%q -> hard.\n", p)
		return
	}
	fmt.Fprintf(w, "%q -> file\n", p)
}
