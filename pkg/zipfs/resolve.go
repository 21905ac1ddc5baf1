package zipfs

import (
	"path"
	"strings"
)

const maxSymlinkDepth = 40

// resolver carries the per-archive state resolve.go needs beyond the bare
// tree: a Source to re-read local headers and symlink target bytes from.
// archive.go embeds one of these.
type resolver struct {
	t   *tree
	src Source
}

// resolvePath walks a slash-separated path from the root, resolving each
// intermediate symlink before descending through it, and returns the
// fully resolved final entry. Symlinks are followed lazily and only as
// far as the lookup actually needs: a dangling symlink at the end of the
// path is returned as such rather than treated as an error, matching
// spec.md's broken-symlink state.
func (r *resolver) resolvePath(p string) (entryID, error) {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return r.t.root, nil
	}

	cur := r.t.root
	parts := strings.Split(p, "/")
	for i, part := range parts {
		if part == "" || part == "." {
			continue
		}
		next, ok := r.t.indexLookup(cur, part)
		if !ok {
			return noEntry, newError(KindNotFound, "no such entry: "+p, nil)
		}

		last := i == len(parts)-1
		resolved, err := r.resolveEntry(next, 0)
		if err != nil {
			return noEntry, err
		}
		if !last {
			if r.t.get(resolved).state != stateDirectory {
				return noEntry, newError(KindNotFound, "not a directory: "+part, nil)
			}
		}
		cur = resolved
	}
	return cur, nil
}

// lstatPath walks p exactly like resolvePath, following any symlink named
// by an intermediate path component, but returns the final component's
// own entry rather than dereferencing it: a symlink's resolution is still
// driven to completion (so Broken/cyclic state is accurate), but the
// entry reported is the link itself, not whatever it points to.
func (r *resolver) lstatPath(p string) (entryID, error) {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return r.t.root, nil
	}

	cur := r.t.root
	parts := strings.Split(p, "/")
	for i, part := range parts {
		if part == "" || part == "." {
			continue
		}
		next, ok := r.t.indexLookup(cur, part)
		if !ok {
			return noEntry, newError(KindNotFound, "no such entry: "+p, nil)
		}

		if i == len(parts)-1 {
			if _, err := r.resolveEntry(next, 0); err != nil {
				return noEntry, err
			}
			return next, nil
		}

		resolved, err := r.resolveEntry(next, 0)
		if err != nil {
			return noEntry, err
		}
		if r.t.get(resolved).state != stateDirectory {
			return noEntry, newError(KindNotFound, "not a directory: "+part, nil)
		}
		cur = resolved
	}
	return cur, nil
}

// resolveEntry brings id to a terminal state (Resolved, BrokenFile,
// BrokenSymlink, or Directory), following symlink chains and detecting
// cycles via the Resolving sentinel, exactly once per entry: once an
// entry leaves Unresolved, every later call returns immediately.
func (r *resolver) resolveEntry(id entryID, depth int) (entryID, error) {
	e := r.t.get(id)

	switch e.state {
	case stateDirectory, stateBrokenFile, stateBrokenSymlink:
		return id, nil
	case stateResolved:
		if e.symlinkTarget != noEntry {
			return e.symlinkTarget, nil
		}
		return id, nil
	case stateResolving:
		return noEntry, newError(KindSymlinkLoop, "symlink cycle detected", nil)
	}

	if depth > maxSymlinkDepth {
		e.state = stateBrokenSymlink
		return id, nil
	}

	if e.state == stateUnresolvedSymlink {
		return r.resolveSymlink(id, depth)
	}

	return r.resolveFile(id)
}

// resolveFile confirms a regular file's local header against its central
// directory record and computes the absolute data offset, moving it from
// Unresolved to Resolved (or BrokenFile on any mismatch).
func (r *resolver) resolveFile(id entryID) (entryID, error) {
	e := r.t.get(id)
	e.state = stateResolving

	hdr, err := readLocalFileHeader(r.src, e)
	if err != nil {
		e.state = stateBrokenFile
		return id, nil
	}

	e.offset = hdr.dataOffset
	e.state = stateResolved
	return id, nil
}

// effectiveLocalMethod is the method the local header is expected to
// declare: Stored for WinZip-AES-wrapped entries (readLocalFileHeader
// also accepts the sentinel 99 there), and the central directory's own
// method otherwise.
func (e *entry) effectiveLocalMethod() compressionMethod {
	if e.aes != nil {
		return methodStored
	}
	return e.compressionMethod
}

// resolveSymlink reads the entry's uncompressed data as a UTF-8 relative
// path (the ZIP symlink convention) and resolves it relative to the
// symlink's own parent directory, following the chain until a terminal
// state is reached.
func (r *resolver) resolveSymlink(id entryID, depth int) (entryID, error) {
	e := r.t.get(id)
	e.state = stateResolving

	target, err := r.readSymlinkTarget(id)
	if err != nil {
		e.state = stateBrokenSymlink
		return id, nil
	}

	parentPath := r.pathOf(id)
	dir, _ := splitPath(parentPath)
	joined, ok := joinSymlinkTarget(dir, target)
	if !ok {
		e.state = stateBrokenSymlink
		return id, nil
	}

	targetID, err := r.resolvePathFrom(joined, depth+1)
	if err != nil {
		e.cyclic = IsSymlinkLoop(err)
		e.state = stateBrokenSymlink
		return id, nil
	}
	if targetID == noEntry {
		e.state = stateBrokenSymlink
		return id, nil
	}

	e.symlinkTarget = targetID
	e.state = stateResolved
	return targetID, nil
}

// joinSymlinkTarget resolves a symlink's (possibly relative) target
// against the directory containing the symlink, handling "." and ".."
// components in place rather than via path.Clean: an absolute-looking
// target is treated as archive-root-relative, and a ".." that would
// ascend above the archive root fails rather than silently clamping at
// root, per the lazy resolver's path-normalization rule.
func joinSymlinkTarget(dir, target string) (string, bool) {
	target = strings.ReplaceAll(target, "\\", "/")

	var parts []string
	if !strings.HasPrefix(target, "/") && dir != "" {
		parts = append(parts, strings.Split(dir, "/")...)
	}
	for _, part := range strings.Split(target, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(parts) == 0 {
				return "", false
			}
			parts = parts[:len(parts)-1]
		default:
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "/"), true
}

// resolvePathFrom is resolvePath's recursive core, threaded with the
// current symlink-chain depth so a long chain of symlinks each pointing
// one to the next is bounded the same way a direct cycle is.
func (r *resolver) resolvePathFrom(p string, depth int) (entryID, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return r.t.root, nil
	}
	cur := r.t.root
	parts := strings.Split(p, "/")
	for i, part := range parts {
		if part == "" || part == "." {
			continue
		}
		next, ok := r.t.indexLookup(cur, part)
		if !ok {
			return noEntry, nil
		}
		resolved, err := r.resolveEntry(next, depth)
		if err != nil {
			return noEntry, err
		}
		last := i == len(parts)-1
		if !last && r.t.get(resolved).state != stateDirectory {
			return noEntry, nil
		}
		cur = resolved
	}
	return cur, nil
}

// readSymlinkTarget decompresses a symlink entry's full (always small)
// payload to recover the link text, resolving the entry's own local
// header first since it has not been touched yet at this point in the
// resolution lifecycle.
func (r *resolver) readSymlinkTarget(id entryID) (string, error) {
	e := r.t.get(id)
	hdr, err := readLocalFileHeader(r.src, e)
	if err != nil {
		return "", err
	}
	e.offset = hdr.dataOffset

	data := make([]byte, e.uncompressedSize)
	if e.compressionMethod == methodStored {
		if err := readFull(r.src, e.offset, data); err != nil {
			return "", err
		}
	} else {
		cr := &sourceSectionReader{src: r.src, off: e.offset, remaining: int64(e.compressedSize)}
		inf := newInflater(cr)
		if _, err := readAllInto(inf, data); err != nil {
			return "", err
		}
	}
	return string(data), nil
}

// pathOf reconstructs an entry's full slash-separated path by walking
// parent pointers. This is only used on the comparatively rare symlink-
// resolution path, so it need not be O(1); entries do not carry a parent
// pointer in the steady-state tree to keep the common case's memory
// footprint small.
func (r *resolver) pathOf(id entryID) string {
	var parts []string
	cur := id
	for cur != r.t.root {
		parent, ok := r.findParent(cur)
		if !ok {
			break
		}
		parts = append([]string{r.t.get(cur).name}, parts...)
		cur = parent
	}
	return strings.Join(parts, "/")
}

// findParent does a full scan of the arena for cur's parent. Called only
// from pathOf during symlink resolution, never from the hot lookup path.
func (r *resolver) findParent(cur entryID) (entryID, bool) {
	for i := range r.t.entries {
		p := entryID(i)
		for c := r.t.get(p).children; c != noEntry; c = r.t.get(c).sibling {
			if c == cur {
				return p, true
			}
		}
	}
	return noEntry, false
}
