package zipfs

import "strings"

// tree owns the entry arena and the two indexes built over it: the parent
// directed tree (entry.children/sibling) and the case-insensitive name
// hash index (entry.hashNext) with MRU bucket promotion. Archive embeds
// this directly; splitting it out keeps the construction pass isolated
// from resolve.go and stream.go, which only ever read it.
type tree struct {
	entries []entry
	root    entryID

	buckets []entryID // hash bucket heads, MRU entry first per bucket
}

func newTree() *tree {
	t := &tree{}
	t.root = t.alloc(entry{name: "", state: stateDirectory, children: noEntry, sibling: noEntry, hashNext: noEntry})
	return t
}

func (t *tree) alloc(e entry) entryID {
	id := entryID(len(t.entries))
	t.entries = append(t.entries, e)
	return id
}

func (t *tree) get(id entryID) *entry { return &t.entries[id] }

// buildTree consumes the raw central directory records and produces a
// fully linked tree plus name index: directories implied by a file's path
// but never recorded explicitly in the central directory are synthesized,
// matching common ZIP writer behavior where only leaf entries appear.
// This is a supplemented feature drawn from the root-as-index-0 and
// ancestor-synthesis behavior of the original C archiver's directory
// walk.
func buildTree(raw []rawCentralEntry) (*tree, error) {
	t := newTree()
	t.buckets = make([]entryID, hashBucketCount(len(raw)))
	for i := range t.buckets {
		t.buckets[i] = noEntry
	}

	seen := make(map[string]bool, len(raw))

	for _, r := range raw {
		name := strings.TrimSuffix(r.name, "/")
		isDir := strings.HasSuffix(r.name, "/") || name == ""
		if name == "" {
			continue // the EOCD/root pseudo-entry, or a malformed empty name
		}
		if hasDotComponent(name) {
			// A "." or ".." path segment would, if synthesized as a real
			// directory, alias back onto an ancestor once resolvePath's
			// path.Clean normalizes it away; entries like this are
			// unrepresentable in a rooted tree rather than merely unsafe,
			// so they are dropped the same way an empty name is.
			continue
		}

		parentID, err := ensureAncestors(t, name, seen)
		if err != nil {
			return nil, err
		}

		leaf := leafName(name)
		if existingID, ok := t.indexLookup(parentID, leaf); ok {
			existing := t.get(existingID)
			if existing.dosModTime != 0 {
				return nil, newError(KindCorrupt, "duplicate entry name: "+name, nil)
			}
			if existing.isDirectory() && !isDir && existing.children != noEntry {
				return nil, newError(KindCorrupt, "path component collides with a file: "+name, nil)
			}
			promoteEntry(existing, r, isDir)
			continue
		}

		id := t.alloc(entryFromRaw(r, isDir))
		linkChild(t, parentID, id)
		t.indexInsert(id, leaf)
	}

	return t, nil
}

// promoteEntry fills in a synthesized placeholder ancestor's fields from a
// central directory record that names the same path, per spec step 7's
// placeholder-promotion rule. The entry's position in the tree (its
// children, sibling link, and hash chain) is preserved; only its own
// fields change.
func promoteEntry(existing *entry, r rawCentralEntry, isDir bool) {
	fresh := entryFromRaw(r, isDir)
	fresh.name = existing.name
	fresh.children = existing.children
	fresh.sibling = existing.sibling
	fresh.hashNext = existing.hashNext
	*existing = fresh
}

// hashBucketCount sizes the name index at one bucket per five entries,
// with at least one bucket.
func hashBucketCount(n int) int {
	if n/5 < 1 {
		return 1
	}
	return n / 5
}

// ensureAncestors walks name's directory components, synthesizing any
// directory entries not already present in the tree, and returns the id
// of name's immediate parent directory.
func ensureAncestors(t *tree, name string, seen map[string]bool) (entryID, error) {
	dir, _ := splitPath(name)
	if dir == "" {
		return t.root, nil
	}

	parts := strings.Split(dir, "/")
	cur := t.root
	built := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		if built == "" {
			built = part
		} else {
			built = built + "/" + part
		}

		if id, ok := t.lookupChild(cur, part); ok {
			if !t.get(id).isDirectory() {
				return noEntry, newError(KindCorrupt, "path component collides with a file: "+built, nil)
			}
			cur = id
			continue
		}

		id := t.alloc(entry{name: part, state: stateDirectory, children: noEntry, sibling: noEntry, hashNext: noEntry})
		linkChild(t, cur, id)
		if !seen[strings.ToLower(built)] {
			t.indexInsert(id, part)
			seen[strings.ToLower(built)] = true
		}
		cur = id
	}
	return cur, nil
}

// lookupChild does a linear scan of cur's children for a direct match on
// leaf name, used only during tree construction where child lists are
// still short; post-construction lookups go through the hash index.
func (t *tree) lookupChild(cur entryID, leaf string) (entryID, bool) {
	for c := t.get(cur).children; c != noEntry; c = t.get(c).sibling {
		if t.get(c).name == leaf {
			return c, true
		}
	}
	return noEntry, false
}

func linkChild(t *tree, parent, child entryID) {
	p := t.get(parent)
	t.get(child).sibling = p.children
	p.children = child
}

func splitPath(name string) (dir, leaf string) {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func leafName(name string) string {
	_, leaf := splitPath(name)
	return leaf
}

// hasDotComponent reports whether any slash-delimited segment of name is
// "." or "..".
func hasDotComponent(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if part == "." || part == ".." {
			return true
		}
	}
	return false
}

func entryFromRaw(r rawCentralEntry, isDir bool) entry {
	e := entry{
		name:              leafName(strings.TrimSuffix(r.name, "/")),
		offset:            int64(r.localHeaderOffset),
		versionMadeBy:     r.versionMadeBy,
		versionNeeded:     r.versionNeeded,
		generalBits:       r.generalBits,
		compressionMethod: r.method,
		crc32:             r.crc32,
		compressedSize:    r.compressedSize,
		uncompressedSize:  r.uncompressedSize,
		dosModTime:        packDOS(r.dosTime, r.dosDate),
		modTime:           dosTimeToEpoch(r.dosDate, r.dosTime),
		madeByHost:        r.madeByHost,
		aes:               r.aes,
		symlinkTarget:     noEntry,
		children:          noEntry,
		sibling:           noEntry,
		hashNext:          noEntry,
	}
	switch {
	case isDir:
		e.state = stateDirectory
	case r.isSymlink:
		e.state = stateUnresolvedSymlink
	default:
		e.state = stateUnresolvedFile
	}
	return e
}

// fnv1aFold hashes a case-folded name for the bucket index. The name is
// lower-cased with strings.ToLower (UTF-8 aware) first, so names that
// differ only in letter case land in the same bucket for indexLookup's
// strings.EqualFold comparison.
func fnv1aFold(s string) uint32 {
	const offset = 2166136261
	const prime = 16777619
	s = strings.ToLower(s)
	h := uint32(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// indexInsert adds id to its bucket, at the head (MRU position).
func (t *tree) indexInsert(id entryID, leaf string) {
	b := fnv1aFold(leaf) % uint32(len(t.buckets))
	t.get(id).hashNext = t.buckets[b]
	t.buckets[b] = id
}

// indexLookup finds a direct child of parent named leaf (case-
// insensitively) via the hash index, promoting it to the front of its
// bucket on a hit so repeated lookups of the same hot entry stay O(1)
// rather than drifting to the back of a long chain.
func (t *tree) indexLookup(parent entryID, leaf string) (entryID, bool) {
	b := fnv1aFold(leaf) % uint32(len(t.buckets))
	var prev entryID = noEntry
	for cur := t.buckets[b]; cur != noEntry; cur = t.get(cur).hashNext {
		ce := t.get(cur)
		if !strings.EqualFold(ce.name, leaf) || !t.isChildOf(cur, parent) {
			prev = cur
			continue
		}
		if prev != noEntry {
			t.get(prev).hashNext = ce.hashNext
			ce.hashNext = t.buckets[b]
			t.buckets[b] = cur
		}
		return cur, true
	}
	return noEntry, false
}

// isChildOf reports whether child appears in parent's sibling-linked
// child list. The hash index is global (not scoped per directory), so
// this confirms the bucket hit actually belongs to the directory being
// searched.
func (t *tree) isChildOf(child, parent entryID) bool {
	for c := t.get(parent).children; c != noEntry; c = t.get(c).sibling {
		if c == child {
			return true
		}
	}
	return false
}
