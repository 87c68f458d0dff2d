// Package collab is the Collaboration Coordinator (spec §4.D): a CRDT
// document per resource, exchanged over a gossip overlay, with presence
// broadcast independently and session records mediating peer discovery.
package collab

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math/rand"
	"sort"
)

// Digit is one component of a Logoot-style position identifier: an integer
// position plus the site that allocated it. Site is the final tie-break
// whenever two sites independently allocate the same integer position at
// the same depth, which is what makes concurrent inserts at the same
// index converge on one order regardless of delivery order (spec §9 open
// question on CRDT tie-break, resolved in DESIGN.md: Logoot, site embedded
// in the identifier).
type Digit struct {
	Pos  int64
	Site string
}

// Ident is a Logoot position identifier: an ordered path of digits. Idents
// are totally ordered and dense — a new ident can always be generated
// strictly between any two existing ones.
type Ident []Digit

// Compare returns -1, 0, or 1 the way bytes.Compare does, comparing digit
// by digit and breaking ties on length (a shorter prefix sorts first only
// if every shared digit is equal).
func (a Ident) Compare(b Ident) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i].Pos != b[i].Pos {
			if a[i].Pos < b[i].Pos {
				return -1
			}
			return 1
		}
		if a[i].Site != b[i].Site {
			if a[i].Site < b[i].Site {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

const identBase = 1 << 16

// genBetween allocates a new Ident strictly between lo and hi (lo may be nil
// meaning "start of document", hi may be nil meaning "end of document").
// site is embedded in the newly allocated digit so two sites generating a
// position "at the same time" never collide.
func genBetween(lo, hi Ident, site string) Ident {
	var out Ident
	for depth := 0; ; depth++ {
		loDigit := int64(0)
		if depth < len(lo) {
			loDigit = lo[depth].Pos
		}
		hiDigit := int64(identBase)
		hasHi := depth < len(hi)
		if hasHi {
			hiDigit = hi[depth].Pos
		} else if depth > len(lo) {
			hiDigit = identBase
		}
		if hiDigit-loDigit > 1 {
			pos := loDigit + 1 + rand.Int63n(hiDigit-loDigit-1)
			out = append(out, Digit{Pos: pos, Site: site})
			return out
		}
		// No room at this depth: carry the lo digit (or 0) forward and
		// keep descending until a gap opens up.
		out = append(out, Digit{Pos: loDigit, Site: site})
		if depth < len(lo) {
			// preserve lo's own site at this depth so we still sort after it
			out[depth].Site = lo[depth].Site
		}
	}
}

// Atom is one character (or a deletion tombstone) in the document.
type Atom struct {
	ID        Ident
	Site      string
	Lamport   uint64
	Char      rune
	Tombstone bool
}

// Update is a single-atom delta: an insert (Tombstone=false) or a delete of
// a previously-inserted atom (Tombstone=true, same ID). Broadcasting a
// stream of Updates is how peers exchange edits; importing is idempotent,
// commutative, and associative because the merge rule is "union of atoms by
// ID, tombstone wins" (spec §4.D "Update{data: bytes}").
type Update struct {
	Atom Atom
}

// Version is an opaque vector-clock-like marker: the highest Lamport clock
// this document has seen from each site. ExportUpdatesSince(v) returns every
// atom whose (site, lamport) is not already covered by v.
type Version map[string]uint64

// Document is a single resource's CRDT text sequence (spec §4.D model). It
// is exclusively owned by one collaboration task; all access is through
// this type's methods, invoked via message passing from the gossip hub
// (spec §5 collaboration domain).
type Document struct {
	site    string
	lamport uint64
	atoms   []Atom // always kept sorted by ID
	seen    Version
}

// NewDocument creates an empty document for site (a stable per-peer
// identifier, typically the P2P node ID).
func NewDocument(site string) *Document {
	return &Document{site: site, seen: Version{}}
}

func (d *Document) tick() uint64 {
	d.lamport++
	if d.seen[d.site] < d.lamport {
		d.seen[d.site] = d.lamport
	}
	return d.lamport
}

func (d *Document) observe(site string, lamport uint64) {
	if lamport > d.seen[site] {
		d.seen[site] = lamport
	}
	if lamport > d.lamport {
		d.lamport = lamport
	}
}

// Len returns the number of live (non-tombstoned) characters.
func (d *Document) Len() int {
	n := 0
	for _, a := range d.atoms {
		if !a.Tombstone {
			n++
		}
	}
	return n
}

// Text renders the live character sequence.
func (d *Document) Text() string {
	out := make([]rune, 0, len(d.atoms))
	for _, a := range d.atoms {
		if !a.Tombstone {
			out = append(out, a.Char)
		}
	}
	return string(out)
}

// liveIdentAt returns the Ident of the index-th live atom, or the sentinel
// boundary Ident (nil) if index is at the start/end of the document.
func (d *Document) liveIdentAt(index int) (Ident, bool) {
	seen := 0
	for _, a := range d.atoms {
		if a.Tombstone {
			continue
		}
		if seen == index {
			return a.ID, true
		}
		seen++
	}
	return nil, false
}

// LocalInsert inserts text at a live-character index (0 == start of
// document) and returns the Updates to broadcast to peers. The insert is
// applied to the local document as part of this call.
func (d *Document) LocalInsert(index int, text string) []Update {
	if index < 0 {
		index = 0
	}
	var lo Ident
	if index > 0 {
		if id, ok := d.liveIdentAt(index - 1); ok {
			lo = id
		} else {
			// index beyond current length: anchor to the last atom.
			if len(d.atoms) > 0 {
				lo = d.atoms[len(d.atoms)-1].ID
			}
		}
	}
	hi, _ := d.liveIdentAt(index)

	updates := make([]Update, 0, len(text))
	for _, ch := range text {
		id := genBetween(lo, hi, d.site)
		atom := Atom{ID: id, Site: d.site, Lamport: d.tick(), Char: ch}
		d.insertAtom(atom)
		updates = append(updates, Update{Atom: atom})
		lo = id
	}
	return updates
}

// LocalDelete tombstones count live characters starting at index and
// returns the Updates to broadcast.
func (d *Document) LocalDelete(index, count int) []Update {
	updates := make([]Update, 0, count)
	live := 0
	for i := range d.atoms {
		if d.atoms[i].Tombstone {
			continue
		}
		if live >= index && live < index+count {
			d.atoms[i].Tombstone = true
			d.atoms[i].Lamport = d.tick()
			updates = append(updates, Update{Atom: d.atoms[i]})
		}
		live++
	}
	return updates
}

// insertAtom places atom into the sorted slice by ID, or (if the ID is
// already present) merges tombstone/lamport state — the idempotent half of
// the merge rule.
func (d *Document) insertAtom(atom Atom) {
	i := sort.Search(len(d.atoms), func(i int) bool { return d.atoms[i].ID.Compare(atom.ID) >= 0 })
	if i < len(d.atoms) && d.atoms[i].ID.Compare(atom.ID) == 0 {
		if atom.Tombstone {
			d.atoms[i].Tombstone = true
		}
		if atom.Lamport > d.atoms[i].Lamport {
			d.atoms[i].Lamport = atom.Lamport
		}
		return
	}
	d.atoms = append(d.atoms, Atom{})
	copy(d.atoms[i+1:], d.atoms[i:])
	d.atoms[i] = atom
}

// ApplyUpdate imports a remote Update. Merge is idempotent (replaying the
// same atom is a no-op beyond the tombstone/lamport merge above),
// commutative and associative (final state depends only on the set of
// atoms seen, not the order they arrived in — spec §4.D convergence,
// invariant #6).
func (d *Document) ApplyUpdate(u Update) {
	d.insertAtom(u.Atom)
	d.observe(u.Atom.Site, u.Atom.Lamport)
}

// ApplyUpdates imports a batch, e.g. the payload of a full-sync.
func (d *Document) ApplyUpdates(us []Update) {
	for _, u := range us {
		d.ApplyUpdate(u)
	}
}

// Version returns the current per-site high-water marks.
func (d *Document) Version() Version {
	out := make(Version, len(d.seen))
	for k, v := range d.seen {
		out[k] = v
	}
	return out
}

// snapshotWire is the gob-encoded shape exported by ExportSnapshot.
type snapshotWire struct {
	Atoms []Atom
	Seen  Version
}

// ExportSnapshot serializes the full document state (spec §4.D "export of a
// compact snapshot"). Re-importing via ImportSnapshot reconstructs an
// identical document (invariant #5, round-trip).
func (d *Document) ExportSnapshot() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshotWire{Atoms: d.atoms, Seen: d.seen}); err != nil {
		return nil, fmt.Errorf("collab: export snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportSnapshot merges a previously exported snapshot into the document's
// state. Existing local atoms not present in the snapshot are kept rather
// than discarded, so ImportSnapshot is itself a safe merge, not a
// destructive overwrite — closing spec §4.D's "peer whose snapshot is
// behind requests a full sync" case without ever losing local edits.
func (d *Document) ImportSnapshot(data []byte) error {
	var wire snapshotWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return fmt.Errorf("collab: import snapshot: %w", err)
	}
	for _, a := range wire.Atoms {
		d.insertAtom(a)
	}
	for site, clock := range wire.Seen {
		d.observe(site, clock)
	}
	return nil
}

// ExportUpdatesSince returns every atom this document holds whose (site,
// lamport) is not already covered by v — the delta a peer at version v
// needs to catch up (spec §4.D "export of updates since version V").
func (d *Document) ExportUpdatesSince(v Version) []Update {
	var out []Update
	for _, a := range d.atoms {
		if a.Lamport > v[a.Site] {
			out = append(out, Update{Atom: a})
		}
	}
	return out
}

// Equal reports whether two documents serialize identically — the check
// invariant #6 (CRDT convergence) requires: canonical serialization of two
// documents that have seen the same update set must be byte-equal.
func (d *Document) Equal(other *Document) bool {
	a, err1 := d.ExportSnapshot()
	b, err2 := other.ExportSnapshot()
	if err1 != nil || err2 != nil {
		return false
	}
	return d.Text() == other.Text() && bytes.Equal(canonicalize(a), canonicalize(b))
}

// canonicalize re-encodes a snapshot with atoms sorted and Seen flattened
// into site-sorted slices, so two snapshots carrying the same atom set
// compare equal regardless of gob's map iteration order for Seen or
// incidental slice ordering.
func canonicalize(snapshot []byte) []byte {
	var wire snapshotWire
	if err := gob.NewDecoder(bytes.NewReader(snapshot)).Decode(&wire); err != nil {
		return snapshot
	}
	sort.Slice(wire.Atoms, func(i, j int) bool { return wire.Atoms[i].ID.Compare(wire.Atoms[j].ID) < 0 })
	type canonicalWire struct {
		Atoms  []Atom
		Sites  []string
		Clocks []uint64
	}
	out := canonicalWire{Atoms: wire.Atoms}
	for site := range wire.Seen {
		out.Sites = append(out.Sites, site)
	}
	sort.Strings(out.Sites)
	for _, site := range out.Sites {
		out.Clocks = append(out.Clocks, wire.Seen[site])
	}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(out)
	return buf.Bytes()
}
