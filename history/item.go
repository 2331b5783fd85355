// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package history

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// hashSeed is mixed into every content hash so ids are stable across runs
// but distinct from a plain xxhash of the payload.
const hashSeed uint64 = 0xfd9aadcf54cc0f35

// Item is one captured selection snapshot. The Data map is never empty and
// never mutated after the item has been created.
type Item struct {
	ID   uint64
	Data map[string][]byte // MIME type name -> raw payload
}

// SortedMimes returns the MIME type names of the item in lexical order.
func (item *Item) SortedMimes() []string {
	return sortedMimes(item.Data)
}

func sortedMimes(data map[string][]byte) []string {
	mimes := make([]string, 0, len(data))
	for mime := range data {
		mimes = append(mimes, mime)
	}
	sort.Strings(mimes)
	return mimes
}

// HashData computes the content id of a MIME map. Entries are serialized in
// key order with length prefixes, so the id does not depend on the order the
// MIME types were discovered in.
func HashData(data map[string][]byte) uint64 {
	var buf [8]byte
	d := xxhash.New()

	binary.LittleEndian.PutUint64(buf[:], hashSeed)
	_, _ = d.Write(buf[:])

	for _, mime := range sortedMimes(data) {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(mime)))
		_, _ = d.Write(buf[:])
		_, _ = d.WriteString(mime)

		value := data[mime]
		binary.LittleEndian.PutUint64(buf[:], uint64(len(value)))
		_, _ = d.Write(buf[:])
		_, _ = d.Write(value)
	}
	return d.Sum64()
}

// Metadata is the small auxiliary record persisted alongside the history:
// the ordered list of pinned item ids. Pins are ordering hints for the
// presentation layer and do not exempt items from eviction.
type Metadata struct {
	Pinned []uint64
}

func (md *Metadata) PinCount() int {
	return len(md.Pinned)
}

func (md *Metadata) IsPinned(id uint64) bool {
	for _, pinned := range md.Pinned {
		if pinned == id {
			return true
		}
	}
	return false
}

// TogglePin flips the pinned state of id and reports the new state.
func (md *Metadata) TogglePin(id uint64) bool {
	for i, pinned := range md.Pinned {
		if pinned == id {
			md.Pinned = append(md.Pinned[:i], md.Pinned[i+1:]...)
			return false
		}
	}
	md.Pinned = append(md.Pinned, id)
	return true
}

// Prune drops pins whose ids are no longer accepted by keep.
func (md *Metadata) Prune(keep func(id uint64) bool) {
	pinned := md.Pinned[:0]
	for _, id := range md.Pinned {
		if keep(id) {
			pinned = append(pinned, id)
		}
	}
	md.Pinned = pinned
}
