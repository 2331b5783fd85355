// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package history implements the insertion-ordered, key-unique collection of
// captured selection items. The front of the list is the most recent item.
// Only the selection manager mutates a List; the presentation layer reads it.
package history

// List is an ordered map of item id -> item. A key exists at most once: any
// push or insert of an already present key removes the old position first.
type List struct {
	items map[uint64]*Item
	keys  []uint64
}

func NewList() *List {
	return &List{
		items: make(map[uint64]*Item),
	}
}

func (l *List) Len() int {
	return len(l.items)
}

// PushFront puts item at the front of the list, removing any previous
// position of id first. It returns the previously stored item, if any.
func (l *List) PushFront(id uint64, item *Item) *Item {
	old := l.removeKey(id)
	l.keys = append([]uint64{id}, l.keys...)
	l.items[id] = item
	return old
}

// PushBack puts item at the back of the list, removing any previous position
// of id first.
func (l *List) PushBack(id uint64, item *Item) *Item {
	old := l.removeKey(id)
	l.keys = append(l.keys, id)
	l.items[id] = item
	return old
}

// Insert puts item at position index. An index beyond the end appends.
func (l *List) Insert(index int, id uint64, item *Item) *Item {
	old := l.removeKey(id)
	if index > len(l.keys) {
		index = len(l.keys)
	}
	l.keys = append(l.keys, 0)
	copy(l.keys[index+1:], l.keys[index:])
	l.keys[index] = id
	l.items[id] = item
	return old
}

func (l *List) removeKey(id uint64) *Item {
	old, ok := l.items[id]
	if !ok {
		return nil
	}
	delete(l.items, id)
	for i, key := range l.keys {
		if key == id {
			l.keys = append(l.keys[:i], l.keys[i+1:]...)
			break
		}
	}
	return old
}

func (l *List) Remove(id uint64) *Item {
	return l.removeKey(id)
}

func (l *List) PopFront() (uint64, *Item, bool) {
	if len(l.keys) == 0 {
		return 0, nil, false
	}
	id := l.keys[0]
	l.keys = l.keys[1:]
	item := l.items[id]
	delete(l.items, id)
	return id, item, true
}

func (l *List) PopBack() (uint64, *Item, bool) {
	if len(l.keys) == 0 {
		return 0, nil, false
	}
	id := l.keys[len(l.keys)-1]
	l.keys = l.keys[:len(l.keys)-1]
	item := l.items[id]
	delete(l.items, id)
	return id, item, true
}

func (l *List) Front() (uint64, *Item, bool) {
	if len(l.keys) == 0 {
		return 0, nil, false
	}
	id := l.keys[0]
	return id, l.items[id], true
}

func (l *List) Back() (uint64, *Item, bool) {
	if len(l.keys) == 0 {
		return 0, nil, false
	}
	id := l.keys[len(l.keys)-1]
	return id, l.items[id], true
}

func (l *List) Get(id uint64) *Item {
	return l.items[id]
}

func (l *List) GetByIndex(index int) (uint64, *Item, bool) {
	if index < 0 || index >= len(l.keys) {
		return 0, nil, false
	}
	id := l.keys[index]
	return id, l.items[id], true
}

func (l *List) Contains(id uint64) bool {
	_, ok := l.items[id]
	return ok
}

// SplitOff moves the tail starting at position at into a new list, keeping
// positional order. Used to carve off evicted overflow.
func (l *List) SplitOff(at int) *List {
	other := NewList()
	if at >= len(l.keys) {
		return other
	}
	if at < 0 {
		at = 0
	}
	split := l.keys[at:]
	l.keys = l.keys[:at:at]
	for _, id := range split {
		if item, ok := l.items[id]; ok {
			delete(l.items, id)
			other.PushBack(id, item)
		}
	}
	return other
}

func (l *List) Clear() {
	l.items = make(map[uint64]*Item)
	l.keys = nil
}

// BinarySearchBy locates a position using cmp, which reports the ordering of
// the probed entry relative to the wanted one (negative = before, positive =
// after). The list itself carries no ordering beyond insertion order; this
// exists for the presentation layer, which searches by on-screen position.
// It returns the matching index, or the insertion index and false.
func (l *List) BinarySearchBy(cmp func(id uint64, item *Item) int) (int, bool) {
	lo, hi := 0, len(l.keys)
	for lo < hi {
		mid := (lo + hi) / 2
		c := cmp(l.keys[mid], l.items[l.keys[mid]])
		if c == 0 {
			return mid, true
		} else if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, false
}

// Iter returns a double-ended iterator over (id, item) in positional order.
// A key whose item has been removed underneath a stale iterator is skipped,
// not a fault.
func (l *List) Iter() *Iter {
	return &Iter{list: l}
}

type Iter struct {
	list    *List
	idx     int
	backIdx int
}

func (it *Iter) Next() (uint64, *Item, bool) {
	for it.idx < len(it.list.keys)-it.backIdx {
		id := it.list.keys[it.idx]
		it.idx++
		if item, ok := it.list.items[id]; ok {
			return id, item, true
		}
	}
	return 0, nil, false
}

func (it *Iter) NextBack() (uint64, *Item, bool) {
	for it.backIdx < len(it.list.keys)-it.idx {
		id := it.list.keys[len(it.list.keys)-it.backIdx-1]
		it.backIdx++
		if item, ok := it.list.items[id]; ok {
			return id, item, true
		}
	}
	return 0, nil, false
}
