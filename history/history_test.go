// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTextItem(text string) *Item {
	data := map[string][]byte{"text/plain": []byte(text)}
	return &Item{ID: HashData(data), Data: data}
}

func listIDs(l *List) []uint64 {
	var ids []uint64
	it := l.Iter()
	for {
		id, _, ok := it.Next()
		if !ok {
			break
		}
		ids = append(ids, id)
	}
	return ids
}

func TestPushFrontKeepsKeysUnique(t *testing.T) {
	l := NewList()
	a := newTextItem("a")
	b := newTextItem("b")

	l.PushFront(a.ID, a)
	l.PushFront(b.ID, b)
	assert.Equal(t, []uint64{b.ID, a.ID}, listIDs(l))

	// pushing an existing key removes the old position first
	l.PushFront(a.ID, a)
	assert.Equal(t, []uint64{a.ID, b.ID}, listIDs(l))
	assert.Equal(t, 2, l.Len())
}

func TestPushBackAndPop(t *testing.T) {
	l := NewList()
	a := newTextItem("a")
	b := newTextItem("b")
	c := newTextItem("c")

	l.PushBack(a.ID, a)
	l.PushBack(b.ID, b)
	l.PushBack(c.ID, c)

	id, item, ok := l.PopFront()
	require.True(t, ok)
	assert.Equal(t, a.ID, id)
	assert.Same(t, a, item)

	id, item, ok = l.PopBack()
	require.True(t, ok)
	assert.Equal(t, c.ID, id)
	assert.Same(t, c, item)

	assert.Equal(t, 1, l.Len())

	_, _, ok = l.GetByIndex(5)
	assert.False(t, ok)
	id, _, ok = l.GetByIndex(0)
	require.True(t, ok)
	assert.Equal(t, b.ID, id)
}

func TestInsertRemove(t *testing.T) {
	l := NewList()
	a := newTextItem("a")
	b := newTextItem("b")
	c := newTextItem("c")

	l.PushBack(a.ID, a)
	l.PushBack(c.ID, c)
	l.Insert(1, b.ID, b)
	assert.Equal(t, []uint64{a.ID, b.ID, c.ID}, listIDs(l))

	removed := l.Remove(b.ID)
	assert.Same(t, b, removed)
	assert.Nil(t, l.Remove(b.ID))
	assert.Equal(t, []uint64{a.ID, c.ID}, listIDs(l))
	assert.False(t, l.Contains(b.ID))
}

func TestSplitOff(t *testing.T) {
	l := NewList()
	var ids []uint64
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		item := newTextItem(text)
		ids = append(ids, item.ID)
		l.PushBack(item.ID, item)
	}

	tail := l.SplitOff(3)
	assert.Equal(t, ids[:3], listIDs(l))
	assert.Equal(t, ids[3:], listIDs(tail))

	// splitting past the end yields an empty list
	empty := l.SplitOff(10)
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, 3, l.Len())
}

func TestIterBothEnds(t *testing.T) {
	l := NewList()
	a := newTextItem("a")
	b := newTextItem("b")
	c := newTextItem("c")
	l.PushBack(a.ID, a)
	l.PushBack(b.ID, b)
	l.PushBack(c.ID, c)

	it := l.Iter()
	id, _, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, a.ID, id)

	id, _, ok = it.NextBack()
	require.True(t, ok)
	assert.Equal(t, c.ID, id)

	id, _, ok = it.Next()
	require.True(t, ok)
	assert.Equal(t, b.ID, id)

	_, _, ok = it.Next()
	assert.False(t, ok)
	_, _, ok = it.NextBack()
	assert.False(t, ok)
}

func TestBinarySearchBy(t *testing.T) {
	l := NewList()
	items := []string{"a", "b", "c", "d"}
	var ids []uint64
	for _, text := range items {
		item := newTextItem(text)
		ids = append(ids, item.ID)
		l.PushBack(item.ID, item)
	}

	// search by a property of the current position: texts are in order
	for want, text := range items {
		idx, found := l.BinarySearchBy(func(id uint64, item *Item) int {
			probe := string(item.Data["text/plain"])
			if probe < text {
				return -1
			} else if probe > text {
				return 1
			}
			return 0
		})
		require.True(t, found, "text %q", text)
		assert.Equal(t, want, idx)
		assert.Equal(t, ids[want], func() uint64 { id, _, _ := l.GetByIndex(idx); return id }())
	}

	_, found := l.BinarySearchBy(func(id uint64, item *Item) int {
		return 1
	})
	assert.False(t, found)
}

func TestHashDataDeterministic(t *testing.T) {
	a := map[string][]byte{
		"text/plain": []byte("hello"),
		"image/png":  {0x89, 0x50, 0x4e, 0x47},
	}
	b := map[string][]byte{
		"image/png":  {0x89, 0x50, 0x4e, 0x47},
		"text/plain": []byte("hello"),
	}
	assert.Equal(t, HashData(a), HashData(b))

	c := map[string][]byte{
		"text/plain": []byte("hello!"),
		"image/png":  {0x89, 0x50, 0x4e, 0x47},
	}
	assert.NotEqual(t, HashData(a), HashData(c))

	// length prefixes keep adjacent fields from bleeding into each other
	d := map[string][]byte{"ab": []byte("c")}
	e := map[string][]byte{"a": []byte("bc")}
	assert.NotEqual(t, HashData(d), HashData(e))
}

func TestMetadataTogglePrune(t *testing.T) {
	var md Metadata
	assert.False(t, md.IsPinned(1))

	assert.True(t, md.TogglePin(1))
	assert.True(t, md.TogglePin(2))
	assert.True(t, md.IsPinned(1))
	assert.Equal(t, 2, md.PinCount())

	assert.False(t, md.TogglePin(1))
	assert.False(t, md.IsPinned(1))

	md.TogglePin(3)
	md.Prune(func(id uint64) bool { return id == 3 })
	assert.Equal(t, []uint64{3}, md.Pinned)
}
