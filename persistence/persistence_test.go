// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package persistence

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxdeepin/dde-clipboard-daemon/history"
)

func makeHistory(texts ...string) *history.List {
	items := history.NewList()
	for _, text := range texts {
		data := map[string][]byte{
			"text/plain": []byte(text),
			"text/html":  []byte("<b>" + text + "</b>"),
		}
		id := history.HashData(data)
		items.PushBack(id, &history.Item{ID: id, Data: data})
	}
	return items
}

func historyIDs(items *history.List) []uint64 {
	var ids []uint64
	it := items.Iter()
	for {
		id, _, ok := it.Next()
		if !ok {
			break
		}
		ids = append(ids, id)
	}
	return ids
}

func TestLoadMissingFile(t *testing.T) {
	p := NewWithPath(filepath.Join(t.TempDir(), "clipboard_selections"))
	defer p.Close()

	items, md, err := p.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, items.Len())
	assert.Equal(t, 0, md.PinCount())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clipboard_selections")
	p := NewWithPath(path)

	items := makeHistory("first", "second", "third")
	md := &history.Metadata{}
	_, front, _ := items.Front()
	md.TogglePin(front.ID)

	p.Save(items, md)
	p.Close()

	p2 := NewWithPath(path)
	defer p2.Close()
	loaded, loadedMd, err := p2.Load()
	require.NoError(t, err)

	assert.Equal(t, historyIDs(items), historyIDs(loaded))
	assert.Equal(t, md.Pinned, loadedMd.Pinned)

	it := items.Iter()
	for {
		id, item, ok := it.Next()
		if !ok {
			break
		}
		got := loaded.Get(id)
		require.NotNil(t, got)
		assert.Equal(t, item.Data, got.Data)
	}
}

func TestLegacyFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "primary_selections")

	items := makeHistory("old", "older", "oldest")
	err := os.WriteFile(path, EncodeLegacy(items), 0600)
	require.NoError(t, err)

	p := NewWithPath(path)
	defer p.Close()
	loaded, md, err := p.Load()
	require.NoError(t, err)

	assert.Equal(t, historyIDs(items), historyIDs(loaded))
	assert.Equal(t, 0, md.PinCount())
}

func TestVersionedDecodeTriedBeforeLegacy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clipboard_selections")
	p := NewWithPath(path)

	// an empty history still carries the version header and empty counts
	p.Save(history.NewList(), &history.Metadata{})
	p.Close()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// version 2, zero items, zero pins
	assert.Equal(t, []byte{2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, raw)

	p2 := NewWithPath(path)
	defer p2.Close()
	loaded, md, err := p2.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
	assert.Equal(t, 0, md.PinCount())
}

func TestCorruptFileFailsLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clipboard_selections")
	err := os.WriteFile(path, []byte{9, 9, 9, 9, 1, 2, 3}, 0600)
	require.NoError(t, err)

	p := NewWithPath(path)
	defer p.Close()
	_, _, err = p.Load()
	assert.Error(t, err)
}

func TestSupersededSaveNeverCorrupts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clipboard_selections")
	p := NewWithPath(path)

	historyA := makeHistory("aaaa")
	historyB := makeHistory("bbbb")
	md := &history.Metadata{}

	// B supersedes A before A can complete; the file must end up holding
	// exactly B (or A, but never a splice of both)
	p.Save(historyA, md)
	p.Save(historyB, md)
	p.Close()

	loaded, _, err := NewWithPath(path).Load()
	require.NoError(t, err)

	if !bytes.Equal(encodePayload(loaded, md), encodePayload(historyB, md)) {
		assert.Equal(t, encodePayload(historyA, md), encodePayload(loaded, md),
			"file holds neither A nor B intact")
	}
}

func TestItemWithoutDataRejected(t *testing.T) {
	// one item, id 1, zero mimes
	var buf []byte
	buf = appendU32(buf, 1)
	buf = appendU64(buf, 1)
	buf = appendU32(buf, 0)

	_, err := decodeLegacy(buf)
	assert.Error(t, err)
}
