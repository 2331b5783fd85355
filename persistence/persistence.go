// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package persistence stores the selection history in a versioned binary
// file. Loading happens once at startup; saving is handed to a single
// background writer so the event loop never waits on disk.
package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/linuxdeepin/dde-clipboard-daemon/history"
	"github.com/linuxdeepin/go-lib/log"
	"github.com/linuxdeepin/go-lib/xdg/basedir"
)

var logger = log.NewLogger("daemon/clipboard-persistence")

// On-disk layout: a 4 byte little-endian format version, then the encoded
// (history, metadata) payload. Files written before the version header was
// introduced contain a plain item sequence starting at offset 0.
const formatVersion = 2

const dataDirName = "dde-clipboard-daemon"

type Persistence struct {
	path   string
	writer *backgroundWriter
}

// New creates a Persistence rooted in the user XDG data directory. name
// distinguishes the files of different selections ("clipboard", "primary").
func New(name string) (*Persistence, error) {
	dir := filepath.Join(basedir.GetUserDataDir(), dataDirName)
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return nil, err
	}
	return NewWithPath(filepath.Join(dir, name+"_selections")), nil
}

// NewWithPath creates a Persistence writing to an explicit file path.
func NewWithPath(path string) *Persistence {
	return &Persistence{
		path:   path,
		writer: newBackgroundWriter(path),
	}
}

func (p *Persistence) Path() string {
	return p.path
}

// Save serializes the history synchronously and queues the bytes for the
// background writer. A save still in flight is superseded: its cancellation
// flag is set and the newer payload wins. Save never blocks on I/O and
// never reports write errors; those are logged by the writer.
func (p *Persistence) Save(items *history.List, md *history.Metadata) {
	p.writer.submit(encodePayload(items, md))
}

// Close stops the background writer, waiting for a pending write to finish
// or cancel.
func (p *Persistence) Close() {
	p.writer.close()
}

// Load reads the history file. A missing file yields an empty history. A
// file that decodes neither as a versioned payload nor as the legacy item
// sequence is a fatal startup error for the caller.
func (p *Persistence) Load() (*history.List, *history.Metadata, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		logger.Info("no persisted selection file, starting empty:", p.path)
		return history.NewList(), &history.Metadata{}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if len(data) == 0 {
		return history.NewList(), &history.Metadata{}, nil
	}

	items, md, verErr := decodeVersioned(data)
	if verErr == nil {
		logger.Infof("loaded %d items from %s", items.Len(), p.path)
		return items, md, nil
	}

	// Only after the versioned decode fails may the legacy format be tried,
	// otherwise a newer file could silently be truncated to its prefix.
	items, legacyErr := decodeLegacy(data)
	if legacyErr == nil {
		logger.Infof("loaded %d items from legacy file %s", items.Len(), p.path)
		return items, &history.Metadata{}, nil
	}

	return nil, nil, fmt.Errorf("decode %s failed: %v (legacy fallback: %v)",
		p.path, verErr, legacyErr)
}

func encodePayload(items *history.List, md *history.Metadata) []byte {
	var buf []byte
	buf = appendU32(buf, uint32(items.Len()))
	it := items.Iter()
	for {
		id, item, ok := it.Next()
		if !ok {
			break
		}
		buf = appendU64(buf, id)
		buf = appendU32(buf, uint32(len(item.Data)))
		for _, mime := range item.SortedMimes() {
			buf = appendBytes(buf, []byte(mime))
			buf = appendBytes(buf, item.Data[mime])
		}
	}
	buf = appendU32(buf, uint32(len(md.Pinned)))
	for _, id := range md.Pinned {
		buf = appendU64(buf, id)
	}
	return buf
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendBytes(buf, data []byte) []byte {
	buf = appendU32(buf, uint32(len(data)))
	return append(buf, data...)
}

var errTruncated = errors.New("unexpected end of data")

type decoder struct {
	data []byte
	off  int
}

func (d *decoder) u32() (uint32, error) {
	if d.off+4 > len(d.data) {
		return 0, errTruncated
	}
	v := binary.LittleEndian.Uint32(d.data[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if d.off+8 > len(d.data) {
		return 0, errTruncated
	}
	v := binary.LittleEndian.Uint64(d.data[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if d.off+int(n) > len(d.data) {
		return nil, errTruncated
	}
	v := make([]byte, n)
	copy(v, d.data[d.off:])
	d.off += int(n)
	return v, nil
}

func (d *decoder) rest() int {
	return len(d.data) - d.off
}

func (d *decoder) items() (*history.List, error) {
	count, err := d.u32()
	if err != nil {
		return nil, err
	}
	items := history.NewList()
	for i := uint32(0); i < count; i++ {
		id, err := d.u64()
		if err != nil {
			return nil, err
		}
		mimeCount, err := d.u32()
		if err != nil {
			return nil, err
		}
		if mimeCount == 0 {
			return nil, fmt.Errorf("item %d has no data", id)
		}
		data := make(map[string][]byte, mimeCount)
		for j := uint32(0); j < mimeCount; j++ {
			mime, err := d.bytes()
			if err != nil {
				return nil, err
			}
			value, err := d.bytes()
			if err != nil {
				return nil, err
			}
			data[string(mime)] = value
		}
		// re-keying drops duplicate ids, newest position wins
		items.PushBack(id, &history.Item{ID: id, Data: data})
	}
	return items, nil
}

func decodeVersioned(data []byte) (*history.List, *history.Metadata, error) {
	d := &decoder{data: data}
	version, err := d.u32()
	if err != nil {
		return nil, nil, err
	}
	if version != formatVersion {
		return nil, nil, fmt.Errorf("unknown format version %d", version)
	}

	items, err := d.items()
	if err != nil {
		return nil, nil, err
	}

	md := &history.Metadata{}
	pinCount, err := d.u32()
	if err != nil {
		return nil, nil, err
	}
	for i := uint32(0); i < pinCount; i++ {
		id, err := d.u64()
		if err != nil {
			return nil, nil, err
		}
		md.Pinned = append(md.Pinned, id)
	}

	if d.rest() != 0 {
		return nil, nil, fmt.Errorf("%d trailing bytes", d.rest())
	}
	return items, md, nil
}

func decodeLegacy(data []byte) (*history.List, error) {
	d := &decoder{data: data}
	items, err := d.items()
	if err != nil {
		return nil, err
	}
	if d.rest() != 0 {
		return nil, fmt.Errorf("%d trailing bytes", d.rest())
	}
	return items, nil
}

// EncodeLegacy renders the pre-version plain item sequence. It exists for
// tests and for downgrading tools; the daemon itself always writes the
// current version.
func EncodeLegacy(items *history.List) []byte {
	var buf []byte
	buf = appendU32(buf, uint32(items.Len()))
	it := items.Iter()
	for {
		id, item, ok := it.Next()
		if !ok {
			break
		}
		buf = appendU64(buf, id)
		buf = appendU32(buf, uint32(len(item.Data)))
		for _, mime := range item.SortedMimes() {
			buf = appendBytes(buf, []byte(mime))
			buf = appendBytes(buf, item.Data[mime])
		}
	}
	return buf
}
