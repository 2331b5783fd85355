// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package persistence

import (
	"encoding/binary"
	"os"
	"sync"
	"sync/atomic"
)

// writeChunkSize bounds how many bytes are written between cancellation
// checks, so a superseded save aborts promptly instead of finishing its I/O.
const writeChunkSize = 64 * 1024

type saveRequest struct {
	payload   []byte
	cancelled atomic.Bool
}

// backgroundWriter serializes all file writes on one goroutine. Submitting a
// new payload cancels the previous request; a cancelled write may have
// partially filled the temp file, which is harmless because the temp file is
// only renamed into place after a complete, uncancelled write.
type backgroundWriter struct {
	path string

	mu      sync.Mutex
	pending *saveRequest
	closed  bool

	requests chan *saveRequest
	done     chan struct{}
}

func newBackgroundWriter(path string) *backgroundWriter {
	w := &backgroundWriter{
		path:     path,
		requests: make(chan *saveRequest, 16),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *backgroundWriter) submit(payload []byte) {
	req := &saveRequest{payload: payload}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		logger.Warning("save after close ignored:", w.path)
		return
	}
	if w.pending != nil {
		w.pending.cancelled.Store(true)
	}
	w.pending = req
	w.mu.Unlock()

	w.requests <- req
}

func (w *backgroundWriter) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	close(w.requests)
	<-w.done
}

func (w *backgroundWriter) loop() {
	defer close(w.done)
	for req := range w.requests {
		if req.cancelled.Load() {
			continue
		}
		err := w.write(req)
		if err != nil {
			// nobody is waiting on a background save
			logger.Warning("background save failed:", err)
		}
	}
}

func (w *backgroundWriter) write(req *saveRequest) error {
	tmpPath := w.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}

	abort := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], formatVersion)
	_, err = f.Write(header[:])
	if err != nil {
		abort()
		return err
	}

	payload := req.payload
	for len(payload) > 0 {
		if req.cancelled.Load() {
			logger.Debug("background save superseded, aborting:", w.path)
			abort()
			return nil
		}
		n := len(payload)
		if n > writeChunkSize {
			n = writeChunkSize
		}
		_, err = f.Write(payload[:n])
		if err != nil {
			abort()
			return err
		}
		payload = payload[n:]
	}

	if req.cancelled.Load() {
		abort()
		return nil
	}

	err = f.Sync()
	if err != nil {
		abort()
		return err
	}
	err = f.Close()
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	// the rename is the commit point
	return os.Rename(tmpPath, w.path)
}
