// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package clipboard

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/linuxdeepin/go-lib/dbusutil"
)

const (
	dbusServiceName = "org.deepin.dde.ClipboardDaemon1"
	dbusPath        = "/org/deepin/dde/ClipboardDaemon1"
	dbusInterface   = dbusServiceName
)

func (m *Manager) GetInterfaceName() string {
	return dbusInterface
}

// do runs fn on the event loop and waits for it. Every DBus method goes
// through here; Manager state must not be touched from dbus goroutines.
func (m *Manager) do(fn func()) {
	done := make(chan struct{})
	m.ops <- func() {
		fn()
		close(done)
	}
	<-done
}

func (m *Manager) emitChanged() {
	if m.service == nil {
		return
	}
	err := m.service.Emit(m, "Changed")
	if err != nil {
		logger.Warning("failed to emit Changed:", err)
	}
}

func (m *Manager) emitShowWindow() {
	if m.service == nil {
		return
	}
	err := m.service.Emit(m, "ShowWindow")
	if err != nil {
		logger.Warning("failed to emit ShowWindow:", err)
	}
}

// Paste makes item itemID the selection content and triggers a paste in the
// focused application. pasteX and pasteY are root coordinates for the
// middle click used by the PRIMARY selection; the CLIPBOARD selection
// ignores them.
func (m *Manager) Paste(itemID uint64, pasteX, pasteY int16) *dbus.Error {
	logger.Infof("dbus call Paste with item %d at (%d,%d)", itemID, pasteX, pasteY)

	var err error
	m.do(func() {
		err = m.paste(itemID, pasteX, pasteY)
	})
	if err != nil {
		logger.Warning(err)
		return dbusutil.ToError(err)
	}
	return nil
}

func (m *Manager) TogglePin(itemID uint64) (bool, *dbus.Error) {
	logger.Infof("dbus call TogglePin with item %d", itemID)

	var pinned bool
	var err error
	m.do(func() {
		pinned, err = m.togglePin(itemID)
	})
	if err != nil {
		logger.Warning(err)
		return false, dbusutil.ToError(err)
	}
	return pinned, nil
}

func (m *Manager) RemoveItem(itemID uint64) *dbus.Error {
	logger.Infof("dbus call RemoveItem with item %d", itemID)

	var err error
	m.do(func() {
		err = m.removeItem(itemID)
	})
	if err != nil {
		logger.Warning(err)
		return dbusutil.ToError(err)
	}
	return nil
}

func (m *Manager) Clear() *dbus.Error {
	logger.Info("dbus call Clear")

	m.do(m.clear)
	return nil
}

// SaveNow queues an immediate persistence pass, for callers about to end
// the session.
func (m *Manager) SaveNow() *dbus.Error {
	logger.Info("dbus call SaveNow")

	m.do(func() {
		m.store.Save(m.items, m.meta)
	})
	return nil
}

// GetHistory returns the item ids front (most recent) to back.
func (m *Manager) GetHistory() ([]uint64, *dbus.Error) {
	var ids []uint64
	m.do(func() {
		it := m.items.Iter()
		for {
			id, _, ok := it.Next()
			if !ok {
				break
			}
			ids = append(ids, id)
		}
	})
	return ids, nil
}

// GetItem returns the MIME map of one history item.
func (m *Manager) GetItem(itemID uint64) (map[string][]byte, *dbus.Error) {
	var data map[string][]byte
	m.do(func() {
		item := m.items.Get(itemID)
		if item == nil {
			return
		}
		data = make(map[string][]byte, len(item.Data))
		for mime, value := range item.Data {
			data[mime] = value
		}
	})
	if data == nil {
		return nil, dbusutil.ToError(fmt.Errorf("no such history item %d", itemID))
	}
	return data, nil
}

func (m *Manager) GetPinned() ([]uint64, *dbus.Error) {
	var ids []uint64
	m.do(func() {
		ids = append(ids, m.meta.Pinned...)
	})
	return ids, nil
}

// DumpHistory renders a one-line-per-item summary for debugging.
func (m *Manager) DumpHistory() (string, *dbus.Error) {
	logger.Info("dbus call DumpHistory")

	var sb strings.Builder
	m.do(func() {
		fmt.Fprintf(&sb, "%s: %d items, %d pinned, %d transfers in flight\n",
			m.selectionName, m.items.Len(), m.meta.PinCount(), m.pool.InFlight())
		it := m.items.Iter()
		for {
			id, item, ok := it.Next()
			if !ok {
				break
			}
			size := 0
			for _, value := range item.Data {
				size += len(value)
			}
			fmt.Fprintf(&sb, "%d: %v, %d bytes", id, item.SortedMimes(), size)
			if m.meta.IsPinned(id) {
				sb.WriteString(", pinned")
			}
			sb.WriteString("\n")
		}
	})
	return sb.String(), nil
}
