// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package clipboard

import (
	"errors"
	"fmt"

	"github.com/linuxdeepin/dde-clipboard-daemon/config"
	x "github.com/linuxdeepin/go-x11-client"
)

// modifierKeysyms maps the modifier names allowed in paste keymaps to the
// keysym actually synthesized.
var modifierKeysyms = map[string]string{
	"control": "Control_L",
	"shift":   "Shift_L",
	"alt":     "Alt_L",
	"super":   "Super_L",
	"meta":    "Meta_L",
}

// paste makes item id the selection content and then triggers the paste in
// the focused application: a keyboard chord for CLIPBOARD, a middle click
// at (pasteX, pasteY) for PRIMARY.
func (m *Manager) paste(itemID uint64, pasteX, pasteY int16) error {
	err := m.becomeOwner(itemID)
	if err != nil {
		return err
	}

	if m.selection == atomPrimary {
		return m.injectMiddleClick(pasteX, pasteY)
	}
	return m.injectPasteChord()
}

func (m *Manager) injectPasteChord() error {
	focused, err := m.xc.GetInputFocus()
	if err != nil {
		return err
	}
	if focused == x.None || m.isOwnWindow(focused) {
		logger.Debug("no pasteable window focused, ownership only")
		return nil
	}

	strokes := m.pasteStrokesFor(focused)
	for _, stroke := range strokes {
		err = m.injectKeyStroke(stroke)
		if err != nil {
			return err
		}
	}
	return m.xc.Flush()
}

func (m *Manager) isOwnWindow(win x.Window) bool {
	if win == m.eventWin {
		return true
	}
	_, ok := m.requestTasks[win]
	return ok
}

// pasteStrokesFor picks the chord for the focused application: the keymap
// matching the WM_CLASS instance wins over the one matching the class,
// which wins over the Ctrl+V default.
func (m *Manager) pasteStrokesFor(win x.Window) []config.KeyStroke {
	instance, class, err := m.xc.GetWindowClass(win)
	if err != nil {
		logger.Debug("failed to read WM_CLASS:", err)
		return []config.KeyStroke{config.DefaultPasteKeyStroke}
	}
	if strokes, ok := m.cfg.AppPasteKeymaps[instance]; ok {
		return strokes
	}
	if strokes, ok := m.cfg.AppPasteKeymaps[class]; ok {
		return strokes
	}
	return []config.KeyStroke{config.DefaultPasteKeyStroke}
}

// injectKeyStroke presses the modifiers in order, then the key, then
// releases everything in reverse order.
func (m *Manager) injectKeyStroke(stroke config.KeyStroke) error {
	var codes []x.Keycode
	for _, mod := range stroke.Modifiers {
		keysym, ok := modifierKeysyms[mod]
		if !ok {
			return fmt.Errorf("unknown modifier %q", mod)
		}
		code, err := m.xc.StringToKeycode(keysym)
		if err != nil {
			return err
		}
		codes = append(codes, code)
	}
	keyCode, err := m.xc.StringToKeycode(stroke.Key)
	if err != nil {
		return err
	}
	codes = append(codes, keyCode)

	for _, code := range codes {
		err = m.xc.FakeInput(x.KeyPressEventCode, uint8(code), 0, 0)
		if err != nil {
			return err
		}
	}
	for i := len(codes) - 1; i >= 0; i-- {
		err = m.xc.FakeInput(x.KeyReleaseEventCode, uint8(codes[i]), 0, 0)
		if err != nil {
			return err
		}
	}
	return nil
}

// injectMiddleClick moves the pointer to the paste position, middle-clicks
// and puts the pointer back.
func (m *Manager) injectMiddleClick(pasteX, pasteY int16) error {
	savedX, savedY, err := m.xc.QueryPointer()
	if err != nil {
		return err
	}
	err = m.xc.FakeInput(x.MotionNotifyEventCode, 0, pasteX, pasteY)
	if err != nil {
		return err
	}
	err = m.xc.FakeInput(x.ButtonPressEventCode, 2, pasteX, pasteY)
	if err != nil {
		return err
	}
	err = m.xc.FakeInput(x.ButtonReleaseEventCode, 2, pasteX, pasteY)
	if err != nil {
		return err
	}
	err = m.xc.FakeInput(x.MotionNotifyEventCode, 0, savedX, savedY)
	if err != nil {
		return err
	}
	return m.xc.Flush()
}

func (m *Manager) togglePin(itemID uint64) (bool, error) {
	if !m.items.Contains(itemID) {
		return false, errors.New("no such history item")
	}
	pinned := m.meta.TogglePin(itemID)
	m.store.Save(m.items, m.meta)
	m.notifyChanged()
	return pinned, nil
}

func (m *Manager) removeItem(itemID uint64) error {
	if m.items.Remove(itemID) == nil {
		return errors.New("no such history item")
	}
	m.meta.Prune(m.items.Contains)
	m.store.Save(m.items, m.meta)
	m.notifyChanged()
	return nil
}

func (m *Manager) clear() {
	m.items.Clear()
	m.meta.Pinned = nil
	m.lastCapture = captureRecord{}
	m.store.Save(m.items, m.meta)
	m.notifyChanged()
}
