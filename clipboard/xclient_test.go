// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package clipboard

import (
	"encoding/binary"
	"fmt"

	x "github.com/linuxdeepin/go-x11-client"
)

// fakeXClient is a scripted X server double. Properties, atoms and
// selection owners live in maps; requests are recorded for assertions.
type fakeXClient struct {
	atoms      map[string]x.Atom
	atomNames  map[x.Atom]string
	nextAtom   x.Atom
	nextWindow x.Window

	props      map[propKey]propValue
	owners     map[x.Atom]x.Window
	eventMasks map[x.Window]uint32

	converts []convertCall
	notifies []sentNotify
	inputs   []fakeInputCall

	focus      x.Window
	wmInstance string
	wmClass    string
	pointerX   int16
	pointerY   int16
	keycodes   map[string]x.Keycode
}

type propKey struct {
	win  x.Window
	prop x.Atom
}

type propValue struct {
	typ    x.Atom
	format uint8
	data   []byte
}

type convertCall struct {
	requestor x.Window
	selection x.Atom
	target    x.Atom
	property  x.Atom
}

type sentNotify struct {
	dest  x.Window
	event x.SelectionNotifyEvent
}

type fakeInputCall struct {
	eventCode uint8
	detail    uint8
	rootX     int16
	rootY     int16
}

func newFakeXClient() *fakeXClient {
	return &fakeXClient{
		atoms:      make(map[string]x.Atom),
		atomNames:  make(map[x.Atom]string),
		nextAtom:   100,
		nextWindow: 1,
		props:      make(map[propKey]propValue),
		owners:     make(map[x.Atom]x.Window),
		eventMasks: make(map[x.Window]uint32),
		keycodes:   make(map[string]x.Keycode),
	}
}

func (f *fakeXClient) Conn() *x.Conn { return nil }
func (f *fakeXClient) Flush() error  { return nil }

func (f *fakeXClient) GetAtom(name string) (x.Atom, error) {
	if atom, ok := f.atoms[name]; ok {
		return atom, nil
	}
	atom := f.nextAtom
	f.nextAtom++
	f.atoms[name] = atom
	f.atomNames[atom] = name
	return atom, nil
}

func (f *fakeXClient) GetAtomName(atom x.Atom) (string, error) {
	if name, ok := f.atomNames[atom]; ok {
		return name, nil
	}
	return "", fmt.Errorf("unknown atom %d", atom)
}

func (f *fakeXClient) CreateWindow(eventMask uint32, title string) (x.Window, error) {
	win := f.nextWindow
	f.nextWindow++
	f.eventMasks[win] = eventMask
	return win, nil
}

func (f *fakeXClient) ChangeWindowEventMask(win x.Window, eventMask uint32) error {
	f.eventMasks[win] = eventMask
	return nil
}

func (f *fakeXClient) ConvertSelection(requestor x.Window, selection, target, property x.Atom, ts x.Timestamp) {
	f.converts = append(f.converts, convertCall{requestor, selection, target, property})
}

func (f *fakeXClient) SetSelectionOwner(owner x.Window, selection x.Atom, ts x.Timestamp) {
	f.owners[selection] = owner
}

func (f *fakeXClient) GetSelectionOwner(selection x.Atom) (x.Window, error) {
	return f.owners[selection], nil
}

func (f *fakeXClient) SelectSelectionInputE(win x.Window, selection x.Atom, eventMask uint32) error {
	return nil
}

func (f *fakeXClient) GetProperty(del bool, win x.Window, prop x.Atom) (*x.GetPropertyReply, error) {
	key := propKey{win, prop}
	value, ok := f.props[key]
	if !ok {
		return &x.GetPropertyReply{}, nil
	}
	if del {
		delete(f.props, key)
	}
	return &x.GetPropertyReply{
		Type:     value.typ,
		Format:   value.format,
		ValueLen: uint32(len(value.data)),
		Value:    value.data,
	}, nil
}

func (f *fakeXClient) ChangePropertyE(mode uint8, win x.Window, prop, typ x.Atom, format uint8, data []byte) error {
	f.props[propKey{win, prop}] = propValue{typ: typ, format: format, data: data}
	return nil
}

func (f *fakeXClient) DeletePropertyE(win x.Window, prop x.Atom) error {
	delete(f.props, propKey{win, prop})
	return nil
}

func (f *fakeXClient) SendEventE(propagate bool, destination x.Window, eventMask uint32, event *x.SelectionNotifyEvent) error {
	f.notifies = append(f.notifies, sentNotify{dest: destination, event: *event})
	return nil
}

func (f *fakeXClient) GetInputFocus() (x.Window, error) {
	return f.focus, nil
}

func (f *fakeXClient) GetWindowClass(win x.Window) (string, string, error) {
	return f.wmInstance, f.wmClass, nil
}

func (f *fakeXClient) QueryPointer() (int16, int16, error) {
	return f.pointerX, f.pointerY, nil
}

func (f *fakeXClient) FakeInput(eventCode uint8, detail uint8, rootX, rootY int16) error {
	f.inputs = append(f.inputs, fakeInputCall{eventCode, detail, rootX, rootY})
	return nil
}

func (f *fakeXClient) StringToKeycode(name string) (x.Keycode, error) {
	code, ok := f.keycodes[name]
	if !ok {
		return 0, fmt.Errorf("no keycode for keysym %q", name)
	}
	return code, nil
}

// setProp plants a property value as if an owner had written it.
func (f *fakeXClient) setProp(win x.Window, prop, typ x.Atom, format uint8, data []byte) {
	f.props[propKey{win, prop}] = propValue{typ: typ, format: format, data: data}
}

func (f *fakeXClient) propData(win x.Window, prop x.Atom) (propValue, bool) {
	value, ok := f.props[propKey{win, prop}]
	return value, ok
}

func (f *fakeXClient) mustAtom(name string) x.Atom {
	atom, _ := f.GetAtom(name)
	return atom
}

func atomListBytes(atoms []x.Atom) []byte {
	buf := make([]byte, 4*len(atoms))
	for i, atom := range atoms {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(atom))
	}
	return buf
}
