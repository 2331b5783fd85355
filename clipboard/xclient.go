// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package clipboard

import (
	"errors"
	"fmt"

	x "github.com/linuxdeepin/go-x11-client"
	"github.com/linuxdeepin/go-x11-client/ext/test"
	"github.com/linuxdeepin/go-x11-client/ext/xfixes"
	"github.com/linuxdeepin/go-x11-client/util/keysyms"
	"github.com/linuxdeepin/go-x11-client/util/wm/ewmh"
	"github.com/linuxdeepin/go-x11-client/util/wm/icccm"
)

// XClient is the X server surface the selection manager needs. The real
// implementation wraps *x.Conn; tests substitute a scripted fake.
type XClient interface {
	Conn() *x.Conn
	Flush() error

	GetAtom(name string) (x.Atom, error)
	GetAtomName(atom x.Atom) (string, error)

	CreateWindow(eventMask uint32, title string) (x.Window, error)
	ChangeWindowEventMask(win x.Window, eventMask uint32) error

	ConvertSelection(requestor x.Window, selection, target, property x.Atom, ts x.Timestamp)
	SetSelectionOwner(owner x.Window, selection x.Atom, ts x.Timestamp)
	GetSelectionOwner(selection x.Atom) (x.Window, error)
	SelectSelectionInputE(win x.Window, selection x.Atom, eventMask uint32) error

	GetProperty(delete bool, win x.Window, prop x.Atom) (*x.GetPropertyReply, error)
	ChangePropertyE(mode uint8, win x.Window, prop, typ x.Atom, format uint8, data []byte) error
	DeletePropertyE(win x.Window, prop x.Atom) error

	SendEventE(propagate bool, destination x.Window, eventMask uint32, event *x.SelectionNotifyEvent) error

	GetInputFocus() (x.Window, error)
	GetWindowClass(win x.Window) (instance, class string, err error)
	QueryPointer() (rootX, rootY int16, err error)
	FakeInput(eventCode uint8, detail uint8, rootX, rootY int16) error
	StringToKeycode(name string) (x.Keycode, error)
}

type xClient struct {
	conn       *x.Conn
	keySymbols *keysyms.KeySymbols
}

func newXClient(conn *x.Conn) *xClient {
	return &xClient{
		conn:       conn,
		keySymbols: keysyms.NewKeySymbols(conn),
	}
}

func (xc *xClient) Conn() *x.Conn {
	return xc.conn
}

func (xc *xClient) Flush() error {
	return xc.conn.Flush()
}

func (xc *xClient) GetAtom(name string) (x.Atom, error) {
	return xc.conn.GetAtom(name)
}

func (xc *xClient) GetAtomName(atom x.Atom) (string, error) {
	return xc.conn.GetAtomName(atom)
}

// CreateWindow creates a 1x1 input-only child of the root window. The
// window never gets mapped; it only serves as the addressable requestor of
// selection conversions or as the selection owner.
func (xc *xClient) CreateWindow(eventMask uint32, title string) (x.Window, error) {
	xid, err := xc.conn.AllocID()
	if err != nil {
		return 0, err
	}
	win := x.Window(xid)
	root := xc.conn.GetDefaultScreen().Root

	err = x.CreateWindowChecked(xc.conn, 0, win, root,
		0, 0, 1, 1, 0,
		x.WindowClassInputOnly, x.CopyFromParent,
		x.CWEventMask, []uint32{eventMask}).Check(xc.conn)
	if err != nil {
		return 0, err
	}

	err = x.ChangePropertyChecked(xc.conn, x.PropModeReplace, win,
		atomNetWmName, atomUtf8String, 8, []byte(title)).Check(xc.conn)
	if err != nil {
		logger.Warning("failed to name utility window:", err)
	}
	return win, nil
}

func (xc *xClient) ChangeWindowEventMask(win x.Window, eventMask uint32) error {
	return x.ChangeWindowAttributesChecked(xc.conn, win,
		x.CWEventMask, []uint32{eventMask}).Check(xc.conn)
}

func (xc *xClient) ConvertSelection(requestor x.Window, selection, target, property x.Atom, ts x.Timestamp) {
	x.ConvertSelection(xc.conn, requestor, selection, target, property, ts)
}

func (xc *xClient) SetSelectionOwner(owner x.Window, selection x.Atom, ts x.Timestamp) {
	x.SetSelectionOwner(xc.conn, owner, selection, ts)
}

func (xc *xClient) GetSelectionOwner(selection x.Atom) (x.Window, error) {
	reply, err := x.GetSelectionOwner(xc.conn, selection).Reply(xc.conn)
	if err != nil {
		return 0, err
	}
	return reply.Owner, nil
}

func (xc *xClient) SelectSelectionInputE(win x.Window, selection x.Atom, eventMask uint32) error {
	return xfixes.SelectSelectionInputChecked(xc.conn, win, selection,
		eventMask).Check(xc.conn)
}

// GetProperty reads the full value of a property: a zero-length probe for
// the size, then one request for everything.
func (xc *xClient) GetProperty(delete bool, win x.Window, prop x.Atom) (*x.GetPropertyReply, error) {
	probe, err := x.GetProperty(xc.conn, false, win, prop,
		x.GetPropertyTypeAny, 0, 0).Reply(xc.conn)
	if err != nil {
		return nil, err
	}

	reply, err := x.GetProperty(xc.conn, delete, win, prop,
		x.GetPropertyTypeAny, 0,
		(probe.BytesAfter+uint32(x.Pad(int(probe.BytesAfter))))/4,
	).Reply(xc.conn)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (xc *xClient) ChangePropertyE(mode uint8, win x.Window, prop, typ x.Atom, format uint8, data []byte) error {
	return x.ChangePropertyChecked(xc.conn, mode, win, prop, typ,
		format, data).Check(xc.conn)
}

func (xc *xClient) DeletePropertyE(win x.Window, prop x.Atom) error {
	return x.DeletePropertyChecked(xc.conn, win, prop).Check(xc.conn)
}

func (xc *xClient) SendEventE(propagate bool, destination x.Window, eventMask uint32, event *x.SelectionNotifyEvent) error {
	w := x.NewWriter()
	x.WriteSelectionNotifyEvent(w, event)
	return x.SendEventChecked(xc.conn, propagate, destination, eventMask,
		w.Bytes()).Check(xc.conn)
}

// GetInputFocus returns the window holding keyboard focus. When the focus
// is None or PointerRoot the EWMH active window is used instead, since no
// concrete window can be derived from the focus itself.
func (xc *xClient) GetInputFocus() (x.Window, error) {
	reply, err := x.GetInputFocus(xc.conn).Reply(xc.conn)
	if err != nil {
		return 0, err
	}
	focus := reply.Focus
	if focus == x.None || focus == x.InputFocusPointerRoot {
		active, err := ewmh.GetActiveWindow(xc.conn).Reply(xc.conn)
		if err != nil {
			return 0, err
		}
		return active, nil
	}
	return focus, nil
}

func (xc *xClient) GetWindowClass(win x.Window) (string, string, error) {
	wmClass, err := icccm.GetWMClass(xc.conn, win).Reply(xc.conn)
	if err != nil {
		return "", "", err
	}
	return wmClass.Instance, wmClass.Class, nil
}

func (xc *xClient) QueryPointer() (int16, int16, error) {
	root := xc.conn.GetDefaultScreen().Root
	reply, err := x.QueryPointer(xc.conn, root).Reply(xc.conn)
	if err != nil {
		return 0, 0, err
	}
	return reply.RootX, reply.RootY, nil
}

func (xc *xClient) FakeInput(eventCode uint8, detail uint8, rootX, rootY int16) error {
	root := xc.conn.GetDefaultScreen().Root
	return test.FakeInputChecked(xc.conn, eventCode, detail,
		x.TimeCurrentTime, root, rootX, rootY, 0).Check(xc.conn)
}

func (xc *xClient) StringToKeycode(name string) (x.Keycode, error) {
	codes, err := xc.keySymbols.StringToKeycodes(name)
	if err != nil {
		return 0, err
	}
	if len(codes) == 0 {
		return 0, fmt.Errorf("no keycode for keysym %q", name)
	}
	return codes[0], nil
}

func setSelectionOwner(xc XClient, win x.Window, selection x.Atom, ts x.Timestamp) error {
	xc.SetSelectionOwner(win, selection, ts)
	owner, err := xc.GetSelectionOwner(selection)
	if err != nil {
		return err
	}
	if owner != win {
		return errors.New("failed to set selection owner")
	}
	return nil
}

// getAtomListFromReply decodes a 32 bit format property value as atoms.
func getAtomListFromReply(reply *x.GetPropertyReply) ([]x.Atom, error) {
	if reply.Format != 32 {
		return nil, fmt.Errorf("bad property format %d, want 32", reply.Format)
	}
	if len(reply.Value)%4 != 0 {
		return nil, errors.New("property value length not a multiple of 4")
	}
	r := x.NewReaderFromData(reply.Value)
	atoms := make([]x.Atom, 0, len(reply.Value)/4)
	for i := 0; i < len(reply.Value)/4; i++ {
		atoms = append(atoms, x.Atom(r.Read4b()))
	}
	return atoms, nil
}
