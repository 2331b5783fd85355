// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package clipboard

import (
	x "github.com/linuxdeepin/go-x11-client"
)

var (
	atomClipboard       x.Atom
	atomPrimary         x.Atom
	atomTargets         x.Atom
	atomTimestamp       x.Atom
	atomSaveTargets     x.Atom
	atomMultiple        x.Atom
	atomDelete          x.Atom
	atomInsertProperty  x.Atom
	atomInsertSelection x.Atom
	atomIncr            x.Atom
	atomNetWmName       x.Atom
	atomUtf8String      x.Atom
)

func initAtoms(xc XClient) error {
	for _, entry := range []struct {
		name string
		atom *x.Atom
	}{
		{"CLIPBOARD", &atomClipboard},
		{"PRIMARY", &atomPrimary},
		{"TARGETS", &atomTargets},
		{"TIMESTAMP", &atomTimestamp},
		{"SAVE_TARGETS", &atomSaveTargets},
		{"MULTIPLE", &atomMultiple},
		{"DELETE", &atomDelete},
		{"INSERT_PROPERTY", &atomInsertProperty},
		{"INSERT_SELECTION", &atomInsertSelection},
		{"INCR", &atomIncr},
		{"_NET_WM_NAME", &atomNetWmName},
		{"UTF8_STRING", &atomUtf8String},
	} {
		atom, err := xc.GetAtom(entry.name)
		if err != nil {
			return err
		}
		*entry.atom = atom
	}
	return nil
}

// isSpecialTarget reports targets that must never be captured as data:
// meta targets and targets with side effects.
func isSpecialTarget(atom x.Atom) bool {
	switch atom {
	case atomTimestamp, atomTargets, atomSaveTargets, atomMultiple,
		atomDelete, atomInsertProperty, atomInsertSelection:
		return true
	}
	return false
}

func getAtomDesc(xc XClient, atom x.Atom) string {
	if atom == x.None {
		return "None"
	}
	name, err := xc.GetAtomName(atom)
	if err != nil {
		return "?"
	}
	return name
}
