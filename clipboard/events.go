// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package clipboard

import (
	"fmt"

	x "github.com/linuxdeepin/go-x11-client"
	"github.com/linuxdeepin/go-x11-client/ext/xfixes"
)

func eventCodeName(code uint8, xfixesFirstEvent uint8) string {
	switch code {
	case x.SelectionNotifyEventCode:
		return "SelectionNotify"
	case x.SelectionRequestEventCode:
		return "SelectionRequest"
	case x.SelectionClearEventCode:
		return "SelectionClear"
	case x.PropertyNotifyEventCode:
		return "PropertyNotify"
	}
	if xfixesFirstEvent != 0 &&
		code == xfixesFirstEvent+xfixes.SelectionNotifyEventCode {
		return "XFixesSelectionNotify"
	}
	return fmt.Sprintf("event code %d", code)
}

func propertyNotifyStateName(state uint8) string {
	switch state {
	case x.PropertyNewValue:
		return "NewValue"
	case x.PropertyDelete:
		return "Delete"
	}
	return fmt.Sprintf("state %d", state)
}
