// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package clipboard

import (
	"fmt"

	x "github.com/linuxdeepin/go-x11-client"
)

const initialPoolSize = 4

// leakWarnThreshold is the in-flight window count above which Get starts
// complaining: windows are only ever not returned on a bug.
const leakWarnThreshold = 100

// transferWindow is a dedicated requestor for one concurrent selection
// transfer. Each window carries its own transfer property so concurrent
// transfers never clobber each other's data.
type transferWindow struct {
	win  x.Window
	prop x.Atom
}

// transferWindowPool hands out transfer windows FIFO and creates more on
// demand. Windows are never destroyed; the daemon holds at most a handful
// outside of pathological clipboard activity.
type transferWindowPool struct {
	xc            XClient
	selectionName string

	free     []*transferWindow
	inFlight int
	created  int
}

func newTransferWindowPool(xc XClient, selectionName string) (*transferWindowPool, error) {
	pool := &transferWindowPool{
		xc:            xc,
		selectionName: selectionName,
	}
	for i := 0; i < initialPoolSize; i++ {
		tw, err := pool.createWindow()
		if err != nil {
			return nil, err
		}
		pool.free = append(pool.free, tw)
	}
	return pool, nil
}

func (p *transferWindowPool) createWindow() (*transferWindow, error) {
	title := fmt.Sprintf("dde-clipboard-daemon transfer window %d - %s",
		p.created, p.selectionName)
	win, err := p.xc.CreateWindow(x.EventMaskPropertyChange, title)
	if err != nil {
		return nil, err
	}
	prop, err := p.xc.GetAtom(fmt.Sprintf("TRANSFER_SELECTION_DATA_%s_%d",
		p.selectionName, p.created))
	if err != nil {
		return nil, err
	}
	p.created++
	return &transferWindow{win: win, prop: prop}, nil
}

// Get returns a free transfer window, creating one when the pool ran dry.
func (p *transferWindowPool) Get() (*transferWindow, error) {
	var tw *transferWindow
	if len(p.free) > 0 {
		tw = p.free[0]
		p.free = p.free[1:]
	} else {
		var err error
		tw, err = p.createWindow()
		if err != nil {
			return nil, err
		}
	}
	p.inFlight++
	if p.inFlight > leakWarnThreshold {
		logger.Warningf("%d transfer windows in flight, window leak?", p.inFlight)
	}
	return tw, nil
}

// Release puts a window back on the free list after its transfer finished
// or was abandoned.
func (p *transferWindowPool) Release(tw *transferWindow) {
	if tw == nil {
		return
	}
	p.inFlight--
	p.free = append(p.free, tw)
}

func (p *transferWindowPool) InFlight() int {
	return p.inFlight
}
