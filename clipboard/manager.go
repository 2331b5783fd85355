// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package clipboard watches one X selection (CLIPBOARD or PRIMARY), captures
// every new selection into an ordered history, and serves history items back
// to other clients after a paste. All state lives on a single event loop
// goroutine; external callers post closures via the ops channel.
package clipboard

import (
	"encoding/binary"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/linuxdeepin/dde-clipboard-daemon/config"
	"github.com/linuxdeepin/dde-clipboard-daemon/history"
	"github.com/linuxdeepin/dde-clipboard-daemon/persistence"
	"github.com/linuxdeepin/go-lib/dbusutil"
	"github.com/linuxdeepin/go-lib/log"
	x "github.com/linuxdeepin/go-x11-client"
	"github.com/linuxdeepin/go-x11-client/ext/xfixes"
)

var logger = log.NewLogger("daemon/clipboard")

// overdueTimeout bounds how long a transfer may sit without progress before
// its resources are reclaimed. Owners that announce INCR and then vanish
// would otherwise pin a transfer window forever.
const overdueTimeout = 3 * time.Second

type requestTaskState int

const (
	// taskStateTargets: waiting for the SelectionNotify answering the
	// TARGETS conversion.
	taskStateTargets requestTaskState = iota
	// taskStateData: waiting for the SelectionNotify answering the
	// conversion of the current MIME target.
	taskStateData
	// taskStateIncr: the owner announced INCR for the current MIME target;
	// waiting for PropertyNotify chunk events.
	taskStateIncr
)

// requestTask is one inbound capture in progress, bound to one transfer
// window. MIME targets are fetched one at a time.
type requestTask struct {
	tw    *transferWindow
	owner x.Window
	state requestTaskState
	ts    x.Timestamp

	queue   []x.Atom // targets still to fetch
	mimes   map[x.Atom]string
	curAtom x.Atom
	curName string

	data       map[string][]byte
	incrBuf    []byte
	lastUpdate time.Time
}

type incrPasteKey struct {
	requestor x.Window
	property  x.Atom
}

// incrPasteTask is one outbound INCR transfer in progress. It references
// the item by id rather than holding the data, so an eviction mid-transfer
// naturally terminates the stream with an empty chunk.
type incrPasteTask struct {
	target     x.Atom
	itemID     uint64
	mime       string
	offset     int
	lastUpdate time.Time
}

type captureRecord struct {
	itemID     uint64
	owner      x.Window
	when       time.Time
	resurfaced bool
}

type Manager struct {
	xc            XClient
	selection     x.Atom
	selectionName string
	cfg           *config.Config

	pool  *transferWindowPool
	items *history.List
	meta  *history.Metadata
	store *persistence.Persistence

	// eventWin receives the XFixes ownership notifications and owns the
	// selection while a history item is being served.
	eventWin         x.Window
	xfixesFirstEvent uint8

	ownedItemID  uint64
	ownTimestamp x.Timestamp

	requestTasks   map[x.Window]*requestTask
	incrPasteTasks map[incrPasteKey]*incrPasteTask

	lastCapture captureRecord

	// onChanged fires after every history mutation, on the event loop.
	onChanged func()

	service *dbusutil.Service
	// ops carries closures from DBus and IPC goroutines onto the event
	// loop; all Manager state is confined to that loop.
	ops chan func()

	// nolint
	signals *struct {
		Changed struct {
		}

		ShowWindow struct {
		}
	}
}

func newManager(xc XClient, selection x.Atom, selectionName string,
	cfg *config.Config, store *persistence.Persistence,
	items *history.List, meta *history.Metadata) (*Manager, error) {

	eventWin, err := xc.CreateWindow(x.EventMaskPropertyChange,
		"dde-clipboard-daemon "+selectionName)
	if err != nil {
		return nil, err
	}
	pool, err := newTransferWindowPool(xc, selectionName)
	if err != nil {
		return nil, err
	}
	return &Manager{
		xc:             xc,
		selection:      selection,
		selectionName:  selectionName,
		cfg:            cfg,
		pool:           pool,
		items:          items,
		meta:           meta,
		store:          store,
		eventWin:       eventWin,
		requestTasks:   make(map[x.Window]*requestTask),
		incrPasteTasks: make(map[incrPasteKey]*incrPasteTask),
		ops:            make(chan func(), 16),
	}, nil
}

// start subscribes to ownership changes of the watched selection.
func (m *Manager) start() error {
	err := m.xc.SelectSelectionInputE(m.eventWin, m.selection,
		xfixes.SelectionEventMaskSetSelectionOwner)
	if err != nil {
		return err
	}
	return m.xc.Flush()
}

func (m *Manager) notifyChanged() {
	if m.onChanged != nil {
		m.onChanged()
	}
}

func (m *Manager) handleEvent(ev x.GenericEvent) {
	code := ev.GetEventCode()
	if logger.GetLogLevel() == log.LevelDebug {
		logger.Debugf("%s event: %s", m.selectionName,
			eventCodeName(code, m.xfixesFirstEvent))
	}
	switch code {
	case x.SelectionNotifyEventCode:
		event, err := x.NewSelectionNotifyEvent(ev)
		if err == nil {
			m.handleSelectionNotify(event)
		}
	case x.PropertyNotifyEventCode:
		event, err := x.NewPropertyNotifyEvent(ev)
		if err == nil {
			m.handlePropertyNotify(event)
		}
	case x.SelectionRequestEventCode:
		event, err := x.NewSelectionRequestEvent(ev)
		if err == nil {
			m.handleSelectionRequest(event)
		}
	case x.SelectionClearEventCode:
		event, err := x.NewSelectionClearEvent(ev)
		if err == nil {
			m.handleSelectionClear(event)
		}
	default:
		if m.xfixesFirstEvent != 0 &&
			code == m.xfixesFirstEvent+xfixes.SelectionNotifyEventCode {
			event, err := xfixes.NewSelectionNotifyEvent(ev)
			if err == nil {
				m.handleXFixesSelectionNotify(event)
			}
		}
	}
}

// handleXFixesSelectionNotify starts a capture for every ownership change
// of the watched selection, except changes caused by ourselves.
func (m *Manager) handleXFixesSelectionNotify(ev *xfixes.SelectionNotifyEvent) {
	if ev.Selection != m.selection {
		return
	}
	if ev.Owner == x.None {
		logger.Debug(m.selectionName, "selection cleared")
		return
	}
	if ev.Owner == m.eventWin {
		return
	}
	m.startCapture(ev.Owner, ev.Timestamp)
}

func (m *Manager) startCapture(owner x.Window, ts x.Timestamp) {
	tw, err := m.pool.Get()
	if err != nil {
		logger.Warning("failed to get transfer window:", err)
		return
	}
	task := &requestTask{
		tw:         tw,
		owner:      owner,
		state:      taskStateTargets,
		ts:         ts,
		data:       make(map[string][]byte),
		lastUpdate: time.Now(),
	}
	m.requestTasks[tw.win] = task
	logger.Debugf("capture %s from owner %d via window %d",
		m.selectionName, owner, tw.win)
	m.xc.ConvertSelection(tw.win, m.selection, atomTargets, tw.prop, ts)
	err = m.xc.Flush()
	if err != nil {
		logger.Warning("flush failed:", err)
	}
}

func (m *Manager) abandonTask(task *requestTask, reason string) {
	logger.Debugf("abandon capture on window %d: %s", task.tw.win, reason)
	delete(m.requestTasks, task.tw.win)
	m.pool.Release(task.tw)
}

func (m *Manager) handleSelectionNotify(ev *x.SelectionNotifyEvent) {
	task := m.requestTasks[ev.Requestor]
	if task == nil {
		logger.Debug("SelectionNotify for unknown requestor", ev.Requestor)
		return
	}
	task.lastUpdate = time.Now()

	switch task.state {
	case taskStateTargets:
		if ev.Property == x.None {
			m.abandonTask(task, "owner refused TARGETS")
			return
		}
		m.handleTargetsReply(task)
	case taskStateData:
		if ev.Property == x.None {
			logger.Debugf("owner refused target %s, skipping",
				getAtomDesc(m.xc, task.curAtom))
			m.advanceTask(task)
			return
		}
		m.handleDataReply(task)
	case taskStateIncr:
		// a late SelectionNotify after the INCR announcement carries no
		// information, chunks arrive as PropertyNotify
		logger.Debug("ignoring SelectionNotify during INCR transfer")
	}
}

func (m *Manager) handleTargetsReply(task *requestTask) {
	reply, err := m.xc.GetProperty(true, task.tw.win, task.tw.prop)
	if err != nil {
		m.abandonTask(task, "read TARGETS: "+err.Error())
		return
	}
	atoms, err := getAtomListFromReply(reply)
	if err != nil {
		m.abandonTask(task, "decode TARGETS: "+err.Error())
		return
	}

	offered := make(map[x.Atom]string, len(atoms))
	for _, atom := range atoms {
		if atom == x.None || isSpecialTarget(atom) {
			continue
		}
		name, err := m.xc.GetAtomName(atom)
		if err != nil {
			logger.Debug("failed to name target atom", atom, err)
			continue
		}
		offered[atom] = name
	}

	task.mimes = filterMimes(offered)
	if len(task.mimes) == 0 {
		m.abandonTask(task, "no capturable targets")
		return
	}

	task.queue = make([]x.Atom, 0, len(task.mimes))
	for atom := range task.mimes {
		task.queue = append(task.queue, atom)
	}
	sort.Slice(task.queue, func(i, j int) bool {
		return task.queue[i] < task.queue[j]
	})

	task.state = taskStateData
	m.advanceTask(task)
}

// advanceTask requests the next queued target, or finalizes the capture
// when the queue is empty.
func (m *Manager) advanceTask(task *requestTask) {
	task.state = taskStateData
	task.incrBuf = nil
	if len(task.queue) == 0 {
		m.finalizeTask(task)
		return
	}
	task.curAtom = task.queue[0]
	task.curName = task.mimes[task.curAtom]
	task.queue = task.queue[1:]

	m.xc.ConvertSelection(task.tw.win, m.selection, task.curAtom,
		task.tw.prop, task.ts)
	err := m.xc.Flush()
	if err != nil {
		logger.Warning("flush failed:", err)
	}
}

func (m *Manager) handleDataReply(task *requestTask) {
	reply, err := m.xc.GetProperty(true, task.tw.win, task.tw.prop)
	if err != nil {
		logger.Debugf("read target %s failed: %v", task.curName, err)
		m.advanceTask(task)
		return
	}
	if reply.Type == x.None {
		logger.Debugf("no property written for target %s, skipping", task.curName)
		m.advanceTask(task)
		return
	}
	if reply.Type == atomIncr {
		// deleting the INCR property above told the owner to start sending
		task.state = taskStateIncr
		task.incrBuf = nil
		return
	}
	task.data[task.curName] = reply.Value
	m.advanceTask(task)
}

// continueIncrCapture consumes one inbound INCR chunk. An empty chunk ends
// the stream for the current target.
func (m *Manager) continueIncrCapture(task *requestTask) {
	task.lastUpdate = time.Now()
	reply, err := m.xc.GetProperty(true, task.tw.win, task.tw.prop)
	if err != nil {
		logger.Debugf("read INCR chunk for %s failed: %v", task.curName, err)
		m.advanceTask(task)
		return
	}
	if len(reply.Value) == 0 {
		task.data[task.curName] = task.incrBuf
		m.advanceTask(task)
		return
	}
	task.incrBuf = append(task.incrBuf, reply.Value...)
	if len(task.incrBuf) > m.cfg.IncrSizeLimit {
		m.abandonTask(task, "INCR transfer exceeds size limit")
	}
}

func (m *Manager) finalizeTask(task *requestTask) {
	delete(m.requestTasks, task.tw.win)
	m.pool.Release(task.tw)

	if len(task.data) == 0 {
		logger.Debug("capture produced no data, dropping")
		return
	}
	id := history.HashData(task.data)
	item := &history.Item{ID: id, Data: task.data}
	m.commitCapture(item, task.owner)
}

func (m *Manager) commitCapture(item *history.Item, owner x.Window) {
	now := time.Now()
	resurfaced := m.items.Contains(item.ID)

	merged := false
	if !resurfaced && m.selection == atomPrimary {
		merged = m.tryMerge(item, owner, now)
	}
	if !merged {
		m.items.PushFront(item.ID, item)
	}

	evicted := m.items.SplitOff(m.cfg.ItemLimit)
	if evicted.Len() > 0 {
		logger.Debugf("evicted %d items over limit %d",
			evicted.Len(), m.cfg.ItemLimit)
	}
	m.meta.Prune(m.items.Contains)

	m.lastCapture = captureRecord{
		itemID:     item.ID,
		owner:      owner,
		when:       now,
		resurfaced: resurfaced,
	}

	if resurfaced {
		logger.Debugf("resurfaced item %d", item.ID)
	} else {
		logger.Debugf("captured item %d with %d targets", item.ID, len(item.Data))
	}
	m.store.Save(m.items, m.meta)
	m.notifyChanged()
}

// tryMerge collapses the intermediate snapshots produced while a selection
// is still being dragged out: same owner, in quick succession, plain text
// only, and one text containing the other. The newer snapshot replaces the
// older one instead of piling up.
func (m *Manager) tryMerge(item *history.Item, owner x.Window, now time.Time) bool {
	last := m.lastCapture
	if last.itemID == 0 || last.owner != owner || last.resurfaced {
		return false
	}
	if now.Sub(last.when) >= m.cfg.MergeWindow {
		return false
	}
	frontID, front, ok := m.items.Front()
	if !ok || frontID != last.itemID {
		return false
	}
	prevText, ok := singlePlaintext(front)
	if !ok {
		return false
	}
	newText, ok := singlePlaintext(item)
	if !ok {
		return false
	}
	if !strings.Contains(newText, prevText) && !strings.Contains(prevText, newText) {
		return false
	}
	m.items.Remove(frontID)
	m.items.PushFront(item.ID, item)
	return true
}

func singlePlaintext(item *history.Item) (string, bool) {
	if len(item.Data) != 1 {
		return "", false
	}
	for mime, value := range item.Data {
		if isPlaintextMime(mime) {
			return string(value), true
		}
	}
	return "", false
}

// becomeOwner takes ownership of the selection with item id as content.
func (m *Manager) becomeOwner(itemID uint64) error {
	item := m.items.Get(itemID)
	if item == nil {
		return errors.New("no such history item")
	}
	err := setSelectionOwner(m.xc, m.eventWin, m.selection, x.TimeCurrentTime)
	if err != nil {
		return err
	}
	m.ownedItemID = itemID
	m.ownTimestamp = x.TimeCurrentTime
	return m.xc.Flush()
}

func (m *Manager) handleSelectionClear(ev *x.SelectionClearEvent) {
	if ev.Selection != m.selection {
		return
	}
	logger.Debug(m.selectionName, "ownership lost")
	m.ownedItemID = 0
}

// finishSelectionRequest always answers a SelectionRequest, success or not.
// A requestor left without a SelectionNotify would block until its own
// timeout. Obsolete clients pass Property None and get the target atom as
// the reply property, per ICCCM.
func (m *Manager) finishSelectionRequest(ev *x.SelectionRequestEvent, success bool) {
	var property x.Atom
	if success {
		property = ev.Property
		if property == x.None {
			property = ev.Target
		}
	} else if ev.Property != x.None {
		// drop whatever stale value the requestor may poll for
		_ = m.xc.DeletePropertyE(ev.Requestor, ev.Property)
	}

	event := x.SelectionNotifyEvent{
		Time:      ev.Time,
		Requestor: ev.Requestor,
		Selection: ev.Selection,
		Target:    ev.Target,
		Property:  property,
	}
	err := m.xc.SendEventE(false, ev.Requestor, x.EventMaskNoEvent, &event)
	if err != nil {
		logger.Warning("failed to send SelectionNotify:", err)
	}
	err = m.xc.Flush()
	if err != nil {
		logger.Warning("flush failed:", err)
	}
	logger.Debugf("reply %s to %d: target %s property %s",
		m.selectionName, ev.Requestor,
		getAtomDesc(m.xc, ev.Target), getAtomDesc(m.xc, property))
}

func (m *Manager) handleSelectionRequest(ev *x.SelectionRequestEvent) {
	if ev.Selection != m.selection {
		m.finishSelectionRequest(ev, false)
		return
	}
	item := m.items.Get(m.ownedItemID)
	if m.ownedItemID == 0 || item == nil {
		m.finishSelectionRequest(ev, false)
		return
	}

	destProp := ev.Property
	if destProp == x.None {
		destProp = ev.Target
	}

	switch ev.Target {
	case atomTargets:
		err := m.writeTargets(ev.Requestor, destProp, item)
		m.finishSelectionRequest(ev, err == nil)
	case atomTimestamp:
		w := x.NewWriter()
		w.Write4b(uint32(m.ownTimestamp))
		err := m.xc.ChangePropertyE(x.PropModeReplace, ev.Requestor,
			destProp, x.AtomInteger, 32, w.Bytes())
		m.finishSelectionRequest(ev, err == nil)
	default:
		if isSpecialTarget(ev.Target) {
			m.finishSelectionRequest(ev, false)
			return
		}
		m.serveData(ev, destProp, item)
	}
}

func (m *Manager) writeTargets(requestor x.Window, prop x.Atom, item *history.Item) error {
	atoms := []x.Atom{atomTargets, atomTimestamp}
	for _, mime := range item.SortedMimes() {
		atom, err := m.xc.GetAtom(mime)
		if err != nil {
			return err
		}
		atoms = append(atoms, atom)
	}
	w := x.NewWriter()
	for _, atom := range atoms {
		w.Write4b(uint32(atom))
	}
	return m.xc.ChangePropertyE(x.PropModeReplace, requestor, prop,
		x.AtomAtom, 32, w.Bytes())
}

func (m *Manager) lookupTargetData(item *history.Item, target x.Atom) (string, []byte, bool) {
	name, err := m.xc.GetAtomName(target)
	if err != nil {
		return "", nil, false
	}
	if data, ok := item.Data[name]; ok {
		return name, data, true
	}
	for mime, data := range item.Data {
		if strings.EqualFold(mime, name) {
			return mime, data, true
		}
	}
	return "", nil, false
}

func (m *Manager) serveData(ev *x.SelectionRequestEvent, destProp x.Atom, item *history.Item) {
	name, data, ok := m.lookupTargetData(item, ev.Target)
	if !ok {
		m.finishSelectionRequest(ev, false)
		return
	}

	if len(data) > m.cfg.IncrChunkSize {
		m.startIncrServe(ev, destProp, item, name, len(data))
		return
	}

	err := m.xc.ChangePropertyE(x.PropModeReplace, ev.Requestor, destProp,
		ev.Target, 8, data)
	m.finishSelectionRequest(ev, err == nil)
}

// startIncrServe announces an INCR transfer: the property carries the total
// size, and each deletion of the property by the requestor pulls the next
// chunk.
func (m *Manager) startIncrServe(ev *x.SelectionRequestEvent, destProp x.Atom,
	item *history.Item, mime string, total int) {

	err := m.xc.ChangeWindowEventMask(ev.Requestor, x.EventMaskPropertyChange)
	if err != nil {
		m.finishSelectionRequest(ev, false)
		return
	}
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(total))
	err = m.xc.ChangePropertyE(x.PropModeReplace, ev.Requestor, destProp,
		atomIncr, 32, sizeBuf[:])
	if err != nil {
		m.finishSelectionRequest(ev, false)
		return
	}

	m.incrPasteTasks[incrPasteKey{ev.Requestor, destProp}] = &incrPasteTask{
		target:     ev.Target,
		itemID:     item.ID,
		mime:       mime,
		lastUpdate: time.Now(),
	}
	logger.Debugf("serving %d bytes of %s via INCR to %d", total, mime, ev.Requestor)
	m.finishSelectionRequest(ev, true)
}

func (m *Manager) handlePropertyNotify(ev *x.PropertyNotifyEvent) {
	if logger.GetLogLevel() == log.LevelDebug {
		logger.Debugf("property %s on window %d: %s",
			getAtomDesc(m.xc, ev.Atom), ev.Window,
			propertyNotifyStateName(ev.State))
	}
	switch ev.State {
	case x.PropertyNewValue:
		task := m.requestTasks[ev.Window]
		if task != nil && task.state == taskStateIncr && ev.Atom == task.tw.prop {
			m.continueIncrCapture(task)
		}
	case x.PropertyDelete:
		key := incrPasteKey{ev.Window, ev.Atom}
		if task, ok := m.incrPasteTasks[key]; ok {
			m.continueIncrServe(key, task)
		}
	}
}

// continueIncrServe sends the next outbound chunk after the requestor
// consumed the previous one. An item evicted mid-transfer yields an
// immediate empty chunk, terminating the stream early.
func (m *Manager) continueIncrServe(key incrPasteKey, task *incrPasteTask) {
	task.lastUpdate = time.Now()

	var data []byte
	if item := m.items.Get(task.itemID); item != nil {
		data = item.Data[task.mime]
	} else {
		logger.Debugf("item %d gone mid INCR transfer", task.itemID)
	}

	if task.offset >= len(data) {
		err := m.xc.ChangePropertyE(x.PropModeReplace, key.requestor,
			key.property, task.target, 8, nil)
		if err != nil {
			logger.Warning("failed to write final INCR chunk:", err)
		}
		m.teardownIncrServe(key)
		_ = m.xc.Flush()
		return
	}

	end := task.offset + m.cfg.IncrChunkSize
	if end > len(data) {
		end = len(data)
	}
	err := m.xc.ChangePropertyE(x.PropModeReplace, key.requestor,
		key.property, task.target, 8, data[task.offset:end])
	if err != nil {
		logger.Warning("failed to write INCR chunk:", err)
		m.teardownIncrServe(key)
		return
	}
	task.offset = end
	_ = m.xc.Flush()
}

func (m *Manager) teardownIncrServe(key incrPasteKey) {
	delete(m.incrPasteTasks, key)
	err := m.xc.ChangeWindowEventMask(key.requestor, x.EventMaskNoEvent)
	if err != nil {
		logger.Debug("failed to deselect requestor events:", err)
	}
}

// purgeOverdue reclaims transfers that stopped making progress.
func (m *Manager) purgeOverdue(now time.Time) {
	for win, task := range m.requestTasks {
		if now.Sub(task.lastUpdate) > overdueTimeout {
			logger.Warningf("capture on window %d overdue, dropping", win)
			m.abandonTask(task, "overdue")
		}
	}
	for key, task := range m.incrPasteTasks {
		if now.Sub(task.lastUpdate) > overdueTimeout {
			logger.Warningf("INCR transfer to window %d overdue, dropping",
				key.requestor)
			m.teardownIncrServe(key)
		}
	}
}
