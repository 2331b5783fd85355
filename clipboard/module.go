// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package clipboard

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/linuxdeepin/dde-clipboard-daemon/config"
	"github.com/linuxdeepin/dde-clipboard-daemon/persistence"
	"github.com/linuxdeepin/go-lib/dbusutil"
	x "github.com/linuxdeepin/go-x11-client"
	"github.com/linuxdeepin/go-x11-client/ext/xfixes"
)

// Run starts the daemon for one selection ("CLIPBOARD" or "PRIMARY") and
// blocks until SIGINT or SIGTERM. One process watches one selection; the
// two daemons share nothing but the config file.
func Run(selectionName string) error {
	selectionName = strings.ToUpper(selectionName)
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		return errors.New("X11 session required")
	}

	conn, err := x.NewConn()
	if err != nil {
		return err
	}
	xc := newXClient(conn)

	err = initAtoms(xc)
	if err != nil {
		return err
	}
	var selection x.Atom
	switch selectionName {
	case "CLIPBOARD":
		selection = atomClipboard
	case "PRIMARY":
		selection = atomPrimary
	default:
		return fmt.Errorf("unknown selection kind %q", selectionName)
	}

	_, err = xfixes.QueryVersion(conn, xfixes.MajorVersion,
		xfixes.MinorVersion).Reply(conn)
	if err != nil {
		return fmt.Errorf("xfixes unavailable: %w", err)
	}
	extData := conn.GetExtensionData(xfixes.Ext())
	if extData == nil {
		return errors.New("xfixes extension data missing")
	}

	cfg, err := config.Load(selectionName)
	if err != nil {
		return err
	}

	store, err := persistence.New(strings.ToLower(selectionName))
	if err != nil {
		return err
	}
	items, meta, err := store.Load()
	if err != nil {
		// refusing to start beats silently overwriting a file that may
		// still be recoverable
		return err
	}

	m, err := newManager(xc, selection, selectionName, cfg, store, items, meta)
	if err != nil {
		return err
	}
	m.xfixesFirstEvent = extData.FirstEvent

	service, err := dbusutil.NewSessionService()
	if err != nil {
		return err
	}
	m.service = service
	err = service.Export(dbusPath, m)
	if err != nil {
		return err
	}
	serviceName := dbusServiceName
	if selectionName == "PRIMARY" {
		serviceName += ".Primary"
	}
	err = service.RequestName(serviceName)
	if err != nil {
		return err
	}
	m.onChanged = m.emitChanged

	err = m.start()
	if err != nil {
		return err
	}

	stopWatch, err := config.Watch(config.Path(), func() {
		cfg, err := config.Load(selectionName)
		if err != nil {
			logger.Warning("config reload failed:", err)
			return
		}
		m.ops <- func() {
			m.cfg = cfg
			logger.Info("config reloaded")
		}
	})
	if err != nil {
		logger.Warning("config watch unavailable:", err)
		stopWatch = func() {}
	}

	go serveIPC(socketPath(selectionName), m)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	eventChan := make(chan x.GenericEvent, 50)
	conn.AddEventChan(eventChan)

	logger.Infof("watching %s selection", selectionName)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-eventChan:
			if !ok {
				return errors.New("X connection closed")
			}
			m.handleEvent(ev)
		case fn := <-m.ops:
			fn()
		case now := <-ticker.C:
			m.purgeOverdue(now)
		case sig := <-sigChan:
			logger.Info("received signal:", sig)
			m.store.Save(m.items, m.meta)
			m.store.Close()
			stopWatch()
			conn.Close()
			return nil
		}
	}
}

func socketPath(selectionName string) string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir,
		"dde-clipboard-daemon-"+strings.ToLower(selectionName)+".sock")
}

// serveIPC answers the line-oriented control socket. The popup UI pokes
// "show-window" here so a panel shortcut can raise it without owning a
// DBus connection of its own.
func serveIPC(path string, m *Manager) {
	_ = os.Remove(path)
	listener, err := net.Listen("unix", path)
	if err != nil {
		logger.Warning("control socket unavailable:", err)
		return
	}
	logger.Debug("control socket at", path)
	for {
		conn, err := listener.Accept()
		if err != nil {
			logger.Warning("control socket accept:", err)
			return
		}
		go handleIPCConn(conn, m)
	}
}

func handleIPCConn(conn net.Conn, m *Manager) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch cmd {
		case "show-window":
			m.do(m.emitShowWindow)
			fmt.Fprintln(conn, "ok")
		case "save":
			m.do(func() {
				m.store.Save(m.items, m.meta)
			})
			fmt.Fprintln(conn, "ok")
		case "":
		default:
			fmt.Fprintln(conn, "unknown command:", cmd)
		}
	}
}
