// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads the daemon configuration. The file carries common
// settings plus per-selection override sections; the effective Config is
// built once at startup and passed by pointer into the selection manager.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/linuxdeepin/go-lib/log"
	"github.com/linuxdeepin/go-lib/xdg/basedir"
	"gopkg.in/yaml.v3"
)

var logger = log.NewLogger("daemon/clipboard-config")

const configDirName = "dde-clipboard-daemon"

// KeyStroke is one synthesized chord of a paste keymap: modifiers are
// pressed in order, then the key, then released in reverse.
type KeyStroke struct {
	Key       string   `yaml:"key"`
	Modifiers []string `yaml:"modifiers"`
}

// DefaultPasteKeyStroke is used when no per-application keymap matches the
// focused window.
var DefaultPasteKeyStroke = KeyStroke{Key: "v", Modifiers: []string{"control"}}

type Config struct {
	// ItemLimit bounds the history length after every capture.
	ItemLimit int

	// MergeWindow is how close together two captures from the same owner
	// must be for the mouse-drag merge heuristic to consider them one
	// selection in progress. The heuristic parameters are observed
	// behavior, not derived; treat them as tunables.
	MergeWindow time.Duration

	// IncrSizeLimit aborts an inbound INCR transfer whose accumulated
	// payload grows beyond it.
	IncrSizeLimit int

	// IncrChunkSize is both the threshold above which outbound payloads are
	// announced as INCR and the size of each served chunk.
	IncrChunkSize int

	// AppPasteKeymaps maps a WM_CLASS instance or class name to the chords
	// used to trigger a paste in that application.
	AppPasteKeymaps map[string][]KeyStroke
}

type optionalConfig struct {
	ItemLimit       *int                   `yaml:"item_limit"`
	MergeWindowMs   *int                   `yaml:"merge_window_ms"`
	IncrSizeLimit   *int                   `yaml:"incr_size_limit"`
	IncrChunkSize   *int                   `yaml:"incr_chunk_size"`
	AppPasteKeymaps map[string][]KeyStroke `yaml:"app_paste_keymaps"`
}

type configFile struct {
	Common    optionalConfig `yaml:",inline"`
	Clipboard optionalConfig `yaml:"clipboard"`
	Primary   optionalConfig `yaml:"primary"`
}

func defaultConfig() *Config {
	return &Config{
		ItemLimit:     100,
		MergeWindow:   time.Second,
		IncrSizeLimit: 10 * 1024 * 1024,
		IncrChunkSize: 1024*1024 - 1,
	}
}

func (c *Config) apply(o *optionalConfig) {
	if o.ItemLimit != nil {
		c.ItemLimit = *o.ItemLimit
	}
	if o.MergeWindowMs != nil {
		c.MergeWindow = time.Duration(*o.MergeWindowMs) * time.Millisecond
	}
	if o.IncrSizeLimit != nil {
		c.IncrSizeLimit = *o.IncrSizeLimit
	}
	if o.IncrChunkSize != nil {
		c.IncrChunkSize = *o.IncrChunkSize
	}
	if o.AppPasteKeymaps != nil {
		c.AppPasteKeymaps = o.AppPasteKeymaps
	}
}

// Path returns the config file location in the user XDG config directory.
func Path() string {
	return filepath.Join(basedir.GetUserConfigDir(), configDirName, "config.yaml")
}

// Load reads the effective configuration for one selection kind
// ("CLIPBOARD" or "PRIMARY"). A missing file yields the defaults.
func Load(selection string) (*Config, error) {
	return LoadFrom(Path(), selection)
}

func LoadFrom(path, selection string) (*Config, error) {
	cfg := defaultConfig()

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	var file configFile
	err = yaml.Unmarshal(content, &file)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.apply(&file.Common)
	switch strings.ToUpper(selection) {
	case "CLIPBOARD":
		cfg.apply(&file.Clipboard)
	case "PRIMARY":
		cfg.apply(&file.Primary)
	default:
		return nil, fmt.Errorf("unknown selection kind %q", selection)
	}

	if cfg.ItemLimit <= 0 {
		return nil, fmt.Errorf("item_limit must be positive, got %d", cfg.ItemLimit)
	}
	if cfg.IncrChunkSize <= 0 || cfg.IncrSizeLimit <= 0 {
		return nil, fmt.Errorf("INCR sizes must be positive")
	}
	return cfg, nil
}

// Watch reports changes of the config file via onChange. The returned stop
// function ends the watch.
func Watch(path string, onChange func()) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// watch the directory: editors replace the file on save
	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				logger.Debug("config file changed:", ev)
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warning("config watcher error:", err)
			}
		}
	}()

	return func() {
		_ = watcher.Close()
	}, nil
}
