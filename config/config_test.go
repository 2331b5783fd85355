// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte(content), 0600)
	require.NoError(t, err)
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.yaml"), "CLIPBOARD")
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.ItemLimit)
	assert.Equal(t, time.Second, cfg.MergeWindow)
	assert.Equal(t, 10*1024*1024, cfg.IncrSizeLimit)
	assert.Equal(t, 1024*1024-1, cfg.IncrChunkSize)
	assert.Empty(t, cfg.AppPasteKeymaps)
}

func TestLoadCommonSettings(t *testing.T) {
	path := writeConfig(t, `
item_limit: 42
merge_window_ms: 500
app_paste_keymaps:
  uxterm:
    - key: v
      modifiers: [control, shift]
`)
	cfg, err := LoadFrom(path, "PRIMARY")
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.ItemLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.MergeWindow)
	require.Len(t, cfg.AppPasteKeymaps["uxterm"], 1)
	assert.Equal(t, "v", cfg.AppPasteKeymaps["uxterm"][0].Key)
	assert.Equal(t, []string{"control", "shift"}, cfg.AppPasteKeymaps["uxterm"][0].Modifiers)
}

func TestSelectionSectionOverridesCommon(t *testing.T) {
	path := writeConfig(t, `
item_limit: 42
clipboard:
  item_limit: 7
primary:
  merge_window_ms: 250
`)

	clipboard, err := LoadFrom(path, "CLIPBOARD")
	require.NoError(t, err)
	assert.Equal(t, 7, clipboard.ItemLimit)
	assert.Equal(t, time.Second, clipboard.MergeWindow)

	primary, err := LoadFrom(path, "primary")
	require.NoError(t, err)
	assert.Equal(t, 42, primary.ItemLimit)
	assert.Equal(t, 250*time.Millisecond, primary.MergeWindow)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := writeConfig(t, "item_limit: 0\n")
	_, err := LoadFrom(path, "CLIPBOARD")
	assert.Error(t, err)

	path = writeConfig(t, "item_limit: [nonsense\n")
	_, err = LoadFrom(path, "CLIPBOARD")
	assert.Error(t, err)

	path = writeConfig(t, "item_limit: 10\n")
	_, err = LoadFrom(path, "SECONDARY")
	assert.Error(t, err)
}
