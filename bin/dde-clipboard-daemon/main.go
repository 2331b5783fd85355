// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"flag"

	"github.com/linuxdeepin/dde-clipboard-daemon/clipboard"
	"github.com/linuxdeepin/go-lib/log"
)

var logger = log.NewLogger("dde-clipboard-daemon")

func main() {
	selection := flag.String("selection", "clipboard",
		"selection to watch: clipboard or primary")
	flag.Parse()

	err := clipboard.Run(*selection)
	if err != nil {
		logger.Fatal(err)
	}
}
