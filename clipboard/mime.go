// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package clipboard

import (
	"strings"

	x "github.com/linuxdeepin/go-x11-client"
)

// passwordManagerHint marks selections coming from a password manager.
// Its presence anywhere in a target set discards the whole set.
const passwordManagerHint = "x-kde-passwordManagerHint"

// plaintextMimeOrder ranks plaintext targets, lowest priority first. Only
// the highest-ranked plaintext target of a transfer is captured.
var plaintextMimeOrder = []string{
	"",
	"text/plain;charset=us-ascii",
	"text/plain;charset=unicode",
	"text",
	"string",
	"text/plain",
	"text/plain;charset=utf-8",
	"utf8_string",
}

// imageMimeOrder ranks image targets, lowest priority first. Unlisted
// image formats score below all listed ones.
var imageMimeOrder = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/svg+xml",
}

func plaintextMimeScore(mime string) (int, bool) {
	for i, candidate := range plaintextMimeOrder {
		if strings.EqualFold(mime, candidate) {
			return i, true
		}
	}
	return 0, false
}

func isPlaintextMime(mime string) bool {
	_, ok := plaintextMimeScore(mime)
	return ok
}

func isImageMime(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}

func imageMimeScore(mime string) int {
	for i, candidate := range imageMimeOrder {
		if strings.EqualFold(mime, candidate) {
			return i + 1
		}
	}
	return 0
}

// filterMimes keeps at most one plaintext and one image target (the
// best-ranked of each), passes every other target through unchanged, and
// returns nothing at all if the password manager hint is present.
func filterMimes(mimes map[x.Atom]string) map[x.Atom]string {
	filtered := make(map[x.Atom]string)
	var plainAtom, imageAtom x.Atom
	var plainName, imageName string
	plainScore, imageScore := -1, -1

	for atom, mime := range mimes {
		if score, ok := plaintextMimeScore(mime); ok {
			if score > plainScore {
				plainAtom, plainName, plainScore = atom, mime, score
			}
		} else if isImageMime(mime) {
			if score := imageMimeScore(mime); score > imageScore {
				imageAtom, imageName, imageScore = atom, mime, score
			}
		} else if mime == passwordManagerHint {
			logger.Debug("password manager selection, dropping all targets")
			return map[x.Atom]string{}
		} else {
			filtered[atom] = mime
		}
	}

	if plainScore >= 0 {
		filtered[plainAtom] = plainName
	}
	if imageScore >= 0 {
		filtered[imageAtom] = imageName
	}
	return filtered
}
