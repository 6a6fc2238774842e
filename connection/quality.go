// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package connection

import (
	"fmt"
	"strings"

	vnc "github.com/tenthirtyam/anyvnc"
)

// Quality selects the encodings a connection asks the server for.
type Quality int

const (
	QualityDefault Quality = iota
	// QualityThumbnail prefers the most compact encodings.
	QualityThumbnail
	// QualityScreenshot requests lossless raw pixels only.
	QualityScreenshot
	// QualityRemoteControl adds the remote cursor shape and position.
	QualityRemoteControl
)

func (q Quality) String() string {
	switch q {
	case QualityThumbnail:
		return "thumbnail"
	case QualityScreenshot:
		return "screenshot"
	case QualityRemoteControl:
		return "remote-control"
	default:
		return "default"
	}
}

// ParseQuality maps a quality name, as used in configuration files, to a Quality.
func ParseQuality(name string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return QualityDefault, nil
	case "thumbnail":
		return QualityThumbnail, nil
	case "screenshot":
		return QualityScreenshot, nil
	case "remote-control", "remotecontrol":
		return QualityRemoteControl, nil
	default:
		return QualityDefault, vnc.NewVNCError("connection.ParseQuality", vnc.ErrValidation,
			fmt.Sprintf("unknown quality %q", name), nil)
	}
}

// Encodings returns the encodings for q in preference order. Raw is always
// understood by the engine and is not listed.
func (q Quality) Encodings() []vnc.Encoding {
	switch q {
	case QualityScreenshot:
		return nil
	case QualityThumbnail:
		return []vnc.Encoding{
			&vnc.HextileEncoding{},
			&vnc.RREEncoding{},
			&vnc.CopyRectEncoding{},
			&vnc.DesktopSizePseudoEncoding{},
		}
	case QualityRemoteControl:
		return []vnc.Encoding{
			&vnc.CopyRectEncoding{},
			&vnc.HextileEncoding{},
			&vnc.RREEncoding{},
			&vnc.DesktopSizePseudoEncoding{},
			&vnc.CursorPseudoEncoding{},
			&vnc.PointerPosPseudoEncoding{},
		}
	default:
		return []vnc.Encoding{
			&vnc.CopyRectEncoding{},
			&vnc.HextileEncoding{},
			&vnc.RREEncoding{},
			&vnc.DesktopSizePseudoEncoding{},
		}
	}
}
