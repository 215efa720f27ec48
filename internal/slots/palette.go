package slots

import (
	"math"
	"strconv"
	"strings"
)

// MaxSlots is the number of distinct identities a room can hand out.
const MaxSlots = 50

type paletteEntry struct {
	name string
	hex  string
}

var palette = [MaxSlots]paletteEntry{
	{"turquoise", "#31e0b0"},
	{"orange", "#ff5e10"},
	{"blue", "#00abf7"},
	{"pink", "#ff00bb"},
	{"yellow", "#ffd600"},
	{"purple", "#9c2eff"},
	{"green", "#00c853"},
	{"red", "#e53935"},
	{"teal", "#00897b"},
	{"indigo", "#3949ab"},
	{"lime", "#c0ca33"},
	{"amber", "#ffb300"},
	{"cyan", "#00acc1"},
	{"magenta", "#d500f9"},
	{"brown", "#6d4c41"},
	{"navy", "#1a237e"},
	{"coral", "#ff7f50"},
	{"olive", "#827717"},
	{"salmon", "#fa8072"},
	{"violet", "#7e57c2"},
	{"mint", "#69f0ae"},
	{"crimson", "#b71c1c"},
	{"sky", "#4fc3f7"},
	{"rose", "#f06292"},
	{"gold", "#ffc107"},
	{"plum", "#8e24aa"},
	{"emerald", "#2e7d32"},
	{"tangerine", "#ff8f00"},
	{"azure", "#1e88e5"},
	{"fuchsia", "#e040fb"},
	{"sand", "#d7ccc8"},
	{"forest", "#1b5e20"},
	{"peach", "#ffab91"},
	{"cobalt", "#0d47a1"},
	{"lavender", "#b39ddb"},
	{"chartreuse", "#aeea00"},
	{"maroon", "#880e4f"},
	{"aqua", "#18ffff"},
	{"rust", "#bf360c"},
	{"sapphire", "#283593"},
	{"lilac", "#ce93d8"},
	{"jade", "#00a86b"},
	{"apricot", "#ffcc80"},
	{"cerulean", "#0288d1"},
	{"raspberry", "#c2185b"},
	{"moss", "#558b2f"},
	{"ochre", "#cc7722"},
	{"periwinkle", "#8c9eff"},
	{"cherry", "#d81b60"},
	{"slate", "#546e7a"},
}

const (
	neutralColor     = "#878291"
	neutralColorName = "gray"
	darkText         = "#26242a"
	lightText        = "#ffffff"
)

// textColorFor picks dark or light text by the relative luminance of hex.
func textColorFor(hex string) string {
	r, g, b, ok := parseHex(hex)
	if !ok {
		return lightText
	}
	lum := 0.2126*linear(r) + 0.7152*linear(g) + 0.0722*linear(b)
	if lum > 0.4 {
		return darkText
	}
	return lightText
}

func linear(c float64) float64 {
	c /= 255
	if c <= 0.03928 {
		return c / 12.92
	}
	return math.Pow((c+0.055)/1.055, 2.4)
}

func parseHex(hex string) (r, g, b float64, ok bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return float64(v >> 16 & 0xff), float64(v >> 8 & 0xff), float64(v & 0xff), true
}
