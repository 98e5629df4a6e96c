package eegstream

import _ "embed"

// DefaultDeriveScript is the embedded derive.lua: relative band power and the
// Beta/Alpha, Theta/Beta and Gamma/Beta ratios.
//
//go:embed scripts/derive.lua
var DefaultDeriveScript string
