package http

import (
	xutil "PortfolioAgents/pkg/util"
)

// ParseIntDefault parses string to int or returns default if empty/invalid.
func ParseIntDefault(s string, def int) int { return xutil.ParseIntDefault(s, def) }

// ClampInt bounds v to [lo, hi].
func ClampInt(v, lo, hi int) int { return xutil.ClampInt(v, lo, hi) }
