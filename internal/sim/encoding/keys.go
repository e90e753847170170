// Package encoding holds the wire formats of the shared grid document.
package encoding

import (
	"strconv"
	"strings"
)

// Keys of the shared document.
const (
	KeyCells = "cells"
	KeyRule  = "rule"
)

// DeadValue is the per-cell override value for a dead cell. Any other value
// is the owning participant id.
const DeadValue = ""

// CellKey is the per-cell override key, "x,y".
func CellKey(x, y int) string {
	return strconv.Itoa(x) + "," + strconv.Itoa(y)
}

// ParseCellKey reverses CellKey. ok is false for keys that are not cell keys.
func ParseCellKey(key string) (x, y int, ok bool) {
	xs, ys, found := strings.Cut(key, ",")
	if !found {
		return 0, 0, false
	}
	x, err := strconv.Atoi(xs)
	if err != nil || x < 0 {
		return 0, 0, false
	}
	y, err = strconv.Atoi(ys)
	if err != nil || y < 0 {
		return 0, 0, false
	}
	return x, y, true
}
