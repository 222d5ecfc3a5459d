package modbus

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Register regions.
type region int

const (
	regionCoil region = iota
	regionDiscrete
	regionInput
	regionHolding
)

var ErrInvalidAddress = errors.New("modbus: invalid address")

// parseAddress resolves a point address to a region and zero-based
// register offset.
//
// Two notations are accepted:
//
//	Prefixed: "co:12", "di:3", "ir:7", "hr:40001"
//	Numeric:  "00013" coil, "10004" discrete, "30008" input, "40002" holding
//
// Prefixed addresses at or above the region's traditional base
// (40001 for holding, 30001 for input) are treated as 1-based
// references; smaller values are raw zero-based offsets.
func parseAddress(addr string) (region, uint16, error) {
	if prefix, rest, ok := strings.Cut(addr, ":"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
		}
		switch prefix {
		case "co":
			return regionCoil, normalize(n, 1), nil
		case "di":
			return regionDiscrete, normalize(n, 10001), nil
		case "ir":
			return regionInput, normalize(n, 30001), nil
		case "hr":
			return regionHolding, normalize(n, 40001), nil
		default:
			return 0, 0, fmt.Errorf("%w: unknown prefix %q", ErrInvalidAddress, prefix)
		}
	}

	n, err := strconv.Atoi(addr)
	if err != nil || n < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	switch {
	case n >= 40001 && n <= 49999:
		return regionHolding, uint16(n - 40001), nil
	case n >= 30001 && n <= 39999:
		return regionInput, uint16(n - 30001), nil
	case n >= 10001 && n <= 19999:
		return regionDiscrete, uint16(n - 10001), nil
	case n >= 1 && n <= 9999:
		return regionCoil, uint16(n - 1), nil
	default:
		return 0, 0, fmt.Errorf("%w: %q out of range", ErrInvalidAddress, addr)
	}
}

// normalize maps a possibly 1-based traditional reference onto a
// zero-based offset.
func normalize(n, base int) uint16 {
	if n >= base {
		return uint16(n - base)
	}
	return uint16(n)
}
