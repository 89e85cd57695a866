package api

import (
	"errors"
	"strconv"
	"strings"
)

var errUnsatisfiable = errors.New("range not satisfiable")

// parseRange interprets a single "bytes=" range against an object of size
// bytes and returns inclusive offsets. Headers it cannot parse, and multi
// range requests, are ignored so the whole object is served. An end past
// the object is clamped to its last byte.
func parseRange(header string, size int64) (start, end int64, ok bool, err error) {
	rng, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || strings.Contains(rng, ",") {
		return 0, 0, false, nil
	}
	startStr, endStr, found := strings.Cut(strings.TrimSpace(rng), "-")
	if !found {
		return 0, 0, false, nil
	}

	// Suffix form: the last n bytes.
	if startStr == "" {
		n, perr := strconv.ParseInt(endStr, 10, 64)
		if perr != nil || n < 0 {
			return 0, 0, false, nil
		}
		if n == 0 || size == 0 {
			return 0, 0, false, errUnsatisfiable
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true, nil
	}

	start, perr := strconv.ParseInt(startStr, 10, 64)
	if perr != nil || start < 0 {
		return 0, 0, false, nil
	}
	end = size - 1
	if endStr != "" {
		end, perr = strconv.ParseInt(endStr, 10, 64)
		if perr != nil || end < start {
			return 0, 0, false, nil
		}
	}
	if start >= size {
		return 0, 0, false, errUnsatisfiable
	}
	if end >= size {
		end = size - 1
	}
	return start, end, true, nil
}
