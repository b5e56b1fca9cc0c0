package cachesim

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sarchlab/mlreplace/replacement"
)

// A TraceEntry is one memory access of a trace.
type TraceEntry struct {
	IP   uint64
	Kind replacement.AccessKind
	Addr uint64
}

var traceKinds = map[string]replacement.AccessKind{
	"R": replacement.AccessLoad,
	"W": replacement.AccessWrite,
	"P": replacement.AccessPrefetch,
	"F": replacement.AccessRFO,
	"T": replacement.AccessTranslation,
}

// ReadTrace parses a text trace. Each line holds an instruction pointer, an
// access kind, and an address, separated by white space. The instruction
// pointer and the address are hexadecimal with an optional 0x prefix. The
// kind is R (load), W (write-back), P (prefetch), F (read for ownership), or
// T (translation). Blank lines and lines starting with # are skipped.
func ReadTrace(r io.Reader) ([]TraceEntry, error) {
	var entries []TraceEntry

	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry, err := parseTraceLine(line)
		if err != nil {
			return nil, fmt.Errorf("trace line %d: %w", lineNo, err)
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trace: %w", err)
	}

	return entries, nil
}

func parseTraceLine(line string) (TraceEntry, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return TraceEntry{}, fmt.Errorf("expected 3 fields, got %d", len(fields))
	}

	ip, err := parseHex(fields[0])
	if err != nil {
		return TraceEntry{}, fmt.Errorf("invalid instruction pointer: %w", err)
	}

	kind, ok := traceKinds[strings.ToUpper(fields[1])]
	if !ok {
		return TraceEntry{}, fmt.Errorf("unknown access kind %q", fields[1])
	}

	addr, err := parseHex(fields[2])
	if err != nil {
		return TraceEntry{}, fmt.Errorf("invalid address: %w", err)
	}

	return TraceEntry{IP: ip, Kind: kind, Addr: addr}, nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	return strconv.ParseUint(s, 16, 64)
}

// Replay runs the trace through the cache. If onStep is not nil, it is called
// after each access with the number of accesses done.
func (c *Cache) Replay(entries []TraceEntry, onStep func(done int)) {
	for i, e := range entries {
		c.Access(e.Addr, e.IP, e.Kind)

		if onStep != nil {
			onStep(i + 1)
		}
	}
}
