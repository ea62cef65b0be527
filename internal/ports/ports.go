// Package ports models the set of TCP ports a probe covers: either a
// contiguous inclusive range or an explicit list, plus the textual form used
// by the CLI, API and configuration ("22,80,8000-8100", "common", "top-100").
package ports

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/anstrom/portprobe/internal/errors"
)

const (
	MinPort = 1
	MaxPort = 65535
)

// Keywords accepted by Parse.
const (
	KeywordCommon = "common"
	KeywordTop100 = "top-100"
	KeywordAll    = "all"
)

// Common is the short list of well-known service ports.
var Common = []int{21, 22, 23, 25, 53, 80, 110, 143, 443, 445, 3306, 3389, 8080}

// Top100 holds the hundred most frequently open TCP ports, ascending.
var Top100 = []int{
	7, 9, 13, 21, 22, 23, 25, 26, 37, 53, 79, 80, 81, 88, 106, 110, 111, 113, 119, 135,
	139, 143, 144, 179, 199, 389, 427, 443, 444, 445, 465, 513, 514, 515, 543, 544, 548, 554, 587, 631,
	646, 873, 990, 993, 995, 1025, 1026, 1027, 1028, 1029, 1110, 1433, 1720, 1723, 1755, 1900, 2000, 2001, 2049, 2121,
	2717, 3000, 3128, 3306, 3389, 3986, 4899, 5000, 5009, 5051, 5060, 5101, 5190, 5357, 5432, 5631, 5666, 5800, 5900, 6000,
	6001, 6646, 7070, 8000, 8008, 8009, 8080, 8081, 8443, 8888, 9100, 9999, 10000, 32768, 49152, 49153, 49154, 49155, 49156, 49157,
}

// Spec is a port specification. The zero value is an empty list and fails
// Validate.
type Spec struct {
	start   int
	end     int
	list    []int
	isRange bool
}

// Range returns the inclusive range [start, end].
func Range(start, end int) Spec {
	return Spec{start: start, end: end, isRange: true}
}

// List returns an explicit set of ports. Order and duplicates do not matter.
func List(ports ...int) Spec {
	cp := make([]int, len(ports))
	copy(cp, ports)
	return Spec{list: cp}
}

// IsRange reports whether s was built as a contiguous range.
func (s Spec) IsRange() bool {
	return s.isRange
}

// Bounds returns the range endpoints. Both are zero for list specs.
func (s Spec) Bounds() (start, end int) {
	if !s.isRange {
		return 0, 0
	}
	return s.start, s.end
}

// Validate checks that every port lies in 1..65535, that a range is not
// inverted and that a list is not empty.
func (s Spec) Validate() error {
	if s.isRange {
		if !valid(s.start) || !valid(s.end) {
			return errors.NewInvalidPortSpec(s.String(),
				fmt.Sprintf("ports must be between %d and %d", MinPort, MaxPort))
		}
		if s.start > s.end {
			return errors.NewInvalidPortSpec(s.String(),
				fmt.Sprintf("range start %d greater than end %d", s.start, s.end))
		}
		return nil
	}

	if len(s.list) == 0 {
		return errors.NewInvalidPortSpec("", "no ports given")
	}
	for _, p := range s.list {
		if !valid(p) {
			return errors.NewInvalidPortSpec(s.String(),
				fmt.Sprintf("port %d out of range %d-%d", p, MinPort, MaxPort))
		}
	}
	return nil
}

// Expand returns the ports of s sorted ascending without duplicates.
// Call Validate first; Expand does not filter invalid ports.
func (s Spec) Expand() []int {
	if s.isRange {
		if s.start > s.end {
			return nil
		}
		out := make([]int, 0, s.end-s.start+1)
		for p := s.start; p <= s.end; p++ {
			out = append(out, p)
		}
		return out
	}
	return dedupe(s.list)
}

// Len returns the number of distinct ports in s.
func (s Spec) Len() int {
	if s.isRange {
		if s.start > s.end {
			return 0
		}
		return s.end - s.start + 1
	}
	return len(dedupe(s.list))
}

// String renders s in the form accepted by Parse.
func (s Spec) String() string {
	if s.isRange {
		if s.start == s.end {
			return strconv.Itoa(s.start)
		}
		return fmt.Sprintf("%d-%d", s.start, s.end)
	}
	parts := make([]string, 0, len(s.list))
	for _, p := range dedupe(s.list) {
		parts = append(parts, strconv.Itoa(p))
	}
	return strings.Join(parts, ",")
}

// Parse reads a comma separated port specification. Each element is a port,
// an inclusive "start-end" range or one of the keywords common, top-100 and
// all. A specification made of a single range element yields a range Spec.
func Parse(raw string) (Spec, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Spec{}, errors.NewInvalidPortSpec("", "no ports given")
	}

	var (
		collected []int
		ranges    int
		single    Spec
	)
	tokens := strings.Split(text, ",")
	for _, tok := range tokens {
		tok = strings.ToLower(strings.TrimSpace(tok))
		switch tok {
		case "":
			continue
		case KeywordAll:
			return Range(MinPort, MaxPort), nil
		case KeywordCommon:
			collected = append(collected, Common...)
			continue
		case KeywordTop100:
			collected = append(collected, Top100...)
			continue
		}

		if lo, hi, ok := strings.Cut(tok, "-"); ok {
			start, err := parsePort(raw, lo)
			if err != nil {
				return Spec{}, err
			}
			end, err := parsePort(raw, hi)
			if err != nil {
				return Spec{}, err
			}
			r := Range(start, end)
			if err := r.Validate(); err != nil {
				return Spec{}, errors.NewInvalidPortSpec(raw, err.(*errors.InvalidPortSpecError).Reason)
			}
			ranges++
			single = r
			collected = append(collected, r.Expand()...)
			continue
		}

		p, err := parsePort(raw, tok)
		if err != nil {
			return Spec{}, err
		}
		collected = append(collected, p)
	}

	if ranges == 1 && len(tokens) == 1 {
		return single, nil
	}

	s := List(collected...)
	if err := s.Validate(); err != nil {
		return Spec{}, errors.NewInvalidPortSpec(raw, err.(*errors.InvalidPortSpecError).Reason)
	}
	return s, nil
}

// MustParse is like Parse but panics on error. Intended for constants.
func MustParse(raw string) Spec {
	s, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return s
}

func parsePort(raw, tok string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(tok))
	if err != nil {
		return 0, errors.NewInvalidPortSpec(raw, fmt.Sprintf("%q is not a port number", tok))
	}
	if !valid(p) {
		return 0, errors.NewInvalidPortSpec(raw, fmt.Sprintf("port %d out of range %d-%d", p, MinPort, MaxPort))
	}
	return p, nil
}

func valid(p int) bool {
	return p >= MinPort && p <= MaxPort
}

func dedupe(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	out := make([]int, len(in))
	copy(out, in)
	sort.Ints(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}
