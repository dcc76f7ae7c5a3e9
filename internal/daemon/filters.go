package daemon

import (
	"bytes"

	"go.olrik.dev/logwarden/internal/core"
)

// Predicate decides whether a channel is interested in a log line
type Predicate func(line []byte) bool

// ContainsAny matches lines containing at least one of the substrings
func ContainsAny(substrings ...string) Predicate {
	needles := toBytes(substrings)
	return func(line []byte) bool {
		for _, n := range needles {
			if bytes.Contains(line, n) {
				return true
			}
		}
		return false
	}
}

// Not inverts a predicate
func Not(p Predicate) Predicate {
	return func(line []byte) bool {
		return !p(line)
	}
}

// All matches when every predicate matches
func All(preds ...Predicate) Predicate {
	return func(line []byte) bool {
		for _, p := range preds {
			if !p(line) {
				return false
			}
		}
		return true
	}
}

// MatchAll accepts every line
func MatchAll(line []byte) bool {
	return true
}

// PredicateFromConfig builds a channel predicate from include/exclude
// substring lists. An empty include list matches everything that is not
// excluded.
func PredicateFromConfig(cfg core.ChannelConfig) Predicate {
	var preds []Predicate
	if len(cfg.Include) > 0 {
		preds = append(preds, ContainsAny(cfg.Include...))
	}
	if len(cfg.Exclude) > 0 {
		preds = append(preds, Not(ContainsAny(cfg.Exclude...)))
	}
	switch len(preds) {
	case 0:
		return MatchAll
	case 1:
		return preds[0]
	}
	return All(preds...)
}

func toBytes(s []string) [][]byte {
	out := make([][]byte, 0, len(s))
	for _, v := range s {
		if v == "" {
			continue
		}
		out = append(out, []byte(v))
	}
	return out
}
