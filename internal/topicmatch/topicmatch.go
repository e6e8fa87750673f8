// Package topicmatch implements the MQTT topic and topic-filter predicates
// the core engine treats as an external, pure-function collaborator
// (spec.md §6): topics never contain wildcards, filters may use '+' for a
// single level and '#' as the terminal level only.
package topicmatch

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxLength is the MQTT-specified maximum topic/filter length in bytes.
const MaxLength = 65535

// ValidTopic reports whether topic is usable as a publish destination: no
// wildcards, valid UTF-8, no null bytes, within the length limit.
func ValidTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if len(topic) > MaxLength {
		return fmt.Errorf("topic length %d exceeds maximum %d", len(topic), MaxLength)
	}
	if strings.ContainsRune(topic, '+') {
		return fmt.Errorf("topic contains single-level wildcard '+' which is not allowed")
	}
	if strings.ContainsRune(topic, '#') {
		return fmt.Errorf("topic contains multi-level wildcard '#' which is not allowed")
	}
	if strings.ContainsRune(topic, '\x00') {
		return fmt.Errorf("topic contains a null byte")
	}
	if !utf8.ValidString(topic) {
		return fmt.Errorf("topic is not valid UTF-8")
	}
	return nil
}

// ValidFilter reports whether filter is usable as a subscription filter:
// '+' may stand alone in a level, '#' may stand alone as the final level.
func ValidFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("topic filter cannot be empty")
	}
	if len(filter) > MaxLength {
		return fmt.Errorf("topic filter length %d exceeds maximum %d", len(filter), MaxLength)
	}
	if strings.ContainsRune(filter, '\x00') {
		return fmt.Errorf("topic filter contains a null byte")
	}
	if !utf8.ValidString(filter) {
		return fmt.Errorf("topic filter is not valid UTF-8")
	}

	parts := strings.Split(filter, "/")
	for i, part := range parts {
		if strings.ContainsRune(part, '+') && part != "+" {
			return fmt.Errorf("single-level wildcard '+' must occupy its entire topic level")
		}
		if strings.ContainsRune(part, '#') {
			if part != "#" {
				return fmt.Errorf("multi-level wildcard '#' must occupy its entire topic level")
			}
			if i != len(parts)-1 {
				return fmt.Errorf("multi-level wildcard '#' must be the last level")
			}
		}
	}
	return nil
}

// Match reports whether topic (a concrete publish destination) matches
// filter (which may contain '+'/'#' wildcards), following MQTT-4.7.2-1: a
// filter beginning with a wildcard never matches a topic beginning with '$'.
func Match(filter, topic string) bool {
	if len(topic) > 0 && topic[0] == '$' {
		if len(filter) > 0 && (filter[0] == '+' || filter[0] == '#') {
			return false
		}
	}

	fIdx, tIdx := 0, 0
	fLen, tLen := len(filter), len(topic)

	for fIdx <= fLen {
		var fLevel string
		var fNext int
		if idx := strings.IndexByte(filter[fIdx:], '/'); idx >= 0 {
			fNext = fIdx + idx
			fLevel = filter[fIdx:fNext]
		} else {
			fNext = fLen
			fLevel = filter[fIdx:]
		}

		if fLevel == "#" {
			return true
		}

		if tIdx > tLen {
			return false
		}

		var tLevel string
		var tNext int
		if idx := strings.IndexByte(topic[tIdx:], '/'); idx >= 0 {
			tNext = tIdx + idx
			tLevel = topic[tIdx:tNext]
		} else {
			tNext = tLen
			tLevel = topic[tIdx:]
		}

		if fLevel != "+" && fLevel != tLevel {
			return false
		}

		if fNext == fLen {
			fIdx = fLen + 1
		} else {
			fIdx = fNext + 1
		}
		if tNext == tLen {
			tIdx = tLen + 1
		} else {
			tIdx = tNext + 1
		}
	}

	return tIdx > tLen
}
