// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"math"
	"time"
)

// arguments is a decoded argument map. Numbers may arrive as any Go
// numeric type or as json.Number depending on the transport.
type arguments map[string]any

func wrapArguments(m map[string]any) arguments {
	return arguments(m)
}

// optionalString returns "" for an absent or null key and false for a value
// of another type.
func (a arguments) optionalString(key string) (string, bool) {
	v, present := a[key]
	if !present || v == nil {
		return "", true
	}
	s, ok := v.(string)
	return s, ok
}

func (a arguments) stringSlice(key string) ([]string, error) {
	v, present := a[key]
	if !present || v == nil {
		return nil, nil
	}
	switch vals := v.(type) {
	case []string:
		return vals, nil
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			s, ok := item.(string)
			if !ok {
				return nil, requiredArgumentMissing(key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, requiredArgumentMissing(key)
	}
}

func (a arguments) stringMap(key string) (map[string]string, error) {
	v, present := a[key]
	if !present || v == nil {
		return nil, nil
	}
	switch vals := v.(type) {
	case map[string]string:
		return vals, nil
	case map[string]any:
		out := make(map[string]string, len(vals))
		for k, item := range vals {
			s, ok := item.(string)
			if !ok {
				return nil, requiredArgumentMissing(key)
			}
			out[k] = s
		}
		return out, nil
	default:
		return nil, requiredArgumentMissing(key)
	}
}

func (a arguments) boolean(key string) (bool, error) {
	v, present := a[key]
	if !present || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, requiredArgumentMissing(key)
	}
	return b, nil
}

// minTTL reads minTtl in seconds. Absent means zero.
func (a arguments) minTTL() (time.Duration, error) {
	v, present := a[argMinTTL]
	if !present || v == nil {
		return 0, nil
	}

	seconds, ok := toInt64(v)
	if !ok {
		return 0, requiredArgumentMissing(argMinTTL)
	}
	if seconds < 0 {
		return 0, invalidArgument("'%s' must not be negative, got %d", argMinTTL, seconds)
	}
	if seconds > math.MaxInt64/int64(time.Second) {
		return 0, invalidArgument("'%s' is too large", argMinTTL)
	}
	return time.Duration(seconds) * time.Second, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
