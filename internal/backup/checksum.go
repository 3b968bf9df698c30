package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// checksum implements spec §4.H's stable checksum: recursively sort
// every JSON object's keys, serialize, SHA-256, and keep the first 16
// hex characters. Sorting keys first means two semantically identical
// table dumps checksum identically regardless of map iteration order.
func checksum(data map[string][]map[string]interface{}) (string, error) {
	canon := canonicalize(data)
	encoded, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("backup: marshalling canonical data: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])[:16], nil
}

// canonicalize walks v and replaces every map with an orderedMap whose
// MarshalJSON emits keys sorted lexically, so json.Marshal produces a
// byte-stable encoding regardless of Go's randomized map iteration.
func canonicalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string][]map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, rows := range t {
			canonRows := make([]interface{}, len(rows))
			for i, row := range rows {
				canonRows[i] = canonicalize(row)
			}
			m[k] = canonRows
		}
		return orderedMap(m)
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = canonicalize(val)
		}
		return orderedMap(m)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return v
	}
}

type orderedMap map[string]interface{}

func (m orderedMap) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(m[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}
