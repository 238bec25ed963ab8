package datasource

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultChunkChars bounds a JSON chunk at roughly 10k tokens.
const DefaultChunkChars = 40000

// ChunkJSON splits a JSON array or object into serialized pieces of at
// most maxChars each. Arrays are split between elements and objects between
// members; an oversized element is split recursively when it is itself an
// array or object.
func ChunkJSON(data string, maxChars int) ([]string, error) {
	if maxChars <= 0 {
		maxChars = DefaultChunkChars
	}
	raw := json.RawMessage(bytes.TrimSpace([]byte(data)))
	if len(raw) == 0 {
		return nil, fmt.Errorf("chunk json: empty document")
	}
	switch raw[0] {
	case '[', '{':
		return chunkElement(raw, maxChars)
	default:
		return nil, fmt.Errorf("chunk json: input must be an object or array")
	}
}

// ChunkKey names chunk i (zero based) of n for retrieval.
func ChunkKey(i, n int) string {
	return fmt.Sprintf("CHUNK_%d-%d", i+1, n)
}

func chunkElement(raw json.RawMessage, maxChars int) ([]string, error) {
	switch raw[0] {
	case '[':
		return chunkArray(raw, maxChars)
	case '{':
		return chunkObject(raw, maxChars)
	default:
		return []string{string(raw)}, nil
	}
}

func chunkArray(raw json.RawMessage, maxChars int) ([]string, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("chunk json: %w", err)
	}

	var (
		out     []string
		current []json.RawMessage
		size    int
	)
	flush := func() error {
		if len(current) == 0 {
			return nil
		}
		b, err := json.Marshal(current)
		if err != nil {
			return err
		}
		out = append(out, string(b))
		current, size = nil, 0
		return nil
	}

	for _, e := range elems {
		if len(e) > maxChars && (e[0] == '[' || e[0] == '{') {
			if err := flush(); err != nil {
				return nil, err
			}
			sub, err := chunkElement(e, maxChars)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		if size+len(e) > maxChars {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		current = append(current, e)
		size += len(e)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

func chunkObject(raw json.RawMessage, maxChars int) ([]string, error) {
	keys, members, err := orderedMembers(raw)
	if err != nil {
		return nil, err
	}

	var (
		out  []string
		buf  bytes.Buffer
		size int
	)
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		out = append(out, "{"+buf.String()+"}")
		buf.Reset()
		size = 0
	}
	add := func(key []byte, value []byte) {
		if buf.Len() > 0 {
			buf.WriteByte(',')
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}

	for i, key := range keys {
		value := members[i]
		memberSize := len(key) + len(value) + 1
		if memberSize > maxChars && (value[0] == '[' || value[0] == '{') {
			flush()
			sub, err := chunkElement(value, maxChars)
			if err != nil {
				return nil, err
			}
			for _, s := range sub {
				out = append(out, "{"+string(key)+":"+s+"}")
			}
			continue
		}
		if size+memberSize > maxChars {
			flush()
		}
		add(key, value)
		size += memberSize
	}
	flush()
	return out, nil
}

// orderedMembers decodes an object keeping member order. Keys are returned
// in their encoded (quoted) form.
func orderedMembers(raw json.RawMessage) ([][]byte, []json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, nil, fmt.Errorf("chunk json: %w", err)
	}

	var (
		keys   [][]byte
		values []json.RawMessage
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("chunk json: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("chunk json: unexpected token %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, nil, fmt.Errorf("chunk json: %w", err)
		}
		key, _ := json.Marshal(name)
		keys = append(keys, key)
		values = append(values, bytes.TrimSpace(value))
	}
	return keys, values, nil
}
