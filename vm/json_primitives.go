package vm

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/chazu/bytevm/policy"
)

// ---------------------------------------------------------------------------
// json
// ---------------------------------------------------------------------------

func jsonModule() *Dict {
	d := newModule("json")
	def(d, "dumps", func(v *VM, args []Value) Value {
		if len(args) == 0 {
			return v.raise(TypeError, "dumps() missing 1 required positional argument: 'obj'")
		}
		out, err := EncodeJSON(args[0], indentArg(args, 1))
		if err != nil {
			return v.raise(jsonErrorKind(err), "%s", err)
		}
		return Str(string(out))
	})
	def(d, "loads", func(v *VM, args []Value) Value {
		if len(args) == 0 || (!args[0].IsStr() && args[0].Kind() != KindBytes) {
			return v.raise(TypeError, "loads() argument must be str or bytes")
		}
		res, err := DecodeJSON(args[0].AsBytes())
		if err != nil {
			return v.raise(ValueError, "%s", err)
		}
		return res
	})
	def(d, "dump", guarded(policy.Write, "json.dump", False, func(v *VM, args []Value) Value {
		p, ok := pathArg(args, 1)
		if !ok {
			return v.raise(TypeError, "dump() expects an object and a path")
		}
		out, err := EncodeJSON(args[0], indentArg(args, 2))
		if err != nil {
			return v.raise(jsonErrorKind(err), "%s", err)
		}
		return hostOp(v, "json.dump", os.WriteFile(p, out, 0o644))
	}))
	def(d, "load", guarded(policy.Read, "json.load", None, func(v *VM, args []Value) Value {
		p, ok := pathArg(args, 0)
		if !ok {
			return v.raise(TypeError, "load() expects a path")
		}
		data, err := os.ReadFile(p)
		if err != nil {
			v.log.Debugf("json.load: %s", err)
			return None
		}
		res, err := DecodeJSON(data)
		if err != nil {
			return v.raise(ValueError, "%s", err)
		}
		return res
	}))
	return d
}

// maxIndent caps a numeric json indent.
const maxIndent = 64

func indentArg(args []Value, i int) string {
	if i >= len(args) {
		return ""
	}
	switch a := args[i]; {
	case numRank(a) == 1:
		return strings.Repeat(" ", int(min(max(a.AsInt(), 0), maxIndent)))
	case a.IsStr():
		return a.AsStr()
	}
	return ""
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// ErrCircular is returned when a container holds itself.
var ErrCircular = errors.New("Circular reference detected")

func jsonErrorKind(err error) string {
	if errors.Is(err, ErrCircular) {
		return ValueError
	}
	return TypeError
}

// EncodeJSON serializes v. Dict entries keep insertion order. A non-empty
// indent pretty-prints the result.
func EncodeJSON(v Value, indent string) ([]byte, error) {
	var b bytes.Buffer
	if err := encodeJSON(&b, v, make(map[any]struct{})); err != nil {
		return nil, err
	}
	if indent == "" {
		return b.Bytes(), nil
	}
	var out bytes.Buffer
	if err := json.Indent(&out, b.Bytes(), "", indent); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// encodeJSON writes v to b. active holds the containers currently being
// written, so a container that reaches itself is reported instead of
// recursing forever.
func encodeJSON(b *bytes.Buffer, v Value, active map[any]struct{}) error {
	switch v.Kind() {
	case KindList, KindTuple, KindDict:
		if _, ok := active[v.ref]; ok {
			return ErrCircular
		}
		active[v.ref] = struct{}{}
		defer delete(active, v.ref)
	}
	switch v.Kind() {
	case KindNone:
		b.WriteString("null")
	case KindBool:
		b.WriteString(strconv.FormatBool(v.AsBool()))
	case KindInt:
		b.WriteString(strconv.FormatInt(v.AsInt(), 10))
	case KindFloat:
		f := v.AsFloat()
		switch {
		case math.IsNaN(f):
			b.WriteString("NaN")
		case math.IsInf(f, 1):
			b.WriteString("Infinity")
		case math.IsInf(f, -1):
			b.WriteString("-Infinity")
		default:
			b.WriteString(formatFloat(f))
		}
	case KindStr:
		if err := quoteJSON(b, v.AsStr()); err != nil {
			return err
		}
	case KindList, KindTuple:
		b.WriteByte('[')
		for i, it := range v.Items() {
			if i > 0 {
				b.WriteString(", ")
			}
			if err := encodeJSON(b, it, active); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case KindDict:
		b.WriteByte('{')
		var err error
		first := true
		v.AsDict().Range(func(k, val Value) bool {
			var key string
			if key, err = jsonKey(k); err != nil {
				return false
			}
			if !first {
				b.WriteString(", ")
			}
			first = false
			if err = quoteJSON(b, key); err != nil {
				return false
			}
			b.WriteString(": ")
			err = encodeJSON(b, val, active)
			return err == nil
		})
		if err != nil {
			return err
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("Object of type %s is not JSON serializable", v.TypeName())
	}
	return nil
}

// quoteJSON writes s as a JSON string without HTML escaping.
func quoteJSON(b *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	b.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}

func jsonKey(k Value) (string, error) {
	switch k.Kind() {
	case KindStr:
		return k.AsStr(), nil
	case KindNone:
		return "null", nil
	case KindBool:
		return strconv.FormatBool(k.AsBool()), nil
	case KindInt, KindFloat:
		return k.String(), nil
	}
	return "", fmt.Errorf("keys must be str, int, float, bool or None, not %s", k.TypeName())
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// DecodeJSON parses a JSON document. Objects become dicts whose key order
// follows the document.
func DecodeJSON(data []byte) (Value, error) {
	if !json.Valid(data) {
		return None, errors.New("invalid JSON document")
	}
	return decodeJSON(bytes.TrimSpace(data))
}

func decodeJSON(data []byte) (Value, error) {
	if len(data) == 0 {
		return None, errors.New("unexpected end of JSON input")
	}
	switch data[0] {
	case '{':
		return decodeObject(data)
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return None, err
		}
		items := make([]Value, len(raw))
		for i, r := range raw {
			it, err := decodeJSON(bytes.TrimSpace(r))
			if err != nil {
				return None, err
			}
			items[i] = it
		}
		return NewList(items...), nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return None, err
	}
	switch t := x.(type) {
	case nil:
		return None, nil
	case bool:
		return Bool(t), nil
	case string:
		return Str(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return None, err
		}
		return Float(f), nil
	}
	return None, fmt.Errorf("unexpected JSON value %T", x)
}

// decodeObject walks a validated object so that members are inserted in
// document order.
func decodeObject(data []byte) (Value, error) {
	d := newDict()
	i := skipSpace(data, 1)
	for i < len(data) && data[i] != '}' {
		end := scanJSONValue(data, i)
		var key string
		if err := json.Unmarshal(data[i:end], &key); err != nil {
			return None, err
		}
		i = skipSpace(data, end)
		i = skipSpace(data, i+1) // ':'
		end = scanJSONValue(data, i)
		val, err := decodeJSON(data[i:end])
		if err != nil {
			return None, err
		}
		d.SetStr(key, val)
		i = skipSpace(data, end)
		if i < len(data) && data[i] == ',' {
			i = skipSpace(data, i+1)
		}
	}
	return Value{kind: KindDict, ref: d}, nil
}

func skipSpace(data []byte, i int) int {
	for i < len(data) && (data[i] == ' ' || data[i] == '\t' || data[i] == '\n' || data[i] == '\r') {
		i++
	}
	return i
}

// scanJSONValue returns the index just past the value starting at i.
func scanJSONValue(data []byte, i int) int {
	depth := 0
	inStr := false
	for j := i; j < len(data); j++ {
		c := data[j]
		if inStr {
			switch c {
			case '\\':
				j++
			case '"':
				inStr = false
				if depth == 0 {
					return j + 1
				}
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{', '[':
			depth++
		case '}', ']':
			if depth == 0 {
				return j
			}
			depth--
			if depth == 0 {
				return j + 1
			}
		case ',', ' ', '\t', '\n', '\r', ':':
			if depth == 0 {
				return j
			}
		}
	}
	return len(data)
}
