package vm

import (
	"strings"
)

// Bound methods exposed on str, list and dict receivers. The receiver is
// always args[0].
var methodTables = map[Kind]map[string]Value{}

func init() {
	methodTables[KindStr] = map[string]Value{
		"endswith":   strMethod("endswith", func(s string, args []Value) Value { return Bool(strings.HasSuffix(s, argStr(args, 0))) }),
		"startswith": strMethod("startswith", func(s string, args []Value) Value { return Bool(strings.HasPrefix(s, argStr(args, 0))) }),
		"upper":      strMethod("upper", func(s string, _ []Value) Value { return Str(strings.ToUpper(s)) }),
		"lower":      strMethod("lower", func(s string, _ []Value) Value { return Str(strings.ToLower(s)) }),
		"strip":      strMethod("strip", func(s string, args []Value) Value { return Str(trim(s, args, strings.Trim, strings.TrimSpace)) }),
		"lstrip": strMethod("lstrip", func(s string, args []Value) Value {
			return Str(trim(s, args, strings.TrimLeft, func(s string) string { return strings.TrimLeft(s, " \t\r\n\v\f") }))
		}),
		"rstrip": strMethod("rstrip", func(s string, args []Value) Value {
			return Str(trim(s, args, strings.TrimRight, func(s string) string { return strings.TrimRight(s, " \t\r\n\v\f") }))
		}),
		"split": strMethod("split", strSplit),
		"replace": strMethod("replace", func(s string, args []Value) Value {
			return Str(strings.ReplaceAll(s, argStr(args, 0), argStr(args, 1)))
		}),
		"find":  strMethod("find", func(s string, args []Value) Value { return Int(int64(strings.Index(s, argStr(args, 0)))) }),
		"count": strMethod("count", func(s string, args []Value) Value { return Int(int64(strings.Count(s, argStr(args, 0)))) }),
		"join": strMethod("join", func(s string, args []Value) Value {
			if len(args) == 0 {
				return Str("")
			}
			items, f := Collect(args[0])
			if f != nil {
				return None
			}
			parts := make([]string, len(items))
			for i, it := range items {
				parts[i] = it.String()
			}
			return Str(strings.Join(parts, s))
		}),
	}
	methodTables[KindList] = map[string]Value{
		"append": listMethod("append", func(l *List, args []Value) Value {
			if len(args) > 0 {
				l.Append(args[0])
			}
			return None
		}),
		"pop": listMethod("pop", func(l *List, args []Value) Value {
			if len(args) == 0 {
				v, _ := l.Pop()
				return v
			}
			i, ok := normIndex(int(args[0].AsInt()), l.Len())
			if !ok {
				return None
			}
			v := l.items[i]
			l.items = append(l.items[:i], l.items[i+1:]...)
			return v
		}),
		"extend": listMethod("extend", func(l *List, args []Value) Value {
			if len(args) > 0 {
				items, f := Collect(args[0])
				if f == nil {
					l.items = append(l.items, items...)
				}
			}
			return None
		}),
		"insert": listMethod("insert", func(l *List, args []Value) Value {
			if len(args) < 2 {
				return None
			}
			i := int(args[0].AsInt())
			if i < 0 {
				i = max(i+l.Len(), 0)
			}
			i = min(i, l.Len())
			l.items = append(l.items, None)
			copy(l.items[i+1:], l.items[i:])
			l.items[i] = args[1]
			return None
		}),
		"index": listMethod("index", func(l *List, args []Value) Value {
			for i, it := range l.items {
				if len(args) > 0 && Equal(it, args[0]) {
					return Int(int64(i))
				}
			}
			return Int(-1)
		}),
	}
	methodTables[KindDict] = map[string]Value{
		"get": dictMethod("get", func(d *Dict, args []Value) Value {
			if len(args) == 0 {
				return None
			}
			if v, ok := d.Get(args[0]); ok {
				return v
			}
			if len(args) > 1 {
				return args[1]
			}
			return None
		}),
		"keys":   dictMethod("keys", func(d *Dict, _ []Value) Value { return NewList(d.Keys()...) }),
		"values": dictMethod("values", func(d *Dict, _ []Value) Value { return NewList(d.Values()...) }),
		"items": dictMethod("items", func(d *Dict, _ []Value) Value {
			out := make([]Value, 0, d.Len())
			d.Range(func(k, v Value) bool {
				out = append(out, NewTuple(k, v))
				return true
			})
			return NewList(out...)
		}),
		"pop": dictMethod("pop", func(d *Dict, args []Value) Value {
			if len(args) == 0 {
				return None
			}
			v, ok := d.Get(args[0])
			if !ok {
				if len(args) > 1 {
					return args[1]
				}
				return None
			}
			d.Delete(args[0])
			return v
		}),
	}
}

func methodFor(k Kind, name string) (Value, bool) {
	m, ok := methodTables[k][name]
	return m, ok
}

func strMethod(name string, fn func(s string, args []Value) Value) Value {
	return NewNative(name, func(args []Value, _ any) Value {
		if len(args) == 0 || !args[0].IsStr() {
			return None
		}
		return fn(args[0].AsStr(), args[1:])
	})
}

func listMethod(name string, fn func(l *List, args []Value) Value) Value {
	return NewNative(name, func(args []Value, _ any) Value {
		if len(args) == 0 || args[0].AsList() == nil {
			return None
		}
		return fn(args[0].AsList(), args[1:])
	})
}

func dictMethod(name string, fn func(d *Dict, args []Value) Value) Value {
	return NewNative(name, func(args []Value, _ any) Value {
		if len(args) == 0 || args[0].AsDict() == nil {
			return None
		}
		return fn(args[0].AsDict(), args[1:])
	})
}

func argStr(args []Value, i int) string {
	if i < len(args) {
		return args[i].AsStr()
	}
	return ""
}

func trim(s string, args []Value, cut func(string, string) string, ws func(string) string) string {
	if len(args) > 0 && args[0].IsStr() {
		return cut(s, args[0].AsStr())
	}
	return ws(s)
}

func strSplit(s string, args []Value) Value {
	var parts []string
	if len(args) == 0 || args[0].IsNone() {
		parts = strings.Fields(s)
	} else {
		parts = strings.Split(s, args[0].AsStr())
	}
	out := make([]Value, len(parts))
	for i, p := range parts {
		out[i] = Str(p)
	}
	return NewList(out...)
}

// methodNames lists the methods of a kind, for dir().
func methodNames(k Kind) []string {
	names := make([]string, 0, len(methodTables[k]))
	for name := range methodTables[k] {
		names = append(names, name)
	}
	return names
}
