package image

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/bytevm/vm"
)

// cborEncMode uses canonical options so equal programs encode to equal
// bytes, which keeps cache keys and image digests stable.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireProgram struct {
	Code []wireInstr `cbor:"1,keyasint"`
}

type wireInstr struct {
	Op    uint8      `cbor:"1,keyasint"`
	Arg   int        `cbor:"2,keyasint,omitempty"`
	Line  int        `cbor:"3,keyasint,omitempty"`
	Const *wireValue `cbor:"4,keyasint,omitempty"`
}

type wireValue struct {
	Kind  uint8       `cbor:"1,keyasint"`
	Int   int64       `cbor:"2,keyasint,omitempty"`
	Float float64     `cbor:"3,keyasint,omitempty"`
	Imag  float64     `cbor:"4,keyasint,omitempty"`
	Str   string      `cbor:"5,keyasint,omitempty"`
	Items []wireValue `cbor:"6,keyasint,omitempty"`
	Func  *wireFunc   `cbor:"7,keyasint,omitempty"`
}

type wireFunc struct {
	Name   string      `cbor:"1,keyasint"`
	Params []string    `cbor:"2,keyasint,omitempty"`
	Code   []wireInstr `cbor:"3,keyasint"`
}

// marshalCode serializes an instruction sequence to CBOR bytes.
func marshalCode(code []vm.Instruction) ([]byte, error) {
	instrs, err := toWireCode(code)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(wireProgram{Code: instrs})
}

// unmarshalCode deserializes an instruction sequence from CBOR bytes.
func unmarshalCode(data []byte) ([]vm.Instruction, error) {
	var p wireProgram
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("image: unmarshal program: %w", err)
	}
	return fromWireCode(p.Code)
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

func toWireCode(code []vm.Instruction) ([]wireInstr, error) {
	out := make([]wireInstr, len(code))
	for i, in := range code {
		out[i] = wireInstr{Op: uint8(in.Op), Arg: in.Arg, Line: in.Line}
		if in.Const.IsNone() {
			// LOAD_CONST None is the only instruction whose None constant
			// matters, and it decodes back to None either way.
			continue
		}
		wv, err := toWireValue(in.Const)
		if err != nil {
			return nil, fmt.Errorf("instruction %d (%s): %w", i, in.Name(), err)
		}
		out[i].Const = &wv
	}
	return out, nil
}

func toWireValue(v vm.Value) (wireValue, error) {
	w := wireValue{Kind: uint8(v.Kind())}
	switch v.Kind() {
	case vm.KindNone:
	case vm.KindBool, vm.KindInt:
		w.Int = v.AsInt()
	case vm.KindFloat:
		w.Float = v.AsFloat()
	case vm.KindComplex:
		c := v.AsComplex()
		w.Float, w.Imag = real(c), imag(c)
	case vm.KindStr:
		w.Str = v.AsStr()
	case vm.KindBytes:
		w.Str = string(v.AsBytes())
	case vm.KindList, vm.KindTuple, vm.KindSet:
		items, err := toWireValues(v.Items())
		if err != nil {
			return w, err
		}
		w.Items = items
	case vm.KindDict:
		d := v.AsDict()
		keys, vals := d.Keys(), d.Values()
		pairs := make([]vm.Value, 0, 2*len(keys))
		for i := range keys {
			pairs = append(pairs, keys[i], vals[i])
		}
		items, err := toWireValues(pairs)
		if err != nil {
			return w, err
		}
		w.Items = items
	case vm.KindFunction:
		fn := v.AsFunction()
		if fn.Native != nil {
			return w, fmt.Errorf("cannot encode native function %s", fn.Name)
		}
		code, err := toWireCode(fn.Code)
		if err != nil {
			return w, fmt.Errorf("function %s: %w", fn.Name, err)
		}
		w.Func = &wireFunc{Name: fn.Name, Params: fn.Params, Code: code}
	default:
		return w, fmt.Errorf("cannot encode %s constant", v.TypeName())
	}
	return w, nil
}

func toWireValues(vals []vm.Value) ([]wireValue, error) {
	out := make([]wireValue, len(vals))
	for i, v := range vals {
		w, err := toWireValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func fromWireCode(instrs []wireInstr) ([]vm.Instruction, error) {
	code := make([]vm.Instruction, len(instrs))
	for i, w := range instrs {
		code[i] = vm.Instruction{Op: vm.Opcode(w.Op), Arg: w.Arg, Line: w.Line}
		if w.Const == nil {
			continue
		}
		v, err := fromWireValue(*w.Const)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		code[i].Const = v
	}
	return code, nil
}

func fromWireValue(w wireValue) (vm.Value, error) {
	switch vm.Kind(w.Kind) {
	case vm.KindNone:
		return vm.None, nil
	case vm.KindBool:
		return vm.Bool(w.Int != 0), nil
	case vm.KindInt:
		return vm.Int(w.Int), nil
	case vm.KindFloat:
		return vm.Float(w.Float), nil
	case vm.KindComplex:
		return vm.Complex(complex(w.Float, w.Imag)), nil
	case vm.KindStr:
		return vm.Str(w.Str), nil
	case vm.KindBytes:
		return vm.Bytes([]byte(w.Str)), nil
	case vm.KindList, vm.KindTuple, vm.KindSet, vm.KindDict:
		items := make([]vm.Value, len(w.Items))
		for i, item := range w.Items {
			v, err := fromWireValue(item)
			if err != nil {
				return vm.None, err
			}
			items[i] = v
		}
		return buildContainer(vm.Kind(w.Kind), items)
	case vm.KindFunction:
		if w.Func == nil {
			return vm.None, fmt.Errorf("function constant without a body")
		}
		code, err := fromWireCode(w.Func.Code)
		if err != nil {
			return vm.None, fmt.Errorf("function %s: %w", w.Func.Name, err)
		}
		return vm.FunctionValue(&vm.Function{Name: w.Func.Name, Params: w.Func.Params, Code: code}), nil
	}
	return vm.None, fmt.Errorf("unknown constant kind %d", w.Kind)
}

func buildContainer(kind vm.Kind, items []vm.Value) (vm.Value, error) {
	switch kind {
	case vm.KindList:
		return vm.NewList(items...), nil
	case vm.KindTuple:
		return vm.NewTuple(items...), nil
	case vm.KindSet:
		return vm.NewSet(items...), nil
	}
	if len(items)%2 != 0 {
		return vm.None, fmt.Errorf("dict constant with %d items", len(items))
	}
	d := vm.NewDict()
	for i := 0; i < len(items); i += 2 {
		d.AsDict().Set(items[i], items[i+1])
	}
	return d, nil
}
