package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// execute runs one instruction of fr. The frame's PC already points past it.
func (v *VM) execute(fr *Frame, in Instruction) error {
	if err := checkArg(fr, in); err != nil {
		return err
	}
	switch in.Op {
	case OpNop:

	case OpPopTop:
		if f := v.need(fr, 1); f != nil {
			return f
		}
		v.pop()

	case OpLoadConst:
		v.push(in.Const)

	// --- names ---

	case OpLoadName:
		val, f := v.loadName(fr, in.Name())
		if f != nil {
			return f
		}
		v.push(val)

	case OpStoreName:
		if f := v.need(fr, 1); f != nil {
			return f
		}
		v.storeName(fr, in.Name(), v.pop())

	case OpLoadGlobal:
		val, ok := v.globals[in.Name()]
		if !ok {
			return faultf(NameError, "name '%s' is not defined", in.Name())
		}
		v.push(val)

	case OpStoreGlobal:
		if f := v.need(fr, 1); f != nil {
			return f
		}
		v.globals[in.Name()] = v.pop()

	case OpLoadAttr:
		if f := v.need(fr, 1); f != nil {
			return f
		}
		obj := v.pop()
		v.push(v.getAttr(obj, in.Name()))

	case OpStoreAttr:
		if f := v.need(fr, 2); f != nil {
			return f
		}
		obj := v.pop()
		val := v.pop()
		if f := setAttr(obj, in.Name(), val); f != nil {
			return f
		}

	case OpImportName:
		name := in.Name()
		if in.Arg == 0 {
			if i := strings.IndexByte(name, '.'); i >= 0 {
				if _, ok := v.modules[name]; !ok {
					return faultf(ImportError, "No module named '%s'", name)
				}
				name = name[:i]
			}
		}
		m, ok := v.modules[name]
		if !ok {
			return faultf(ImportError, "No module named '%s'", name)
		}
		v.push(m)

	case OpImportFrom:
		if f := v.need(fr, 1); f != nil {
			return f
		}
		m := v.top()
		val, ok := lookupMember(m, in.Name())
		if !ok {
			return faultf(ImportError, "cannot import name '%s'", in.Name())
		}
		v.push(val)

	case OpImportStar:
		if f := v.need(fr, 1); f != nil {
			return f
		}
		m := v.pop()
		d := m.AsDict()
		if d == nil {
			return faultf(ImportError, "cannot import * from '%s' object", m.TypeName())
		}
		d.Range(func(k, val Value) bool {
			if k.IsStr() && !strings.HasPrefix(k.AsStr(), "_") {
				v.storeName(fr, k.AsStr(), val)
			}
			return true
		})

	// --- builders ---

	case OpBuildList, OpBuildTuple:
		if f := v.need(fr, in.Arg); f != nil {
			return f
		}
		items := v.popN(in.Arg)
		if in.Op == OpBuildList {
			v.push(Value{kind: KindList, ref: &List{items: items}})
		} else {
			v.push(Value{kind: KindTuple, ref: &Tuple{items: items}})
		}

	case OpBuildMap:
		if f := v.need(fr, 2*in.Arg); f != nil {
			return f
		}
		kv := v.popN(2 * in.Arg)
		d := newDict()
		for i := 0; i < len(kv); i += 2 {
			d.Set(kv[i], kv[i+1])
		}
		v.push(Value{kind: KindDict, ref: d})

	case OpListAppend:
		if f := v.need(fr, in.Arg+1); f != nil {
			return f
		}
		val := v.pop()
		l := v.stack[len(v.stack)-in.Arg].AsList()
		if l == nil {
			return faultf(TypeError, "LIST_APPEND target is not a list")
		}
		l.Append(val)

	// --- operators ---

	case OpUnaryPositive, OpUnaryNegative, OpUnaryInvert:
		if f := v.need(fr, 1); f != nil {
			return f
		}
		var res Value
		var f *Fault
		switch a := v.pop(); in.Op {
		case OpUnaryPositive:
			res, f = Pos(a)
		case OpUnaryNegative:
			res, f = Neg(a)
		default:
			res, f = Invert(a)
		}
		if f != nil {
			return f
		}
		v.push(res)

	case OpUnaryNot:
		if f := v.need(fr, 1); f != nil {
			return f
		}
		v.push(Bool(!v.pop().Truthy()))

	case OpBinaryAdd, OpBinarySubtract, OpBinaryMultiply, OpBinaryTrueDivide,
		OpBinaryFloorDivide, OpBinaryModulo, OpBinaryPower:
		if f := v.need(fr, 2); f != nil {
			return f
		}
		b := v.pop()
		a := v.pop()
		res, f := binaryOps[in.Op](a, b)
		if f != nil {
			return f
		}
		v.push(res)

	case OpBinarySubscr:
		if f := v.need(fr, 2); f != nil {
			return f
		}
		key := v.pop()
		container := v.pop()
		res, f := GetItem(container, key)
		if f != nil {
			return f
		}
		v.push(res)

	case OpStoreSubscr:
		if f := v.need(fr, 3); f != nil {
			return f
		}
		key := v.pop()
		container := v.pop()
		val := v.pop()
		if f := SetItem(container, key, val); f != nil {
			return f
		}

	case OpCompareOp:
		if f := v.need(fr, 2); f != nil {
			return f
		}
		b := v.pop()
		a := v.pop()
		res, f := compareOp(in.Arg, a, b)
		if f != nil {
			return f
		}
		v.push(Bool(res))

	// --- control flow ---

	case OpJumpAbsolute:
		fr.PC = in.Arg

	case OpPopJumpIfFalse:
		if f := v.need(fr, 1); f != nil {
			return f
		}
		if !v.pop().Truthy() {
			fr.PC = in.Arg
		}

	case OpJumpIfFalseOrPop:
		if f := v.need(fr, 1); f != nil {
			return f
		}
		if !v.top().Truthy() {
			fr.PC = in.Arg
		} else {
			v.pop()
		}

	case OpJumpIfTrueOrPop:
		if f := v.need(fr, 1); f != nil {
			return f
		}
		if v.top().Truthy() {
			fr.PC = in.Arg
		} else {
			v.pop()
		}

	case OpCallFunction:
		if f := v.need(fr, in.Arg+1); f != nil {
			return f
		}
		args := v.popN(in.Arg)
		callee := v.pop()
		return v.call(callee, args)

	case OpGetIter:
		if f := v.need(fr, 1); f != nil {
			return f
		}
		it, f := Iter(v.pop())
		if f != nil {
			return f
		}
		v.push(IteratorValue(it))

	case OpForIter:
		if f := v.need(fr, 1); f != nil {
			return f
		}
		it := v.top().AsIterator()
		if it == nil {
			return faultf(TypeError, "'%s' object is not an iterator", v.top().TypeName())
		}
		next := it.Next()
		if next.IsStop() {
			v.pop()
			fr.PC = in.Arg
		} else {
			v.push(next)
		}

	case OpReturnValue:
		val := None
		if len(v.stack) > fr.base {
			val = v.pop()
		}
		v.popFrame()
		if len(v.frames) == 0 {
			v.result = val
		} else {
			v.push(val)
		}

	// --- host output ---

	case OpPrintItems:
		if f := v.need(fr, in.Arg); f != nil {
			return f
		}
		items := v.popN(in.Arg)
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = it.String()
		}
		fmt.Fprintln(v.stdout, strings.Join(parts, " "))

	case OpPrintExpr:
		if f := v.need(fr, 1); f != nil {
			return f
		}
		val := v.pop()
		if !val.IsNone() {
			fmt.Fprintln(v.stdout, val.Repr())
			v.globals["_"] = val
		}

	default:
		return &FatalError{Op: in.Op}
	}
	return nil
}

// checkArg rejects count arguments below their minimum and jump targets
// outside the frame's code. Such instructions only come from damaged images
// and halt the VM like an unknown opcode.
func checkArg(fr *Frame, in Instruction) error {
	minArg := 0
	switch in.Op {
	case OpListAppend:
		minArg = 1
	case OpBuildList, OpBuildTuple, OpBuildMap, OpCallFunction, OpPrintItems:
	default:
		if !in.Op.IsJump() {
			return nil
		}
		if in.Arg < 0 || in.Arg > len(fr.code) {
			return &FatalError{Op: in.Op, Reason: fmt.Sprintf("jump target %d outside 0..%d", in.Arg, len(fr.code))}
		}
		return nil
	}
	if in.Arg < minArg {
		return &FatalError{Op: in.Op, Reason: fmt.Sprintf("argument %d below %d", in.Arg, minArg)}
	}
	return nil
}

var binaryOps = map[Opcode]func(a, b Value) (Value, *Fault){
	OpBinaryAdd:         Add,
	OpBinarySubtract:    Sub,
	OpBinaryMultiply:    Mul,
	OpBinaryTrueDivide:  TrueDiv,
	OpBinaryFloorDivide: FloorDiv,
	OpBinaryModulo:      Mod,
	OpBinaryPower:       Pow,
}

func compareOp(kind int, a, b Value) (bool, *Fault) {
	switch kind {
	case CmpEq:
		return Equal(a, b), nil
	case CmpNe:
		return !Equal(a, b), nil
	case CmpLt:
		return Compare(a, b) < 0, nil
	case CmpLe:
		return Compare(a, b) <= 0, nil
	case CmpGt:
		return Compare(a, b) > 0, nil
	case CmpGe:
		return Compare(a, b) >= 0, nil
	case CmpIn:
		return Contains(b, a)
	case CmpNotIn:
		ok, f := Contains(b, a)
		return !ok, f
	}
	return false, faultf(TypeError, "unknown comparison %d", kind)
}

// ---------------------------------------------------------------------------
// Attributes
// ---------------------------------------------------------------------------

// getAttr resolves obj.name. Dict items win over dict methods; unknown
// attributes read as None.
func (v *VM) getAttr(obj Value, name string) Value {
	if val, ok := lookupMember(obj, name); ok {
		return val
	}
	if m, ok := methodFor(obj.kind, name); ok {
		return NewBoundMethod(m, obj)
	}
	return None
}

func lookupMember(obj Value, name string) (Value, bool) {
	switch obj.kind {
	case KindDict:
		return obj.AsDict().GetStr(name)
	case KindUserData:
		return obj.AsUserData().GetAttr(name)
	}
	return None, false
}

func setAttr(obj Value, name string, val Value) *Fault {
	switch obj.kind {
	case KindDict:
		obj.AsDict().SetStr(name, val)
		return nil
	case KindUserData:
		if s, ok := obj.AsUserData().(AttrSetter); ok && s.SetAttr(name, val) {
			return nil
		}
	}
	return faultf(TypeError, "'%s' object attribute '%s' is read-only", obj.TypeName(), name)
}
