package vm

import (
	"math"
)

// ---------------------------------------------------------------------------
// math
// ---------------------------------------------------------------------------

var mathUnary = map[string]func(float64) float64{
	"sqrt":    math.Sqrt,
	"cbrt":    math.Cbrt,
	"exp":     math.Exp,
	"exp2":    math.Exp2,
	"expm1":   math.Expm1,
	"log2":    math.Log2,
	"log10":   math.Log10,
	"log1p":   math.Log1p,
	"sin":     math.Sin,
	"cos":     math.Cos,
	"tan":     math.Tan,
	"asin":    math.Asin,
	"acos":    math.Acos,
	"atan":    math.Atan,
	"sinh":    math.Sinh,
	"cosh":    math.Cosh,
	"tanh":    math.Tanh,
	"asinh":   math.Asinh,
	"acosh":   math.Acosh,
	"atanh":   math.Atanh,
	"fabs":    math.Abs,
	"erf":     math.Erf,
	"erfc":    math.Erfc,
	"gamma":   math.Gamma,
	"lgamma":  func(x float64) float64 { r, _ := math.Lgamma(x); return r },
	"radians": func(x float64) float64 { return x * math.Pi / 180 },
	"degrees": func(x float64) float64 { return x * 180 / math.Pi },
	"ulp": func(x float64) float64 {
		x = math.Abs(x)
		return math.Nextafter(x, math.Inf(1)) - x
	},
}

var mathBinary = map[string]func(x, y float64) float64{
	"pow":       math.Pow,
	"atan2":     math.Atan2,
	"fmod":      math.Mod,
	"remainder": math.Remainder,
	"copysign":  math.Copysign,
	"nextafter": math.Nextafter,
}

func mathModule() *Dict {
	d := newModule("math")
	for name, fn := range mathUnary {
		def(d, name, floatFunc(name, 1, func(x []float64) float64 { return fn(x[0]) }))
	}
	for name, fn := range mathBinary {
		def(d, name, floatFunc(name, 2, func(x []float64) float64 { return fn(x[0], x[1]) }))
	}
	def(d, "log", func(v *VM, args []Value) Value {
		xs, ok := floats(v, "log", args, 1)
		if !ok {
			return None
		}
		r := math.Log(xs[0])
		if len(xs) > 1 {
			r /= math.Log(xs[1])
		}
		return checkFloat(v, xs[0], r)
	})
	def(d, "ldexp", func(v *VM, args []Value) Value {
		xs, ok := floats(v, "ldexp", args, 2)
		if !ok {
			return None
		}
		return Float(math.Ldexp(xs[0], int(xs[1])))
	})
	def(d, "hypot", func(v *VM, args []Value) Value {
		xs, ok := floats(v, "hypot", args, 0)
		if !ok {
			return None
		}
		var sum float64
		for _, x := range xs {
			sum += x * x
		}
		return Float(math.Sqrt(sum))
	})

	rounding := map[string]func(float64) float64{"ceil": math.Ceil, "floor": math.Floor, "trunc": math.Trunc}
	for name, fn := range rounding {
		def(d, name, func(v *VM, args []Value) Value {
			if len(args) == 1 && numRank(args[0]) == 1 {
				return Int(args[0].AsInt())
			}
			xs, ok := floats(v, name, args, 1)
			if !ok {
				return None
			}
			if math.IsInf(xs[0], 0) || math.IsNaN(xs[0]) {
				return v.raise(ValueError, "cannot convert float %s to integer", formatFloat(xs[0]))
			}
			return Int(int64(fn(xs[0])))
		})
	}

	preds := map[string]func(float64) bool{
		"isinf":    func(x float64) bool { return math.IsInf(x, 0) },
		"isnan":    math.IsNaN,
		"isfinite": func(x float64) bool { return !math.IsInf(x, 0) && !math.IsNaN(x) },
	}
	for name, fn := range preds {
		def(d, name, func(v *VM, args []Value) Value {
			xs, ok := floats(v, name, args, 1)
			return Bool(ok && fn(xs[0]))
		})
	}

	def(d, "isclose", func(v *VM, args []Value) Value {
		xs, ok := floats(v, "isclose", args, 2)
		if !ok {
			return None
		}
		rel, abs := 1e-9, 0.0
		if len(xs) > 2 {
			rel = xs[2]
		}
		if len(xs) > 3 {
			abs = xs[3]
		}
		a, b := xs[0], xs[1]
		if a == b {
			return True
		}
		diff := math.Abs(a - b)
		return Bool(diff <= math.Max(rel*math.Max(math.Abs(a), math.Abs(b)), abs))
	})
	def(d, "frexp", func(v *VM, args []Value) Value {
		xs, ok := floats(v, "frexp", args, 1)
		if !ok {
			return None
		}
		m, e := math.Frexp(xs[0])
		return NewTuple(Float(m), Int(int64(e)))
	})
	def(d, "modf", func(v *VM, args []Value) Value {
		xs, ok := floats(v, "modf", args, 1)
		if !ok {
			return None
		}
		ip, frac := math.Modf(xs[0])
		return NewTuple(Float(frac), Float(ip))
	})

	def(d, "isqrt", intFunc("isqrt", 1, func(v *VM, n []int64) Value {
		if n[0] < 0 {
			return v.raise(ValueError, "isqrt() argument must be nonnegative")
		}
		r := int64(math.Sqrt(float64(n[0])))
		for r*r > n[0] {
			r--
		}
		for (r+1)*(r+1) <= n[0] {
			r++
		}
		return Int(r)
	}))
	def(d, "gcd", intFunc("gcd", 0, func(_ *VM, n []int64) Value {
		var g int64
		for _, x := range n {
			g = gcd(g, x)
		}
		return Int(g)
	}))
	def(d, "lcm", intFunc("lcm", 0, func(_ *VM, n []int64) Value {
		l := int64(1)
		for _, x := range n {
			if x == 0 {
				return Int(0)
			}
			l = absInt(l / gcd(l, x) * x)
		}
		return Int(l)
	}))
	def(d, "factorial", intFunc("factorial", 1, func(v *VM, n []int64) Value {
		if n[0] < 0 {
			return v.raise(ValueError, "factorial() not defined for negative values")
		}
		r := int64(1)
		for i := int64(2); i <= n[0]; i++ {
			r *= i
		}
		return Int(r)
	}))
	def(d, "perm", intFunc("perm", 1, func(v *VM, n []int64) Value {
		k := n[0]
		if len(n) > 1 {
			k = n[1]
		}
		if n[0] < 0 || k < 0 {
			return v.raise(ValueError, "n and k must be non-negative integers")
		}
		if k > n[0] {
			return Int(0)
		}
		r := int64(1)
		for i := n[0] - k + 1; i <= n[0]; i++ {
			r *= i
		}
		return Int(r)
	}))
	def(d, "comb", intFunc("comb", 2, func(v *VM, n []int64) Value {
		if n[0] < 0 || n[1] < 0 {
			return v.raise(ValueError, "n and k must be non-negative integers")
		}
		if n[1] > n[0] {
			return Int(0)
		}
		k := min(n[1], n[0]-n[1])
		r := int64(1)
		for i := int64(1); i <= k; i++ {
			r = r * (n[0] - k + i) / i
		}
		return Int(r)
	}))

	def(d, "fsum", func(v *VM, args []Value) Value {
		xs, ok := iterFloats(v, args)
		if !ok {
			return None
		}
		// Neumaier summation.
		var sum, c float64
		for _, x := range xs {
			t := sum + x
			if math.Abs(sum) >= math.Abs(x) {
				c += (sum - t) + x
			} else {
				c += (x - t) + sum
			}
			sum = t
		}
		return Float(sum + c)
	})
	def(d, "prod", func(v *VM, args []Value) Value {
		if len(args) == 0 {
			return v.raise(TypeError, "prod() takes at least 1 positional argument (0 given)")
		}
		items, f := Collect(args[0])
		if f != nil {
			return v.raise(f.Kind, "%s", f.Msg)
		}
		acc := Int(1)
		if len(args) > 1 {
			acc = args[1]
		}
		for _, it := range items {
			if acc, f = Mul(acc, it); f != nil {
				return v.raise(f.Kind, "%s", f.Msg)
			}
		}
		return acc
	})
	def(d, "sumprod", func(v *VM, args []Value) Value {
		p, q, ok := pairedFloats(v, "sumprod", args)
		if !ok {
			return None
		}
		var sum float64
		for i := range p {
			sum += p[i] * q[i]
		}
		return Float(sum)
	})
	def(d, "dist", func(v *VM, args []Value) Value {
		p, q, ok := pairedFloats(v, "dist", args)
		if !ok {
			return None
		}
		var sum float64
		for i := range p {
			sum += (p[i] - q[i]) * (p[i] - q[i])
		}
		return Float(math.Sqrt(sum))
	})

	d.SetStr("pi", Float(math.Pi))
	d.SetStr("e", Float(math.E))
	d.SetStr("tau", Float(2*math.Pi))
	d.SetStr("inf", Float(math.Inf(1)))
	d.SetStr("nan", Float(math.NaN()))
	return d
}

// floats converts args to float64, requiring at least n of them.
func floats(v *VM, name string, args []Value, n int) ([]float64, bool) {
	if len(args) < n {
		v.raise(TypeError, "%s() expected %d arguments, got %d", name, n, len(args))
		return nil, false
	}
	out := make([]float64, len(args))
	for i, a := range args {
		if numRank(a) == 0 || a.IsComplex() {
			v.raise(TypeError, "must be real number, not %s", a.TypeName())
			return nil, false
		}
		out[i] = a.AsFloat()
	}
	return out, true
}

func iterFloats(v *VM, args []Value) ([]float64, bool) {
	if len(args) == 0 {
		v.raise(TypeError, "expected an iterable")
		return nil, false
	}
	items, f := Collect(args[0])
	if f != nil {
		v.raise(f.Kind, "%s", f.Msg)
		return nil, false
	}
	return floats(v, "fsum", items, 0)
}

func pairedFloats(v *VM, name string, args []Value) ([]float64, []float64, bool) {
	if len(args) != 2 {
		v.raise(TypeError, "%s() expected 2 arguments, got %d", name, len(args))
		return nil, nil, false
	}
	p, ok1 := iterFloats(v, args[:1])
	q, ok2 := iterFloats(v, args[1:])
	if !ok1 || !ok2 {
		return nil, nil, false
	}
	if len(p) != len(q) {
		v.raise(ValueError, "Inputs are not the same length")
		return nil, nil, false
	}
	return p, q, true
}

// floatFunc wraps a float computation, mapping NaN from finite inputs to a
// domain error and overflow to a range error.
func floatFunc(name string, n int, fn func([]float64) float64) func(*VM, []Value) Value {
	return func(v *VM, args []Value) Value {
		xs, ok := floats(v, name, args, n)
		if !ok {
			return None
		}
		return checkFloat(v, xs[0], fn(xs))
	}
}

func checkFloat(v *VM, in, out float64) Value {
	switch {
	case math.IsNaN(out) && !math.IsNaN(in):
		return v.raise(ValueError, "math domain error")
	case math.IsInf(out, 0) && !math.IsInf(in, 0):
		return v.raise(ValueError, "math range error")
	}
	return Float(out)
}

func intFunc(name string, n int, fn func(*VM, []int64) Value) func(*VM, []Value) Value {
	return func(v *VM, args []Value) Value {
		if len(args) < n {
			return v.raise(TypeError, "%s() expected %d arguments, got %d", name, n, len(args))
		}
		out := make([]int64, len(args))
		for i, a := range args {
			if numRank(a) != 1 {
				return v.raise(TypeError, "'%s' object cannot be interpreted as an integer", a.TypeName())
			}
			out[i] = a.AsInt()
		}
		return fn(v, out)
	}
}

func gcd(a, b int64) int64 {
	a, b = absInt(a), absInt(b)
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func absInt(a int64) int64 {
	if a < 0 {
		return -a
	}
	return a
}
