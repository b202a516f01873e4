package vm

import (
	"math"
	"time"

	"gitlab.com/variadico/lctime"
)

// ---------------------------------------------------------------------------
// time
// ---------------------------------------------------------------------------

var processStart = time.Now()

func timeModule() *Dict {
	d := newModule("time")
	def(d, "time", func(*VM, []Value) Value {
		return Float(float64(time.Now().UnixNano()) / 1e9)
	})
	def(d, "perf_counter", func(*VM, []Value) Value {
		return Float(time.Since(processStart).Seconds())
	})
	def(d, "sleep", func(v *VM, args []Value) Value {
		if len(args) != 1 || numRank(args[0]) == 0 || args[0].IsComplex() {
			return v.raise(TypeError, "sleep() takes one real number")
		}
		secs := args[0].AsFloat()
		if secs < 0 {
			return v.raise(ValueError, "sleep length must be non-negative")
		}
		time.Sleep(time.Duration(secs * float64(time.Second)))
		return None
	})
	def(d, "ctime", func(_ *VM, args []Value) Value {
		return Str(timeArg(args, 0, time.Local).Format("Mon Jan _2 15:04:05 2006"))
	})
	def(d, "gmtime", func(_ *VM, args []Value) Value {
		return structTime(timeArg(args, 0, time.UTC))
	})
	def(d, "localtime", func(_ *VM, args []Value) Value {
		return structTime(timeArg(args, 0, time.Local))
	})
	def(d, "strftime", func(v *VM, args []Value) Value {
		if len(args) == 0 || !args[0].IsStr() {
			return v.raise(TypeError, "strftime() argument 1 must be str")
		}
		t := time.Now()
		if len(args) > 1 {
			parsed, ok := fromStructTime(args[1])
			if !ok {
				return v.raise(TypeError, "strftime() argument 2 must be a time tuple")
			}
			t = parsed
		}
		return Str(lctime.Strftime(args[0].AsStr(), t))
	})
	return d
}

// timeArg reads an optional seconds-since-epoch argument.
func timeArg(args []Value, i int, loc *time.Location) time.Time {
	if i >= len(args) || args[i].IsNone() || numRank(args[i]) == 0 {
		return time.Now().In(loc)
	}
	secs := args[i].AsFloat()
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).In(loc)
}

// structTime renders t as the nine-field time tuple
// (year, month, mday, hour, min, sec, wday, yday, isdst).
func structTime(t time.Time) Value {
	isdst := int64(0)
	if t.IsDST() {
		isdst = 1
	}
	wday := (int64(t.Weekday()) + 6) % 7
	return NewTuple(
		Int(int64(t.Year())), Int(int64(t.Month())), Int(int64(t.Day())),
		Int(int64(t.Hour())), Int(int64(t.Minute())), Int(int64(t.Second())),
		Int(wday), Int(int64(t.YearDay())), Int(isdst),
	)
}

func fromStructTime(v Value) (time.Time, bool) {
	items := v.Items()
	if len(items) < 6 {
		return time.Time{}, false
	}
	f := func(i int) int { return int(items[i].AsInt()) }
	return time.Date(f(0), time.Month(f(1)), f(2), f(3), f(4), f(5), 0, time.Local), true
}
