package kernel

type misc struct {
}

func (m *misc) halt(ctx *Context) {
	ctx.proc.log.Info("halt")
	ctx.outcome = Halted
	ctx.k.halt()
	ctx.k.dev.Power.PowerOff()
}

// fibonacci returns the nth Fibonacci number counting fib(1) = fib(2) = 1.
// The arithmetic wraps like the 32-bit register it is returned in.
func fibonacci(n int32) int32 {
	if n < 1 {
		return 0
	}
	a, b := int32(1), int32(1)
	for i := int32(2); i < n; i++ {
		a, b = b, a+b
	}
	return b
}

func maxOfFourInt(a, b, c, d int32) int32 {
	return max(a, b, c, d)
}
