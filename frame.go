package userprog

// Frame is the register state of a user thread that trapped into the kernel.
// The gateway only reads user memory through it and writes the result
// register.
type Frame interface {
	StackPointer() uint64
	MemRead(addr uint64, p []byte) error
	MemWrite(addr uint64, p []byte) error
	SetResult(v uint64)
}
