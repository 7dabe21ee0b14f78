package kernel

import (
	"errors"
	"unsafe"

	userprog "github.com/wnxd/microdbg-userprog"
	"github.com/wnxd/microdbg/debugger"
	"github.com/wnxd/microdbg/emulator"
	emu_arm "github.com/wnxd/microdbg/emulator/arm"
	emu_arm64 "github.com/wnxd/microdbg/emulator/arm64"
)

// Trap binds the SWI interrupt of an emulated ARM or ARM64 program to the
// gateway. The program pushes its arguments and then the syscall number on
// its stack before executing svc #0; the result comes back in r0/x0.
type Trap struct {
	k        *Kernel
	proc     *Process
	intrHook debugger.HookHandler
	done     chan Outcome
}

// Attach routes the traps of dbg's program to k as process p.
func (k *Kernel) Attach(dbg debugger.Debugger, p *Process) (*Trap, error) {
	t := &Trap{k: k, proc: p, done: make(chan Outcome, 1)}
	var handleIntr debugger.InterruptCallback
	switch dbg.Emulator().Arch() {
	case emulator.ARCH_ARM:
		if k.cfg.WordSize != 4 {
			return nil, errors.New("kernel: arm traps need word_size 4")
		}
		handleIntr = t.armIntr
	case emulator.ARCH_ARM64:
		if k.cfg.WordSize != 8 {
			return nil, errors.New("kernel: arm64 traps need word_size 8")
		}
		handleIntr = t.arm64Intr
	default:
		return nil, errors.ErrUnsupported
	}
	hook, err := dbg.AddHook(emulator.HOOK_TYPE_INTR, handleIntr, nil, 1, 0)
	if err != nil {
		return nil, err
	}
	t.intrHook = hook
	return t, nil
}

// Done is signalled once the program's process exits or halts the machine.
// The owner of the emulator is expected to stop it then.
func (t *Trap) Done() <-chan Outcome {
	return t.done
}

func (t *Trap) Close() error {
	t.intrHook.Close()
	return nil
}

// emuFrame is a trapped emulator thread.
type emuFrame struct {
	ctx    debugger.Context
	sp     uint64
	result func(uint64)
}

func (f *emuFrame) StackPointer() uint64 {
	return f.sp
}

func (f *emuFrame) MemRead(addr uint64, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	return f.ctx.ToPointer(addr).MemReadPtr(uint64(len(p)), unsafe.Pointer(&p[0]))
}

func (f *emuFrame) MemWrite(addr uint64, p []byte) error {
	_, err := f.ctx.ToPointer(addr).WriteAt(p, 0)
	return err
}

func (f *emuFrame) SetResult(v uint64) {
	f.result(v)
}

// dispatch hands a trapped frame to the kernel. The first non-resume
// outcome is reported on Done.
func (t *Trap) dispatch(frame userprog.Frame) debugger.HookResult {
	if outcome := t.k.Handle(frame, t.proc); outcome != Resume {
		select {
		case t.done <- outcome:
		default:
		}
	}
	return debugger.HookResult_Done
}

// armSWI returns the immediate of the svc instruction that just trapped,
// in either ARM or Thumb state.
func armSWI(ctx debugger.Context) (uint32, error) {
	const CPSR_T = 1 << 5

	pc_cpsr, err := ctx.RegReadBatch(emu_arm.ARM_REG_PC, emu_arm.ARM_REG_CPSR)
	if err != nil {
		return 0, err
	}
	if pc_cpsr[1]&CPSR_T != 0 {
		var code uint16
		err = ctx.ToPointer(pc_cpsr[0]-2).MemReadPtr(2, unsafe.Pointer(&code))
		return uint32(code & 0xff), err
	}
	var code uint32
	err = ctx.ToPointer(pc_cpsr[0]-4).MemReadPtr(4, unsafe.Pointer(&code))
	return code & 0xffffff, err
}

func arm64SWI(ctx debugger.Context) (uint32, error) {
	pc, err := ctx.RegRead(emu_arm64.ARM64_REG_PC)
	if err != nil {
		return 0, err
	}
	var code uint32
	err = ctx.ToPointer(pc-4).MemReadPtr(4, unsafe.Pointer(&code))
	return (code >> 5) & 0xffff, err
}

// Only svc #0 is a gateway call. Other immediates and other exceptions
// are left to the next hook.
func (t *Trap) armIntr(ctx debugger.Context, intno uint64, data any) debugger.HookResult {
	if intno != emu_arm.ARM_INTR_EXCP_SWI {
		return debugger.HookResult_Next
	}
	if swi, err := armSWI(ctx); err != nil || swi != 0 {
		return debugger.HookResult_Next
	}
	sp, err := ctx.RegRead(emu_arm.ARM_REG_SP)
	if err != nil {
		return debugger.HookResult_Next
	}
	return t.dispatch(&emuFrame{
		ctx: ctx,
		sp:  sp,
		result: func(v uint64) {
			ctx.RegWrite(emu_arm.ARM_REG_R0, uint64(uint32(v)))
		},
	})
}

func (t *Trap) arm64Intr(ctx debugger.Context, intno uint64, data any) debugger.HookResult {
	if intno != emu_arm.ARM_INTR_EXCP_SWI {
		return debugger.HookResult_Next
	}
	if swi, err := arm64SWI(ctx); err != nil || swi != 0 {
		return debugger.HookResult_Next
	}
	sp, err := ctx.RegRead(emu_arm64.ARM64_REG_SP)
	if err != nil {
		return debugger.HookResult_Next
	}
	return t.dispatch(&emuFrame{
		ctx: ctx,
		sp:  sp,
		result: func(v uint64) {
			ctx.RegWrite(emu_arm64.ARM64_REG_X0, v)
		},
	})
}
