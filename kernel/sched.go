package kernel

type sched struct {
}

func (s *sched) exec(ctx *Context, filename emuptr) (Pid, error) {
	cmdline, err := ctx.copyInString(filename)
	if err != nil {
		return -1, err
	}
	pid, err := ctx.k.dev.Procs.Spawn(ctx, cmdline)
	if err != nil {
		ctx.proc.log.WithError(err).Debugf("exec %q", cmdline)
		return -1, nil
	}
	return pid, nil
}

func (s *sched) wait(ctx *Context, pid Pid) int32 {
	status, err := ctx.k.dev.Procs.Wait(ctx, pid)
	if err != nil {
		if ctx.Err() != nil {
			ctx.outcome = Halted
		}
		ctx.proc.log.WithError(err).Debugf("wait %d", pid)
		return -1
	}
	return status
}

func (s *sched) exit(ctx *Context, status int32) {
	ctx.k.exit(ctx, status)
}
