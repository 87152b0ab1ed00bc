package shell

import (
	"context"
	"os/exec"
	"time"
)

// Command like exec.Cmd, but with support:
// - io.Closer interface
// - Wait from multiple places
// - Done channel
type Command struct {
	*exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewCommand splits s with QuoteSplit. The process is killed when parent is
// done or Close is called.
func NewCommand(parent context.Context, s string) *Command {
	ctx, cancel := context.WithCancel(parent)
	args := QuoteSplit(s)
	if len(args) == 0 {
		args = []string{""}
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.SysProcAttr = procAttr
	// children may keep stdout and stderr open after the kill
	cmd.WaitDelay = time.Second
	return &Command{Cmd: cmd, cancel: cancel, done: make(chan struct{})}
}

func (c *Command) Start() error {
	if err := c.Cmd.Start(); err != nil {
		c.cancel()
		return err
	}

	go func() {
		c.err = c.Cmd.Wait()
		close(c.done)
		c.cancel() // release context resources
	}()

	return nil
}

// Wait can be called from many goroutines, but only after Start.
func (c *Command) Wait() error {
	<-c.done
	return c.err
}

func (c *Command) Run() error {
	if err := c.Start(); err != nil {
		return err
	}
	return c.Wait()
}

// Done is closed when the process has exited.
func (c *Command) Done() <-chan struct{} {
	return c.done
}

func (c *Command) Close() error {
	c.cancel()
	return nil
}
