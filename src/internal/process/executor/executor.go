package executor

import (
	"context"
	"os/exec"
)

// Executor abstracts process invocation so tests can substitute the
// separation engine with a fake.
type Executor interface {
	CommandContext(ctx context.Context, name string, args ...string) Command
}

type Command interface {
	SetDir(dir string)
	CombinedOutput() ([]byte, error)
}

var _ Executor = BinaryFileExecutor{}

// BinaryFileExecutor runs real binaries on the host.
type BinaryFileExecutor struct{}

func (e BinaryFileExecutor) CommandContext(ctx context.Context, name string, args ...string) Command {
	return &binaryFileCommand{
		cmd: exec.CommandContext(ctx, name, args...),
	}
}

type binaryFileCommand struct {
	cmd *exec.Cmd
}

func (b *binaryFileCommand) SetDir(dir string) {
	b.cmd.Dir = dir
}

func (b *binaryFileCommand) CombinedOutput() ([]byte, error) {
	return b.cmd.CombinedOutput()
}
