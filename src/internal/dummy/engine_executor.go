package dummy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/musicviz/stem-split-be/src/internal/process/executor"
)

var _ executor.Executor = &EngineExecutor{}

func NewEngineExecutor(stems []string) *EngineExecutor {
	return &EngineExecutor{
		Stems: stems,
	}
}

// EngineExecutor stands in for the real separation engine binary. It
// fabricates the engine's on-disk output shape - one wav per stem in
// a nested model/input subdirectory - or misbehaves on demand.
type EngineExecutor struct {
	// Stems to write into the fake engine output.
	Stems []string
	// Hang blocks the "process" until its context expires,
	// simulating an engine that blows the wall clock budget.
	Hang bool
	// ExitError makes the run fail with Diagnostic as its output.
	ExitError  bool
	Diagnostic string

	mutex     sync.Mutex
	callCount int
}

func (e *EngineExecutor) CallCount() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.callCount
}

func (e *EngineExecutor) CommandContext(ctx context.Context, name string, args ...string) executor.Command {
	return &engineCommand{
		parent: e,
		ctx:    ctx,
		args:   args,
	}
}

type engineCommand struct {
	parent *EngineExecutor
	ctx    context.Context
	args   []string
}

func (c *engineCommand) SetDir(dir string) {}

func (c *engineCommand) CombinedOutput() ([]byte, error) {
	c.parent.mutex.Lock()
	c.parent.callCount++
	c.parent.mutex.Unlock()

	if c.parent.Hang {
		<-c.ctx.Done()
		return nil, errors.New("signal: killed")
	}

	if c.parent.ExitError {
		return []byte(c.parent.Diagnostic), errors.New("exit status 1")
	}

	model, outputDir, inputPath, err := c.parseArgs()
	if err != nil {
		return nil, err
	}

	inputBase := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	engineOutputDir := filepath.Join(outputDir, model, inputBase)

	if err := os.MkdirAll(engineOutputDir, 0755); err != nil {
		return nil, err
	}

	for _, stem := range c.parent.Stems {
		stemPath := filepath.Join(engineOutputDir, stem+".wav")
		if err := os.WriteFile(stemPath, []byte("separated "+stem), 0644); err != nil {
			return nil, err
		}
	}

	return []byte("separation done"), nil
}

// args follow the engine's fixed contract: -n <model> -o <outputDir> <inputPath>
func (c *engineCommand) parseArgs() (model string, outputDir string, inputPath string, err error) {
	for i := 0; i < len(c.args); i++ {
		switch c.args[i] {
		case "-n":
			if i+1 < len(c.args) {
				model = c.args[i+1]
				i++
			}
		case "-o":
			if i+1 < len(c.args) {
				outputDir = c.args[i+1]
				i++
			}
		default:
			inputPath = c.args[i]
		}
	}

	if model == "" || outputDir == "" || inputPath == "" {
		return "", "", "", errors.New("engine invoked with an unexpected argument shape")
	}

	return model, outputDir, inputPath, nil
}
