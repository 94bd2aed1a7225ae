package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/musicviz/stem-split-be/src/internal/process/executor"
	"github.com/musicviz/stem-split-be/src/lib/cerr"
	"github.com/musicviz/stem-split-be/src/lib/working_dir"
)

// Hard wall clock limit on one engine invocation.
const ProcessTimeout = 600 * time.Second

const DefaultModel = "htdemucs_ft"

// The four canonical stems the engine can produce. Engines may omit
// some of them - only the ones actually written are reported.
var StemNames = []string{"drums", "bass", "vocals", "other"}

// ErrTimeout marks failures caused by the engine exceeding its wall
// clock budget, so callers can report them distinctly.
var ErrTimeout = errors.New("processing timeout")

// ProgressFunc receives coarse grained milestones so a polling client
// observes forward motion during a long separation.
type ProgressFunc func(progress float64)

// Separator supervises the external separation engine: it invokes the
// engine as a child process against an acquired input file, enforces
// the timeout, relocates the produced stem files into the job's flat
// output directory, and purges intermediate artifacts.
type Separator struct {
	demucsBinPath string
	model         string
	workingDir    working_dir.WorkingDir
	executor      executor.Executor
}

func NewSeparator(demucsBinPath string, model string, workingDir working_dir.WorkingDir, cmdExecutor executor.Executor) Separator {
	if model == "" {
		model = DefaultModel
	}

	return Separator{
		demucsBinPath: demucsBinPath,
		model:         model,
		workingDir:    workingDir,
		executor:      cmdExecutor,
	}
}

// Separate runs the engine on inputPath and returns the names of the
// stems it produced. On success the input file is deleted and the
// job's output directory holds one wav per produced stem, directly.
func (s Separator) Separate(ctx context.Context, jobID string, inputPath string, progress ProgressFunc) ([]string, error) {
	if progress == nil {
		progress = func(float64) {}
	}

	progress(0.1)

	errctx := cerr.Field("job_id", jobID).Field("input_path", inputPath)

	outputDir := s.workingDir.JobOutputDir(jobID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errctx.Field("output_dir", outputDir).
			Wrap(err).Error("Failed to create the job output directory")
	}

	// separation is a lengthy process, if we want to halt now is the time
	if ctx.Err() != nil {
		return nil, errctx.Wrap(ctx.Err()).Error("Context cancelled before separation could happen")
	}

	progress(0.2)

	if err := s.runEngine(ctx, inputPath, outputDir); err != nil {
		return nil, err
	}

	progress(0.9)

	produced, err := s.relocateStems(inputPath, outputDir)
	if err != nil {
		return nil, errctx.Wrap(err).Error("Failed to relocate the produced stems")
	}

	s.cleanup(inputPath, outputDir)

	return produced, nil
}

func (s Separator) runEngine(ctx context.Context, inputPath string, outputDir string) error {
	logger := log.WithFields(log.Fields{
		"input_path": inputPath,
		"output_dir": outputDir,
		"model":      s.model,
	})

	logger.Info("Running separation engine")

	runCtx, cancelRun := context.WithTimeout(ctx, ProcessTimeout)
	defer cancelRun()

	args := []string{"-n", s.model, "-o", outputDir, inputPath}

	errctx := cerr.Field("demucs_bin_path", s.demucsBinPath).Field("demucs_args", args)

	cmd := s.executor.CommandContext(runCtx, s.demucsBinPath, args...)
	cmd.SetDir(s.workingDir.Root())

	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return errors.Mark(
				errctx.Wrap(err).Error("Separation engine exceeded its wall clock budget"),
				ErrTimeout)
		}

		return errctx.Field("demucs_output", string(output)).
			Wrap(err).
			Error(fmt.Sprintf("Error occurred while running the separation engine: %s", string(output)))
	}

	logger.Debug(string(output))
	logger.Info("Finished separation engine")

	return nil
}

// The engine writes into <outputDir>/<model>/<input base name>/. Move
// each recognized stem up into the flat job output directory.
func (s Separator) relocateStems(inputPath string, outputDir string) ([]string, error) {
	inputBase := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	engineOutputDir := filepath.Join(outputDir, s.model, inputBase)

	produced := []string{}
	for _, stem := range StemNames {
		src := filepath.Join(engineOutputDir, stem+".wav")
		dst := filepath.Join(outputDir, stem+".wav")

		if _, err := os.Stat(src); err != nil {
			continue
		}

		if err := os.Rename(src, dst); err != nil {
			return nil, cerr.Field("src", src).Field("dst", dst).
				Wrap(err).Error("Failed to move stem file into place")
		}

		produced = append(produced, stem)
	}

	if len(produced) == 0 {
		return nil, cerr.Field("engine_output_dir", engineOutputDir).
			Error("The engine produced no recognizable stem files")
	}

	return produced, nil
}

func (s Separator) cleanup(inputPath string, outputDir string) {
	engineDir := filepath.Join(outputDir, s.model)
	if err := os.RemoveAll(engineDir); err != nil {
		log.WithError(err).Warn("Failed to remove the engine scratch directory")
	}

	if err := os.Remove(inputPath); err != nil {
		log.WithError(err).Warn("Failed to remove the input file")
	}
}
