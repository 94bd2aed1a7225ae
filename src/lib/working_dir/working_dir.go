package working_dir

import (
	"os"
	"path/filepath"

	"github.com/musicviz/stem-split-be/src/lib/cerr"
)

// WorkingDir is the on-disk root for one server instance:
// uploads/ holds per-job scratch input files, output/ holds
// one directory of stem files per job.
type WorkingDir struct {
	root string
}

func NewWorkingDir(dirStr string) (WorkingDir, error) {
	absDir, err := filepath.Abs(dirStr)
	if err != nil {
		return WorkingDir{}, cerr.Field("dir", dirStr).
			Wrap(err).Error("Failed to convert working dir to absolute format")
	}

	workingDir := WorkingDir{root: absDir}

	for _, dir := range []string{workingDir.UploadsDir(), workingDir.OutputDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return WorkingDir{}, cerr.Field("dir", dir).
				Wrap(err).Error("Failed to create working subdirectory")
		}
	}

	return workingDir, nil
}

func (w WorkingDir) Root() string {
	return w.root
}

func (w WorkingDir) UploadsDir() string {
	return filepath.Join(w.root, "uploads")
}

func (w WorkingDir) OutputDir() string {
	return filepath.Join(w.root, "output")
}

// InputPath is the scratch location for a job's acquired audio.
func (w WorkingDir) InputPath(jobID string, extension string) string {
	return filepath.Join(w.UploadsDir(), jobID+extension)
}

// JobOutputDir is the directory the job's stem files end up in,
// served statically under /stems/{job_id}/.
func (w WorkingDir) JobOutputDir(jobID string) string {
	return filepath.Join(w.OutputDir(), jobID)
}
