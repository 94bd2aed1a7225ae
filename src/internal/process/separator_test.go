package process_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/musicviz/stem-split-be/src/internal/dummy"
	"github.com/musicviz/stem-split-be/src/internal/process"
	"github.com/musicviz/stem-split-be/src/lib/working_dir"
)

var _ = Describe("Separator", func() {
	var (
		workingDir working_dir.WorkingDir
		engine     *dummy.EngineExecutor
		separator  process.Separator

		jobID     string
		inputPath string
	)

	BeforeEach(func() {
		var err error
		workingDir, err = working_dir.NewWorkingDir(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())

		engine = dummy.NewEngineExecutor([]string{"drums", "bass", "vocals", "other"})
		separator = process.NewSeparator("/somewhere/demucs", "", workingDir, engine)

		jobID = "job-id"
		inputPath = workingDir.InputPath(jobID, ".mp3")
		Expect(os.WriteFile(inputPath, []byte("cool_jamz"), 0644)).To(Succeed())
	})

	Describe("Happy path", func() {
		var (
			stems []string
			err   error
		)

		BeforeEach(func() {
			stems, err = separator.Separate(context.Background(), jobID, inputPath, nil)
		})

		It("doesn't return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("reports all four canonical stems", func() {
			Expect(stems).To(Equal([]string{"drums", "bass", "vocals", "other"}))
		})

		It("relocates the stem files into the flat job output directory", func() {
			for _, stem := range stems {
				stemPath := filepath.Join(workingDir.JobOutputDir(jobID), stem+".wav")
				contents, readErr := os.ReadFile(stemPath)
				Expect(readErr).NotTo(HaveOccurred())
				Expect(contents).To(Equal([]byte("separated " + stem)))
			}
		})

		It("removes the engine's nested output directory", func() {
			engineDir := filepath.Join(workingDir.JobOutputDir(jobID), process.DefaultModel)
			_, statErr := os.Stat(engineDir)
			Expect(os.IsNotExist(statErr)).To(BeTrue())
		})

		It("removes the input file", func() {
			_, statErr := os.Stat(inputPath)
			Expect(os.IsNotExist(statErr)).To(BeTrue())
		})
	})

	Describe("Progress milestones", func() {
		It("reports coarse grained forward motion", func() {
			observed := []float64{}
			progress := func(p float64) {
				observed = append(observed, p)
			}

			_, err := separator.Separate(context.Background(), jobID, inputPath, progress)
			Expect(err).NotTo(HaveOccurred())

			Expect(observed).To(Equal([]float64{0.1, 0.2, 0.9}))
		})
	})

	Describe("Engine omits some stems", func() {
		BeforeEach(func() {
			engine.Stems = []string{"vocals", "other"}
		})

		It("reports only the stems actually produced", func() {
			stems, err := separator.Separate(context.Background(), jobID, inputPath, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(stems).To(Equal([]string{"vocals", "other"}))
		})
	})

	Describe("Engine produces nothing", func() {
		BeforeEach(func() {
			engine.Stems = nil
		})

		It("returns an error", func() {
			_, err := separator.Separate(context.Background(), jobID, inputPath, nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Engine exits non-zero", func() {
		BeforeEach(func() {
			engine.ExitError = true
			engine.Diagnostic = "CUDA out of memory"
		})

		It("fails with the engine's diagnostic output", func() {
			_, err := separator.Separate(context.Background(), jobID, inputPath, nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("CUDA out of memory"))
		})

		It("is not reported as a timeout", func() {
			_, err := separator.Separate(context.Background(), jobID, inputPath, nil)
			Expect(errors.Is(err, process.ErrTimeout)).To(BeFalse())
		})
	})

	Describe("Engine exceeds the wall clock budget", func() {
		BeforeEach(func() {
			engine.Hang = true
		})

		It("fails with the distinct timeout marker", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			_, err := separator.Separate(ctx, jobID, inputPath, nil)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, process.ErrTimeout)).To(BeTrue())
		})
	})

	Describe("Cancelled before the engine starts", func() {
		It("never invokes the engine", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := separator.Separate(ctx, jobID, inputPath, nil)
			Expect(err).To(HaveOccurred())
			Expect(engine.CallCount()).To(BeZero())
		})
	})
})
