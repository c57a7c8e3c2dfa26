//go:build integration

package integration

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/simrun/simrun/internal/usecase"
)

var _ = Describe("Failure Ring", func() {
	var (
		tmpDir     string
		quarantine *usecase.Quarantine
	)

	newRun := func(name string, age time.Duration) string {
		dir := filepath.Join(tmpDir, "runs", name)
		Expect(os.MkdirAll(dir, 0755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "build.log"), []byte("log for "+name), 0644)).To(Succeed())
		stamp := time.Now().Add(-age)
		Expect(os.Chtimes(dir, stamp, stamp)).To(Succeed())
		return dir
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "simrun-integration-*")
		Expect(err).NotTo(HaveOccurred())

		quarantine = usecase.NewQuarantine(tmpDir, 3, zap.NewNop())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("Keep", func() {
		Context("when a run fails", func() {
			It("should move the run dir into failures with its log intact", func() {
				runDir := newRun("run-a", 0)

				dest := quarantine.Keep(runDir)
				Expect(dest).To(Equal(filepath.Join(tmpDir, "failures", "run-a")))

				body, err := os.ReadFile(filepath.Join(dest, "build.log"))
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(Equal("log for run-a"))

				_, err = os.Stat(runDir)
				Expect(os.IsNotExist(err)).To(BeTrue())
			})
		})

		Context("when failures accumulate past the retention limit", func() {
			It("should keep only the newest entries", func() {
				for i := 0; i < 5; i++ {
					dir := newRun(fmt.Sprintf("run-%d", i), time.Duration(5-i)*time.Minute)
					quarantine.Keep(dir)
				}

				entries, err := os.ReadDir(filepath.Join(tmpDir, "failures"))
				Expect(err).NotTo(HaveOccurred())

				var names []string
				for _, e := range entries {
					names = append(names, e.Name())
				}
				Expect(names).To(ConsistOf("run-2", "run-3", "run-4"))
			})
		})
	})

	Describe("Prune", func() {
		Context("when the failures dir does not exist yet", func() {
			It("should succeed without creating anything", func() {
				Expect(quarantine.Prune()).To(Succeed())

				_, err := os.Stat(filepath.Join(tmpDir, "failures"))
				Expect(os.IsNotExist(err)).To(BeTrue())
			})
		})
	})
})
