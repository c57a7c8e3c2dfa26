//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/simrun/simrun/internal/domain"
	"github.com/simrun/simrun/internal/infra"
)

var _ = Describe("Container Discovery", func() {
	var (
		tmpDir string
		finder domain.ContainerFinder
	)

	mkdirs := func(rel ...string) {
		for _, r := range rel {
			Expect(os.MkdirAll(filepath.Join(tmpDir, r), 0755)).To(Succeed())
		}
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "simrun-integration-*")
		Expect(err).NotTo(HaveOccurred())

		finder = infra.NewFinder(10*time.Minute, zap.NewNop())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("Find", func() {
		Context("in a typical checkout with pods and build output", func() {
			It("should pick the workspace and skip the dependency dirs", func() {
				mkdirs(
					"MyApp/MyApp.xcworkspace",
					"MyApp/MyApp.xcodeproj",
					"MyApp/Pods/Pods.xcodeproj",
					"MyApp/build/Stale.xcodeproj",
				)

				c := finder.Find(tmpDir)
				Expect(c).NotTo(BeNil())
				Expect(c.Type).To(Equal(domain.ContainerWorkspace))
				Expect(c.Path).To(Equal(filepath.Join(tmpDir, "MyApp", "MyApp.xcworkspace")))
			})
		})

		Context("when only a project exists deeper in the tree", func() {
			It("should find it within the depth limit", func() {
				mkdirs("src/ios/App.xcodeproj")

				c := finder.Find(tmpDir)
				Expect(c).NotTo(BeNil())
				Expect(c.Type).To(Equal(domain.ContainerProject))
				Expect(c.Path).To(Equal(filepath.Join(tmpDir, "src", "ios", "App.xcodeproj")))
			})
		})

		Context("when the tree holds no container at all", func() {
			It("should return nil", func() {
				mkdirs("docs", "scripts")

				Expect(finder.Find(tmpDir)).To(BeNil())
			})
		})

		Context("when the tree changes after a lookup", func() {
			It("should keep serving the cached answer", func() {
				mkdirs("App/App.xcodeproj")

				first := finder.Find(tmpDir)
				Expect(first).NotTo(BeNil())

				// a workspace appearing later is invisible until the TTL lapses
				mkdirs("App/App.xcworkspace")

				second := finder.Find(tmpDir)
				Expect(second).NotTo(BeNil())
				Expect(second.Type).To(Equal(domain.ContainerProject))
			})
		})
	})
})
