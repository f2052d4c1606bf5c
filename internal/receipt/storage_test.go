package receipt

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage *LocalStorage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "captures"))
		Expect(err).NotTo(HaveOccurred())
	})

	It("should create the variant subdirectories up front", func() {
		for _, dir := range []string{OriginalsDir, ProcessedDir} {
			info, err := os.Stat(filepath.Join(tmpDir, "captures", dir))
			Expect(err).NotTo(HaveOccurred())
			Expect(info.IsDir()).To(BeTrue())
		}
	})

	Describe("Save and Get", func() {
		It("should round-trip file contents", func() {
			path, err := storage.Save(filepath.Join(OriginalsDir, "a.png"), []byte("png-bytes"))
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(Equal(filepath.Join(OriginalsDir, "a.png")))

			data, err := storage.Get(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("png-bytes")))
		})

		It("should error on a missing file", func() {
			_, err := storage.Get("originals/nope.png")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Delete", func() {
		It("should remove a stored file", func() {
			path, err := storage.Save(filepath.Join(ProcessedDir, "b.png"), []byte("x"))
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete(path)).To(Succeed())
			_, err = storage.Get(path)
			Expect(err).To(HaveOccurred())
		})

		It("should error when the file does not exist", func() {
			Expect(storage.Delete("originals/ghost.png")).NotTo(Succeed())
		})
	})
})
