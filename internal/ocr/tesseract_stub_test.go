//go:build !ocr

package ocr

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Tesseract stub", func() {
	It("should construct without error", func() {
		engine, err := NewTesseract()
		Expect(err).NotTo(HaveOccurred())
		Expect(engine).NotTo(BeNil())
	})

	It("should report itself unavailable", func() {
		engine, _ := NewTesseract()
		Expect(engine.Available()).To(BeFalse())
	})

	It("should refuse recognition", func() {
		engine, _ := NewTesseract()
		_, err := engine.Recognize(context.Background(), nil, Options{})
		Expect(errors.Is(err, ErrEngineUnavailable)).To(BeTrue())
	})

	It("should close cleanly", func() {
		engine, _ := NewTesseract()
		Expect(engine.Close()).To(Succeed())
	})
})
