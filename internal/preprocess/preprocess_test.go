package preprocess

import (
	"image"
	"image/color"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestPreprocess(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Preprocess Suite")
}

// syntheticPage draws black horizontal text-like bars on a white background.
func syntheticPage(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = 255
	}
	for y := 20; y < h-20; y += 30 {
		for yy := y; yy < y+4 && yy < h; yy++ {
			for x := 10; x < w-10; x++ {
				g.SetGray(x, yy, color.Gray{Y: 0})
			}
		}
	}
	return g
}

var _ = Describe("ParseLevel", func() {
	It("should parse the three preset names", func() {
		Expect(ParseLevel("basic")).To(Equal(Basic))
		Expect(ParseLevel("Strong")).To(Equal(Strong))
		Expect(ParseLevel(" ultra ")).To(Equal(Ultra))
	})

	It("should reject unknown names", func() {
		_, err := ParseLevel("max")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Preset", func() {
	It("should only upscale on the strongest preset", func() {
		Expect(Preset{Level: Basic}.UpscaleFactor()).To(Equal(1.0))
		Expect(Preset{Level: Strong, SmallPrintBoost: true}.UpscaleFactor()).To(Equal(1.0))
		Expect(Preset{Level: Ultra}.UpscaleFactor()).To(Equal(1.6))
		Expect(Preset{Level: Ultra, SmallPrintBoost: true}.UpscaleFactor()).To(Equal(2.0))
	})
})

var _ = Describe("Grayscale", func() {
	It("should copy a cropped grayscale raster without shearing", func() {
		g := image.NewGray(image.Rect(0, 0, 8, 8))
		for i := range g.Pix {
			g.Pix[i] = uint8(i)
		}
		sub := g.SubImage(image.Rect(2, 2, 6, 6)).(*image.Gray)

		out := Grayscale(sub)
		Expect(out.Bounds()).To(Equal(sub.Bounds()))
		for y := 2; y < 6; y++ {
			for x := 2; x < 6; x++ {
				Expect(out.GrayAt(x, y)).To(Equal(g.GrayAt(x, y)))
			}
		}
	})
})

var _ = Describe("OtsuThreshold", func() {
	It("should produce a strictly binary raster", func() {
		bin := OtsuThreshold(syntheticPage(120, 120))
		for _, p := range bin.Pix {
			Expect(p == 0 || p == 255).To(BeTrue())
		}
	})

	It("should keep dark strokes dark and background light", func() {
		bin := OtsuThreshold(syntheticPage(120, 120))
		Expect(bin.GrayAt(60, 22).Y).To(Equal(uint8(0)))
		Expect(bin.GrayAt(60, 10).Y).To(Equal(uint8(255)))
	})
})

var _ = Describe("AdaptiveThreshold", func() {
	When("the raster is uniform", func() {
		It("should classify everything as background", func() {
			g := image.NewGray(image.Rect(0, 0, 64, 64))
			for i := range g.Pix {
				g.Pix[i] = 128
			}
			bin := AdaptiveThreshold(g, 35, 10, StatMean, false)
			for _, p := range bin.Pix {
				Expect(p).To(Equal(uint8(255)))
			}
		})
	})

	When("inverted", func() {
		It("should flip the classification", func() {
			g := image.NewGray(image.Rect(0, 0, 64, 64))
			for i := range g.Pix {
				g.Pix[i] = 128
			}
			bin := AdaptiveThreshold(g, 35, 10, StatMean, true)
			for _, p := range bin.Pix {
				Expect(p).To(Equal(uint8(0)))
			}
		})
	})
})

var _ = Describe("EstimateSkew", func() {
	It("should report no skew for horizontal rulings", func() {
		angle := EstimateSkew(syntheticPage(200, 200))
		Expect(angle).To(BeNumerically("~", 0, 1.5))
	})

	It("should report zero for a blank raster", func() {
		g := image.NewGray(image.Rect(0, 0, 100, 100))
		Expect(EstimateSkew(g)).To(Equal(0.0))
	})
})

var _ = Describe("Upscale", func() {
	It("should round the scaled dimensions", func() {
		g := image.NewGray(image.Rect(0, 0, 100, 50))
		out := Upscale(g, 1.6)
		Expect(out.Bounds().Dx()).To(Equal(160))
		Expect(out.Bounds().Dy()).To(Equal(80))
	})

	It("should be a no-op at factor one", func() {
		g := image.NewGray(image.Rect(0, 0, 100, 50))
		out := Upscale(g, 1.0)
		Expect(out.Bounds()).To(Equal(g.Bounds()))
	})
})

var _ = Describe("RemoveRuledLines", func() {
	It("should leave tiny rasters untouched", func() {
		g := image.NewGray(image.Rect(0, 0, 20, 20))
		Expect(RemoveRuledLines(g)).To(BeIdenticalTo(g))
	})

	It("should erase a long horizontal ruling", func() {
		g := image.NewGray(image.Rect(0, 0, 120, 120))
		for i := range g.Pix {
			g.Pix[i] = 255
		}
		for x := 0; x < 120; x++ {
			g.SetGray(x, 60, color.Gray{Y: 0})
		}
		out := RemoveRuledLines(g)
		Expect(out.GrayAt(60, 60).Y).To(Equal(uint8(255)))
	})
})

var _ = Describe("Run", func() {
	var (
		src    *image.Gray
		preset Preset
		out    *image.Gray
		err    error
	)

	BeforeEach(func() {
		src = syntheticPage(160, 200)
	})

	JustBeforeEach(func() {
		out, err = Run(src, preset, 0)
	})

	When("running the basic preset", func() {
		BeforeEach(func() {
			preset = Preset{Level: Basic}
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should preserve the input dimensions", func() {
			Expect(out.Bounds().Dx()).To(Equal(160))
			Expect(out.Bounds().Dy()).To(Equal(200))
		})

		It("should produce a binary raster", func() {
			for _, p := range out.Pix {
				Expect(p == 0 || p == 255).To(BeTrue())
			}
		})
	})

	When("running the strong preset", func() {
		BeforeEach(func() {
			preset = Preset{Level: Strong}
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should preserve the input dimensions", func() {
			Expect(out.Bounds().Dx()).To(Equal(160))
			Expect(out.Bounds().Dy()).To(Equal(200))
		})
	})

	When("running the ultra preset", func() {
		BeforeEach(func() {
			preset = Preset{Level: Ultra}
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should upscale by the preset factor", func() {
			Expect(out.Bounds().Dx()).To(Equal(256))
			Expect(out.Bounds().Dy()).To(Equal(320))
		})
	})

	When("a rotation is stored", func() {
		BeforeEach(func() {
			preset = Preset{Level: Basic}
		})

		It("should swap dimensions for quarter turns", func() {
			rotated, rerr := Run(src, preset, 90)
			Expect(rerr).NotTo(HaveOccurred())
			Expect(rotated.Bounds().Dx()).To(Equal(200))
			Expect(rotated.Bounds().Dy()).To(Equal(160))
		})
	})

	When("the source is nil", func() {
		It("should return an error", func() {
			_, nerr := Run(nil, Preset{Level: Basic}, 0)
			Expect(nerr).To(HaveOccurred())
		})
	})
})
