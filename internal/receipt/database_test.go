package receipt

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/resibo-ph/resibo/internal/session"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveRecord", func() {
		var (
			record *Record
			err    error
		)

		BeforeEach(func() {
			total := 1500.0
			record = &Record{
				ID:             "test-id",
				ReceiptDate:    "2024-03-15",
				SellerName:     "ACME TRADING",
				SellerTIN:      "123456789",
				TotalAmountDue: &total,
				SavedAt:        time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC),
			}
		})

		JustBeforeEach(func() {
			err = db.SaveRecord(record)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should persist the record", func() {
				saved, getErr := db.GetRecord("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.SellerName).To(Equal("ACME TRADING"))
				Expect(saved.TotalAmountDue).To(HaveValue(Equal(1500.0)))
			})

			It("should keep unfilled monetary fields nil", func() {
				saved, getErr := db.GetRecord("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.GrossAmount).To(BeNil())
				Expect(saved.Discount).To(BeNil())
			})
		})
	})

	Describe("GetRecord", func() {
		When("the record does not exist", func() {
			It("should return an error", func() {
				_, err := db.GetRecord("nonexistent")
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("ListRecords", func() {
		When("the database is empty", func() {
			It("should return an empty slice", func() {
				records, err := db.ListRecords()
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(BeEmpty())
			})
		})

		When("records exist", func() {
			BeforeEach(func() {
				Expect(db.SaveRecord(&Record{ID: "a"})).To(Succeed())
				Expect(db.SaveRecord(&Record{ID: "b"})).To(Succeed())
			})

			It("should return all of them", func() {
				records, err := db.ListRecords()
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(2))
			})
		})
	})

	Describe("DeleteRecord", func() {
		BeforeEach(func() {
			Expect(db.SaveRecord(&Record{ID: "doomed"})).To(Succeed())
		})

		It("should remove the record", func() {
			Expect(db.DeleteRecord("doomed")).To(Succeed())
			_, err := db.GetRecord("doomed")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("session storage", func() {
		It("should return nil when no session is stored", func() {
			sess, err := db.GetSession()
			Expect(err).NotTo(HaveOccurred())
			Expect(sess).To(BeNil())
		})

		It("should round-trip a session", func() {
			stored := &session.Session{
				Code:  "RSB-001",
				Name:  "Juan Dela Cruz",
				TIN:   "123456789",
				Gmail: "juan@gmail.com",
			}
			Expect(db.SaveSession(stored)).To(Succeed())

			sess, err := db.GetSession()
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.Name).To(Equal("Juan Dela Cruz"))
		})

		It("should clear a stored session", func() {
			Expect(db.SaveSession(&session.Session{Code: "RSB-001"})).To(Succeed())
			Expect(db.ClearSession()).To(Succeed())

			sess, err := db.GetSession()
			Expect(err).NotTo(HaveOccurred())
			Expect(sess).To(BeNil())
		})
	})
})
