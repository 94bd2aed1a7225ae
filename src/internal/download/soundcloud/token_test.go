package soundcloud_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/musicviz/stem-split-be/src/internal/download/soundcloud"
)

var _ = Describe("Token cache", func() {
	var (
		tokenServer *httptest.Server
		tokens      *soundcloud.TokenCache

		exchangeCount int
		expiresIn     int
		countMutex    sync.Mutex
	)

	exchanges := func() int {
		countMutex.Lock()
		defer countMutex.Unlock()
		return exchangeCount
	}

	BeforeEach(func() {
		exchangeCount = 0
		expiresIn = 3600

		tokenServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()

			Expect(r.Method).To(Equal(http.MethodPost))

			_, _, hasBasicAuth := r.BasicAuth()
			Expect(hasBasicAuth).To(BeTrue())

			countMutex.Lock()
			exchangeCount++
			count := exchangeCount
			countMutex.Unlock()

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": fmt.Sprintf("token-%d", count),
				"token_type":   "bearer",
				"expires_in":   expiresIn,
			})
		}))

		tokens = soundcloud.NewTokenCache("some-client-id", "some-client-secret", tokenServer.URL)
	})

	AfterEach(func() {
		tokenServer.Close()
	})

	Describe("Within the validity window", func() {
		It("reuses the cached token without a second exchange", func() {
			first, err := tokens.GetToken(context.Background())
			Expect(err).NotTo(HaveOccurred())

			second, err := tokens.GetToken(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(second).To(Equal(first))
			Expect(exchanges()).To(Equal(1))
		})
	})

	Describe("After expiry", func() {
		BeforeEach(func() {
			// shorter than the refresh buffer, so the token is
			// never considered comfortably valid
			expiresIn = 100
		})

		It("performs exactly one fresh exchange per call", func() {
			_, err := tokens.GetToken(context.Background())
			Expect(err).NotTo(HaveOccurred())

			_, err = tokens.GetToken(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(exchanges()).To(Equal(2))
		})
	})

	Describe("After eviction", func() {
		It("performs exactly one fresh exchange", func() {
			_, err := tokens.GetToken(context.Background())
			Expect(err).NotTo(HaveOccurred())

			tokens.Evict()

			_, err = tokens.GetToken(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(exchanges()).To(Equal(2))
		})
	})

	Describe("Concurrent refreshes", func() {
		It("collapses into a single exchange", func() {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()

					_, err := tokens.GetToken(context.Background())
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			Expect(exchanges()).To(Equal(1))
		})
	})

	Describe("Missing credentials", func() {
		BeforeEach(func() {
			tokens = soundcloud.NewTokenCache("", "", tokenServer.URL)
		})

		It("is reported as not configured", func() {
			Expect(tokens.Configured()).To(BeFalse())
		})

		It("fails fast without calling the token endpoint", func() {
			_, err := tokens.GetToken(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("not configured"))
			Expect(exchanges()).To(BeZero())
		})
	})
})
