package integration

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"courier-go/internal/api"
	"courier-go/internal/collector"
	"courier-go/internal/config"
	"courier-go/internal/domain"
	"courier-go/internal/engine"
	lockmem "courier-go/internal/lock/memory"
	"courier-go/internal/scheduler"
	storemem "courier-go/internal/store/memory"
	transportmem "courier-go/internal/transport/memory"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// harness wires the full pipeline over the in-memory backends: every
// publish loops back through the local transport into the consume path,
// the scheduler re-drives failures, and the operator API serves the
// ledger through fiber's in-process test transport.
type harness struct {
	cfg       *config.Config
	store     *storemem.MessageStore
	transport *transportmem.Transport
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	collector *collector.Collector
	server    *api.Server

	cancel context.CancelFunc
	done   sync.WaitGroup
}

func newHarness(mutate func(cfg *config.Config)) *harness {
	cfg := config.Default()
	cfg.Retry.Interval = time.Millisecond
	cfg.Retry.Lookback = 0
	cfg.Retry.PollInterval = 5 * time.Millisecond
	cfg.Retry.UseStorageLock = true
	cfg.Retry.LockTTL = time.Second
	cfg.Cleanup.Interval = 5 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	st := storemem.NewMessageStore()
	tr := transportmem.NewTransport(1000)
	eng := engine.NewEngine(st, tr, engine.NewRegistry(), engine.ConfigFrom(cfg), logger)
	sched := scheduler.NewScheduler(st, eng, lockmem.NewLocker(), cfg.Retry, logger)
	coll := collector.NewCollector(st, cfg.Cleanup, logger)
	srv := api.NewServer(&cfg.Server, api.NewMessageHandler(st, logger), logger)

	return &harness{
		cfg:       cfg,
		store:     st,
		transport: tr,
		engine:    eng,
		scheduler: sched,
		collector: coll,
		server:    srv,
	}
}

// start runs the receive loop, the retry scheduler, and the cleanup
// collector until stop is called.
func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	h.done.Add(3)
	go func() {
		defer h.done.Done()
		h.transport.Start(ctx, h.engine.HandleDelivery)
	}()
	go func() {
		defer h.done.Done()
		h.scheduler.Start(ctx)
	}()
	go func() {
		defer h.done.Done()
		h.collector.Start(ctx)
	}()
}

func (h *harness) stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.done.Wait()
	h.transport.Close()
}

// getJSON drives one request through the API and decodes the envelope.
func (h *harness) getJSON(method, path string) (int, api.APIResponse) {
	resp, err := h.server.App().Test(httptest.NewRequest(method, path, nil))
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var out api.APIResponse
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return resp.StatusCode, out
}

func (h *harness) messageStatus(kind domain.Kind, id string) domain.Status {
	msg, err := h.store.GetByID(context.Background(), kind, id)
	if err != nil {
		return ""
	}
	return msg.Status
}

var _ = Describe("Message Delivery Lifecycle", func() {
	var h *harness

	AfterEach(func() {
		h.stop()
	})

	Context("when a subscriber is registered for the published message", func() {
		It("delivers the message end to end and resolves both ledgers", func() {
			h = newHarness(nil)

			var mu sync.Mutex
			var received []byte
			err := h.engine.Registry().Subscribe("order.created", func(ctx context.Context, body []byte, header *domain.CallbackHeader) ([]byte, error) {
				mu.Lock()
				defer mu.Unlock()
				received = body
				return nil, nil
			})
			Expect(err).NotTo(HaveOccurred())

			h.start()

			id, err := h.engine.Publish(context.Background(), "order.created", []byte(`{"orderId":42}`))
			Expect(err).NotTo(HaveOccurred())

			// The outbound row resolves as soon as the local transport accepts
			Expect(h.messageStatus(domain.KindOutbound, id)).To(Equal(domain.StatusSucceeded))

			// The loopback delivery lands in the inbound ledger under the
			// same message id and resolves once the subscriber returns
			Eventually(func() domain.Status {
				return h.messageStatus(domain.KindInbound, id)
			}, 2*time.Second, 5*time.Millisecond).Should(Equal(domain.StatusSucceeded))

			mu.Lock()
			defer mu.Unlock()
			Expect(string(received)).To(Equal(`{"orderId":42}`))
		})
	})

	Context("when the publisher declares a callback", func() {
		It("routes the subscriber's result back as a new outbound message", func() {
			h = newHarness(nil)

			err := h.engine.Registry().Subscribe("order.created", func(ctx context.Context, body []byte, header *domain.CallbackHeader) ([]byte, error) {
				return []byte(`{"confirmed":true}`), nil
			})
			Expect(err).NotTo(HaveOccurred())

			var mu sync.Mutex
			var callbackBody []byte
			err = h.engine.Registry().Subscribe("order.created.ack", func(ctx context.Context, body []byte, header *domain.CallbackHeader) ([]byte, error) {
				mu.Lock()
				defer mu.Unlock()
				callbackBody = body
				return nil, nil
			})
			Expect(err).NotTo(HaveOccurred())

			h.start()

			_, err = h.engine.Publish(context.Background(), "order.created", []byte("{}"),
				engine.WithCallback("order.created.ack"))
			Expect(err).NotTo(HaveOccurred())

			// The callback crosses the wire like any other message, so the
			// second subscriber sees the first one's result
			Eventually(func() string {
				mu.Lock()
				defer mu.Unlock()
				return string(callbackBody)
			}, 2*time.Second, 5*time.Millisecond).Should(Equal(`{"confirmed":true}`))
		})
	})

	Context("when the subscriber fails transiently", func() {
		It("retries until the subscriber succeeds and records the failure count", func() {
			h = newHarness(nil)

			var mu sync.Mutex
			invocations := 0
			err := h.engine.Registry().Subscribe("order.created", func(ctx context.Context, body []byte, header *domain.CallbackHeader) ([]byte, error) {
				mu.Lock()
				defer mu.Unlock()
				invocations++
				if invocations <= 2 {
					return nil, context.DeadlineExceeded
				}
				return nil, nil
			})
			Expect(err).NotTo(HaveOccurred())

			h.start()

			id, err := h.engine.Publish(context.Background(), "order.created", []byte("{}"))
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() domain.Status {
				return h.messageStatus(domain.KindInbound, id)
			}, 2*time.Second, 5*time.Millisecond).Should(Equal(domain.StatusSucceeded))

			msg, err := h.store.GetByID(context.Background(), domain.KindInbound, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.Retries).To(Equal(2))
		})
	})

	Context("when a message exhausts its retries", func() {
		It("parks the row as terminal and lets an operator re-arm it over HTTP", func() {
			h = newHarness(func(cfg *config.Config) {
				cfg.Retry.MaxRetries = 3
			})

			var mu sync.Mutex
			broken := true
			err := h.engine.Registry().Subscribe("order.created", func(ctx context.Context, body []byte, header *domain.CallbackHeader) ([]byte, error) {
				mu.Lock()
				defer mu.Unlock()
				if broken {
					return nil, context.DeadlineExceeded
				}
				return nil, nil
			})
			Expect(err).NotTo(HaveOccurred())

			h.start()

			id, err := h.engine.Publish(context.Background(), "order.created", []byte("{}"))
			Expect(err).NotTo(HaveOccurred())

			// Drive the inbound row to its terminal failure
			Eventually(func() int {
				msg, err := h.store.GetByID(context.Background(), domain.KindInbound, id)
				if err != nil {
					return 0
				}
				return msg.Retries
			}, 2*time.Second, 5*time.Millisecond).Should(Equal(3))

			msg, err := h.store.GetByID(context.Background(), domain.KindInbound, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(msg.Status).To(Equal(domain.StatusFailed))
			Expect(msg.ExpiresAt).NotTo(BeNil())

			// The terminal row shows up in the operator's failure listing
			status, out := h.getJSON(http.MethodGet, "/v1/messages/inbound?status=Failed")
			Expect(status).To(Equal(http.StatusOK))
			Expect(out.Success).To(BeTrue())

			// Fix the downstream, then re-arm over HTTP
			mu.Lock()
			broken = false
			mu.Unlock()

			status, _ = h.getJSON(http.MethodPost, "/v1/messages/inbound/"+id+"/rearm")
			Expect(status).To(Equal(http.StatusAccepted))

			Eventually(func() domain.Status {
				return h.messageStatus(domain.KindInbound, id)
			}, 2*time.Second, 5*time.Millisecond).Should(Equal(domain.StatusSucceeded))
		})
	})

	Context("when retention expires", func() {
		It("removes resolved rows from the ledger", func() {
			h = newHarness(func(cfg *config.Config) {
				cfg.Retention.Succeeded = time.Millisecond
			})

			err := h.engine.Registry().Subscribe("order.created", func(ctx context.Context, body []byte, header *domain.CallbackHeader) ([]byte, error) {
				return nil, nil
			})
			Expect(err).NotTo(HaveOccurred())

			h.start()

			id, err := h.engine.Publish(context.Background(), "order.created", []byte("{}"))
			Expect(err).NotTo(HaveOccurred())

			// Both rows resolve, their short retention lapses, and the
			// collector reclaims them
			Eventually(func() error {
				_, err := h.store.GetByID(context.Background(), domain.KindOutbound, id)
				return err
			}, 2*time.Second, 5*time.Millisecond).Should(MatchError(domain.ErrMessageNotFound))

			Eventually(func() error {
				_, err := h.store.GetByID(context.Background(), domain.KindInbound, id)
				return err
			}, 2*time.Second, 5*time.Millisecond).Should(MatchError(domain.ErrMessageNotFound))
		})
	})

	Context("operator API", func() {
		It("serves health and ledger inspection", func() {
			h = newHarness(nil)
			h.start()

			status, out := h.getJSON(http.MethodGet, "/healthz")
			Expect(status).To(Equal(http.StatusOK))
			Expect(out.Success).To(BeTrue())

			status, out = h.getJSON(http.MethodGet, "/v1/messages/sideways")
			Expect(status).To(Equal(http.StatusBadRequest))
			Expect(out.Error).NotTo(BeNil())
		})
	})
})
