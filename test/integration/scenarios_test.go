// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wasmstream Contributors

//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/wasmstream/core/internal/core"
	"github.com/wasmstream/core/internal/gateway"
	"github.com/wasmstream/core/internal/hub"
)

func decodeCounterEvent(data []byte) counterEventPayload {
	var p counterEventPayload
	Expect(json.Unmarshal(data, &p)).To(Succeed())
	return p
}

var _ = Describe("Fresh counter", func() {
	It("assigns dense per-stream sequences and folds the running count", func() {
		ctx := context.Background()
		rt := newRuntime(ctx)
		defer rt.close(ctx)
		rt.host.Handlers["Counter"] = counterModule()

		pubRes, err := rt.gateway.Publish(ctx, gateway.PublishRequest{
			Category: "Counter", Version: "1.0.0", ModuleBytes: []byte("counter-wasm"),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(pubRes.Success).To(BeTrue())

		res1, err := rt.gateway.Execute(ctx, gateway.ExecuteRequest{
			Category: "Counter", ID: "c1", Command: "Increment", Payload: []byte(`{"amount":3}`),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res1.Success).To(BeTrue())
		Expect(res1.Events).To(HaveLen(1))
		Expect(res1.Events[0].MsgType).To(Equal("Incremented"))
		Expect(res1.Events[0].StreamName).To(Equal("Counter-c1"))
		Expect(res1.Events[0].Position).To(Equal(uint64(0)))
		Expect(decodeCounterEvent(res1.Events[0].Data).Count).To(Equal(3))

		res2, err := rt.gateway.Execute(ctx, gateway.ExecuteRequest{
			Category: "Counter", ID: "c1", Command: "Increment", Payload: []byte(`{"amount":2}`),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res2.Success).To(BeTrue())
		Expect(res2.Events[0].Position).To(Equal(uint64(1)))
		Expect(decodeCounterEvent(res2.Events[0].Data).Count).To(Equal(5))
	})
})

var _ = Describe("Rehydration across a restart", func() {
	It("reconstructs folded state from the stream rather than memory", func() {
		ctx := context.Background()
		rt := newRuntime(ctx)
		defer rt.close(ctx)
		rt.host.Handlers["Counter"] = counterModule()

		_, err := rt.gateway.Publish(ctx, gateway.PublishRequest{
			Category: "Counter", Version: "1.0.0", ModuleBytes: []byte("counter-wasm"),
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = rt.gateway.Execute(ctx, gateway.ExecuteRequest{
			Category: "Counter", ID: "c1", Command: "Increment", Payload: []byte(`{"amount":3}`),
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = rt.gateway.Execute(ctx, gateway.ExecuteRequest{
			Category: "Counter", ID: "c1", Command: "Increment", Payload: []byte(`{"amount":2}`),
		})
		Expect(err).NotTo(HaveOccurred())

		rt.restart(ctx)

		res, err := rt.gateway.Execute(ctx, gateway.ExecuteRequest{
			Category: "Counter", ID: "c1", Command: "Increment", Payload: []byte(`{"amount":1}`),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Success).To(BeTrue())
		Expect(res.Events[0].Position).To(Equal(uint64(2)))
		Expect(decodeCounterEvent(res.Events[0].Data).Count).To(Equal(6))
	})
})

var _ = Describe("Domain error", func() {
	It("rejects a decrement that would go negative without appending anything", func() {
		ctx := context.Background()
		rt := newRuntime(ctx)
		defer rt.close(ctx)
		rt.host.Handlers["Counter"] = counterModule()

		_, err := rt.gateway.Publish(ctx, gateway.PublishRequest{
			Category: "Counter", Version: "1.0.0", ModuleBytes: []byte("counter-wasm"),
		})
		Expect(err).NotTo(HaveOccurred())

		res, err := rt.gateway.Execute(ctx, gateway.ExecuteRequest{
			Category: "Counter", ID: "c2", Command: "Decrement", Payload: []byte(`{"amount":1}`),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Success).To(BeFalse())
		Expect(res.Message).To(Equal("NEGATIVE_COUNT"))
		Expect(res.Events).To(BeEmpty())

		events, err := rt.store.ReadStream(ctx, "Counter-c2", 0, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(BeEmpty())
	})
})

var _ = Describe("Subscription replay then live tail", func() {
	It("replays committed events in order and delivers only new ones after reconnect", func() {
		ctx := context.Background()
		rt := newRuntime(ctx)
		defer rt.close(ctx)
		rt.host.Handlers["Counter"] = counterModule()

		_, err := rt.gateway.Publish(ctx, gateway.PublishRequest{
			Category: "Counter", Version: "1.0.0", ModuleBytes: []byte("counter-wasm"),
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = rt.gateway.Execute(ctx, gateway.ExecuteRequest{
			Category: "Counter", ID: "c1", Command: "Increment", Payload: []byte(`{"amount":3}`),
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = rt.gateway.Execute(ctx, gateway.ExecuteRequest{
			Category: "Counter", ID: "c1", Command: "Increment", Payload: []byte(`{"amount":2}`),
		})
		Expect(err).NotTo(HaveOccurred())

		filters := []hub.Filter{{Category: "Counter", EventType: "Incremented"}}

		stream1, err := rt.gateway.SubscribeToEvents(ctx, gateway.SubscribeRequest{Name: "proj1", Filters: filters})
		Expect(err).NotTo(HaveOccurred())

		msgCtx1, cancel1 := context.WithCancel(ctx)
		ch1 := stream1.Messages(msgCtx1)

		var m1, m2 gateway.Message
		Eventually(ch1).Should(Receive(&m1))
		Expect(m1.GlobalID).To(Equal(uint64(1)))
		Eventually(ch1).Should(Receive(&m2))
		Expect(m2.GlobalID).To(Equal(uint64(2)))

		Expect(stream1.Ack(ctx, 2)).To(Succeed())
		cancel1()
		stream1.Close()

		_, err = rt.gateway.Execute(ctx, gateway.ExecuteRequest{
			Category: "Counter", ID: "c1", Command: "Increment", Payload: []byte(`{"amount":1}`),
		})
		Expect(err).NotTo(HaveOccurred())

		stream2, err := rt.gateway.SubscribeToEvents(ctx, gateway.SubscribeRequest{Name: "proj1", Filters: filters})
		Expect(err).NotTo(HaveOccurred())

		msgCtx2, cancel2 := context.WithCancel(ctx)
		defer cancel2()
		ch2 := stream2.Messages(msgCtx2)

		var m3 gateway.Message
		Eventually(ch2).Should(Receive(&m3))
		Expect(m3.GlobalID).To(Equal(uint64(3)))

		cancel2()
		stream2.Close()
	})
})

var _ = Describe("Idempotent retry", func() {
	It("produces exactly one event for two concurrent calls sharing a causation id", func() {
		ctx := context.Background()
		rt := newRuntime(ctx)
		defer rt.close(ctx)
		rt.host.Handlers["Counter"] = counterModule()

		_, err := rt.gateway.Publish(ctx, gateway.PublishRequest{
			Category: "Counter", Version: "1.0.0", ModuleBytes: []byte("counter-wasm"),
		})
		Expect(err).NotTo(HaveOccurred())

		var wg sync.WaitGroup
		results := make([]*gateway.ExecuteResult, 2)
		errs := make([]error, 2)

		for i := range 2 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = rt.gateway.Execute(ctx, gateway.ExecuteRequest{
					Category:    "Counter",
					ID:          "c3",
					Command:     "Increment",
					Payload:     []byte(`{"amount":1}`),
					CausationID: "abc",
				})
			}(i)
		}
		wg.Wait()

		Expect(errs[0]).NotTo(HaveOccurred())
		Expect(errs[1]).NotTo(HaveOccurred())
		Expect(results[0].Success).To(BeTrue())
		Expect(results[1].Success).To(BeTrue())
		Expect(results[0].Events).To(Equal(results[1].Events))

		events, err := rt.store.ReadStream(ctx, "Counter-c3", 0, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(1))
	})
})

var _ = Describe("Optimistic conflict defense", func() {
	It("rehydrates and reprocesses the command after an out-of-band append", func() {
		ctx := context.Background()
		rt := newRuntime(ctx)
		defer rt.close(ctx)
		rt.host.Handlers["Counter"] = counterModule()

		_, err := rt.gateway.Publish(ctx, gateway.PublishRequest{
			Category: "Counter", Version: "1.0.0", ModuleBytes: []byte("counter-wasm"),
		})
		Expect(err).NotTo(HaveOccurred())

		res1, err := rt.gateway.Execute(ctx, gateway.ExecuteRequest{
			Category: "Counter", ID: "c4", Command: "Increment", Payload: []byte(`{"amount":1}`),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res1.Events[0].Position).To(Equal(uint64(0)))

		// Out-of-band append the actor's live instance doesn't know about:
		// the actor's cached position is still 0, but the stream is now 2
		// events long.
		_, err = rt.store.Append(ctx, "Counter-c4", 1, []core.ProposedEvent{
			{EventType: "Incremented", Data: []byte(`{"amount":5,"count":6,"delta":5}`)},
		})
		Expect(err).NotTo(HaveOccurred())

		res2, err := rt.gateway.Execute(ctx, gateway.ExecuteRequest{
			Category: "Counter", ID: "c4", Command: "Increment", Payload: []byte(`{"amount":2}`),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res2.Success).To(BeTrue())
		Expect(res2.Events).To(HaveLen(1))
		Expect(res2.Events[0].Position).To(Equal(uint64(2)))
		Expect(decodeCounterEvent(res2.Events[0].Data).Count).To(Equal(8))

		events, err := rt.store.ReadStream(ctx, "Counter-c4", 0, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(3))
	})
})
