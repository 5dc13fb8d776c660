package controller

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"go-tankloop/logger"
)

func closedAddr() string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).ToNot(HaveOccurred())
	addr := ln.Addr().String()
	Expect(ln.Close()).To(Succeed())

	return addr
}

var _ = Describe("ModbusTransport", func() {
	var t *ModbusTransport

	BeforeEach(func() {
		t = NewModbusTransport(closedAddr(), 1, 200*time.Millisecond,
			logger.NewSlogWriter(io.Discard, logger.ErrorLevel, false))
	})

	It("should fail to connect to a closed port", func() {
		err := t.Connect(context.Background(), 0)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("after 1 attempts"))
	})

	It("should stop retrying when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Expect(t.Connect(ctx, 3)).To(MatchError(context.Canceled))
	})

	It("should report an unreachable gateway as a transport error", func() {
		r := t.ReadDiscreteInput(context.Background(), 0)

		Expect(r.IsOk()).To(BeFalse())
		Expect(r.Err.Kind).To(Equal(TransportError))
		Expect(r.Err.Op).To(Equal(opReadDiscreteInput))
	})

	It("should refuse requests once the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		r := t.ReadCoil(ctx, 0)
		Expect(r.Err).ToNot(BeNil())
		Expect(errors.Is(r.Err, context.Canceled)).To(BeTrue())
	})

	It("should refuse requests after Close", func() {
		Expect(t.Close()).To(Succeed())

		r := t.WriteCoil(context.Background(), 0, true)
		Expect(r.Err).ToNot(BeNil())
		Expect(errors.Is(r.Err, ErrNotConnected)).To(BeTrue())
	})

	It("should not send on a cancelled context", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		r := t.ReadCoil(ctx, 0)
		Expect(errors.Is(r.Err, context.Canceled)).To(BeTrue())
	})
})
