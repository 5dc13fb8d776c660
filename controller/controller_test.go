package controller

import (
	"context"
	"errors"
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"

	"go-tankloop/eventlog"
	"go-tankloop/logger"
	"go-tankloop/metrics"
	"go-tankloop/points"
)

var errReset = errors.New("connection reset by peer")

func transportFail(op string, addr uint16) Result[bool] {
	return Failure[bool](&PointError{Kind: TransportError, Op: op, Addr: addr, Err: errReset})
}

func cancelledFail(op string, addr uint16) Result[bool] {
	return Failure[bool](&PointError{Kind: TransportError, Op: op, Addr: addr, Err: context.Canceled})
}

var _ = Describe("Controller", func() {
	var (
		mockCtrl  *gomock.Controller
		transport *MockTransport
		records   []eventlog.ControllerRecord
		m         *metrics.ControllerMetrics
		now       time.Time
		cfg       Config
		c         *Controller
	)

	newController := func() *Controller {
		sink := eventlog.SinkFunc[eventlog.ControllerRecord](func(rec eventlog.ControllerRecord) error {
			records = append(records, rec)
			return nil
		})

		return New(transport, cfg,
			WithSink(sink),
			WithMetrics(m),
			WithLogger(logger.NewSlogWriter(io.Discard, logger.ErrorLevel, false)),
			WithClock(func() time.Time { return now }),
		)
	}

	lower := func(v Result[bool]) *gomock.Call {
		return transport.EXPECT().ReadDiscreteInput(gomock.Any(), points.LowerSensorInput).Return(v)
	}
	upper := func(v Result[bool]) *gomock.Call {
		return transport.EXPECT().ReadDiscreteInput(gomock.Any(), points.UpperSensorInput).Return(v)
	}
	pump := func(v Result[bool]) *gomock.Call {
		return transport.EXPECT().ReadCoil(gomock.Any(), points.PumpCoil).Return(v)
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		transport = NewMockTransport(mockCtrl)
		records = nil
		m = metrics.NewController()
		now = time.Unix(1000, 0)
		cfg = Config{PollInterval: 10 * time.Millisecond}
		c = newController()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should start with every signal unknown", func() {
		cache := c.Cache()
		Expect(cache.Pump.Known()).To(BeFalse())
		Expect(cache.Pump.Value()).To(BeFalse())
		Expect(cache.Upper.Known()).To(BeFalse())
		Expect(cache.Lower.Known()).To(BeFalse())
	})

	It("should turn the pump on when the lower sensor is inactive", func() {
		gomock.InOrder(
			lower(Ok(false)),
			transport.EXPECT().WriteCoil(gomock.Any(), points.PumpCoil, true).Return(Ok(true)),
			upper(Ok(false)),
		)

		c.Cycle(context.Background())

		Expect(records).To(HaveLen(1))
		Expect(records[0].IsAction).To(BeTrue())
		Expect(records[0].Targets).To(Equal(eventlog.Targets(eventlog.TargetPump)))
		Expect(records[0].Message).To(Equal(MsgPumpOnByLLS))
		Expect(c.Cache().Pump.Value()).To(BeTrue())
		Expect(c.Cache().Lower.Known()).To(BeTrue())
		Expect(m.ActionCount.Load()).To(Equal(uint64(1)))
	})

	It("should not re-issue a command the cache says is in effect", func() {
		lower(Ok(false)).Times(2)
		upper(Ok(false)).Times(2)
		transport.EXPECT().WriteCoil(gomock.Any(), points.PumpCoil, true).Return(Ok(true)).Times(1)

		c.Cycle(context.Background())
		c.Cycle(context.Background())

		Expect(records).To(HaveLen(1))
	})

	It("should turn the pump off when the upper sensor is active", func() {
		pump(Ok(true))
		upper(Ok(false))
		lower(Ok(true))
		c.Refresh(context.Background())
		records = nil

		gomock.InOrder(
			lower(Ok(true)),
			upper(Ok(true)),
			transport.EXPECT().WriteCoil(gomock.Any(), points.PumpCoil, false).Return(Ok(false)),
		)

		c.Cycle(context.Background())

		Expect(records).To(HaveLen(1))
		Expect(records[0].IsAction).To(BeTrue())
		Expect(records[0].Message).To(Equal(MsgPumpOffByULS))
		Expect(c.Cache().Pump.Value()).To(BeFalse())
	})

	It("should leave the pump alone between the sensors", func() {
		lower(Ok(true))
		upper(Ok(false))

		c.Cycle(context.Background())

		Expect(records).To(BeEmpty())
	})

	It("should record a failed lower sensor read and still check the upper sensor", func() {
		gomock.InOrder(
			lower(transportFail(opReadDiscreteInput, points.LowerSensorInput)),
			upper(Ok(false)),
		)

		c.Cycle(context.Background())

		Expect(records).To(HaveLen(1))
		Expect(records[0].IsError).To(BeTrue())
		Expect(records[0].Targets).To(Equal(eventlog.Targets(eventlog.TargetLowerSensor)))
		Expect(records[0].Message).To(Equal(MsgLowerReadFailed))
		Expect(c.Cache().Lower.Known()).To(BeFalse())
		Expect(testutil.ToFloat64(m.Errors("LLS", "transport"))).To(Equal(1.0))
	})

	It("should keep the cached pump state when the write fails", func() {
		gomock.InOrder(
			lower(Ok(false)),
			transport.EXPECT().WriteCoil(gomock.Any(), points.PumpCoil, true).
				Return(Failure[bool](&PointError{Kind: ProtocolError, Op: opWriteCoil, Err: errors.New("exception 2")})),
			upper(Ok(false)),
			lower(Ok(false)),
			transport.EXPECT().WriteCoil(gomock.Any(), points.PumpCoil, true).Return(Ok(true)),
			upper(Ok(false)),
		)

		c.Cycle(context.Background())
		Expect(c.Cache().Pump.Value()).To(BeFalse())
		Expect(records).To(HaveLen(1))
		Expect(records[0].IsError).To(BeTrue())
		Expect(records[0].Targets).To(Equal(eventlog.Targets(eventlog.TargetPump)))
		Expect(records[0].Message).To(Equal(MsgPumpOnFailed))
		Expect(testutil.ToFloat64(m.Errors("pump", "protocol"))).To(Equal(1.0))

		c.Cycle(context.Background())
		Expect(c.Cache().Pump.Value()).To(BeTrue())
		Expect(records).To(HaveLen(2))
		Expect(records[1].IsAction).To(BeTrue())
	})

	It("should tag a refresh with the points read successfully", func() {
		gomock.InOrder(
			pump(transportFail(opReadCoil, points.PumpCoil)),
			upper(Ok(true)),
			lower(Ok(true)),
		)

		c.Refresh(context.Background())

		Expect(records).To(HaveLen(2))
		Expect(records[0].IsError).To(BeTrue())
		Expect(records[0].Targets.String()).To(Equal("pump"))
		Expect(records[1].IsRefresh).To(BeTrue())
		Expect(records[1].Targets.String()).To(Equal("LLS-ULS"))
		Expect(records[1].Message).To(Equal(MsgStateCacheUpdated))
		Expect(c.Cache().Pump.Known()).To(BeFalse())
		Expect(c.Cache().Upper.Value()).To(BeTrue())

		snapshot := c.Snapshot()
		Expect(snapshot.Pump).To(BeNil())
		Expect(snapshot.Upper).To(HaveValue(BeTrue()))
		Expect(snapshot.Lower).To(HaveValue(BeTrue()))
	})

	It("should publish an empty snapshot before the first resync", func() {
		snapshot := c.Snapshot()
		Expect(snapshot.Pump).To(BeNil())
		Expect(snapshot.Upper).To(BeNil())
		Expect(snapshot.Lower).To(BeNil())
	})

	It("should resync after the configured number of cycles", func() {
		cfg.RefreshCycles = 2
		c = newController()

		lower(Ok(true)).Times(3)
		upper(Ok(false)).Times(3)
		pump(Ok(false)).Times(1)

		c.Cycle(context.Background())
		c.Cycle(context.Background())

		Expect(records).To(HaveLen(1))
		Expect(records[0].IsRefresh).To(BeTrue())
		Expect(records[0].Targets).To(Equal(eventlog.AllTargets()))
		Expect(m.RefreshCount.Load()).To(Equal(uint64(1)))
	})

	It("should resync once the refresh interval has elapsed", func() {
		cfg.RefreshInterval = 30 * time.Second
		c = newController()

		pump(Ok(false)).Times(2)
		upper(Ok(false)).Times(4)
		lower(Ok(true)).Times(4)

		c.Refresh(context.Background())
		records = nil

		now = now.Add(29 * time.Second)
		c.Cycle(context.Background())
		Expect(records).To(BeEmpty())

		now = now.Add(time.Second)
		c.Cycle(context.Background())
		Expect(records).To(HaveLen(1))
		Expect(records[0].IsRefresh).To(BeTrue())
	})

	It("should stop a cycle early once the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		lower(Ok(true)).Do(func(context.Context, uint16) { cancel() })

		c.Cycle(ctx)

		Expect(records).To(BeEmpty())
		Expect(m.CycleCount.Load()).To(Equal(uint64(1)))
	})

	It("should not switch the pump once the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		lower(Ok(false)).Do(func(context.Context, uint16) { cancel() })

		c.Cycle(ctx)

		Expect(records).To(BeEmpty())
		Expect(c.Cache().Pump.Known()).To(BeFalse())
		Expect(c.Cache().Lower.Known()).To(BeTrue())
	})

	It("should not record requests refused by cancellation", func() {
		ctx, cancel := context.WithCancel(context.Background())
		gomock.InOrder(
			pump(Ok(true)).Do(func(context.Context, uint16) { cancel() }),
			upper(cancelledFail(opReadDiscreteInput, points.UpperSensorInput)),
			lower(cancelledFail(opReadDiscreteInput, points.LowerSensorInput)),
		)

		c.Refresh(ctx)

		Expect(records).To(BeEmpty())
		Expect(c.Cache().Pump.Value()).To(BeTrue())
		Expect(c.Snapshot().Pump).To(HaveValue(BeTrue()))
		Expect(testutil.ToFloat64(m.Errors("ULS", "transport"))).To(Equal(0.0))
		Expect(m.RefreshCount.Load()).To(BeZero())
	})

	It("should return without touching the gateway when started cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Expect(c.Run(ctx)).To(Succeed())
		Expect(records).To(BeEmpty())
	})

	It("should keep its default metrics when given nil", func() {
		c = New(transport, cfg, WithMetrics(nil),
			WithLogger(logger.NewSlogWriter(io.Discard, logger.ErrorLevel, false)))

		lower(Ok(true))
		upper(Ok(false))

		Expect(func() { c.Cycle(context.Background()) }).ToNot(Panic())
	})

	It("should refresh first and then poll until cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cycles := 0
		pump(Ok(true))
		upper(Ok(false)).MinTimes(1)
		lower(Ok(true)).MinTimes(1).Do(func(context.Context, uint16) {
			cycles++
			if cycles == 4 {
				cancel()
			}
		})

		done := make(chan error, 1)
		go func() { done <- c.Run(ctx) }()

		Eventually(done, time.Second).Should(Receive(BeNil()))
		Expect(records).ToNot(BeEmpty())
		Expect(records[0].IsRefresh).To(BeTrue())
		Expect(m.CycleCount.Load()).To(BeNumerically(">=", 2))
	})

	It("should count sink failures without stopping", func() {
		c = New(transport, cfg,
			WithSink(eventlog.SinkFunc[eventlog.ControllerRecord](func(eventlog.ControllerRecord) error {
				return errors.New("disk full")
			})),
			WithMetrics(m),
			WithLogger(logger.NewSlogWriter(io.Discard, logger.ErrorLevel, false)),
		)

		lower(Ok(false))
		transport.EXPECT().WriteCoil(gomock.Any(), points.PumpCoil, true).Return(Ok(true))
		upper(Ok(false))

		c.Cycle(context.Background())

		Expect(m.SinkErrCount.Load()).To(Equal(uint64(1)))
		Expect(c.Cache().Pump.Value()).To(BeTrue())
	})
})

var _ = Describe("Result", func() {
	It("should return a nil error on success", func() {
		v, err := Ok(true).Get()
		Expect(err).To(BeNil())
		Expect(v).To(BeTrue())
	})

	It("should expose the point error on failure", func() {
		r := transportFail(opReadCoil, 0)
		_, err := r.Get()

		var perr *PointError
		Expect(errors.As(err, &perr)).To(BeTrue())
		Expect(perr.Kind).To(Equal(TransportError))
		Expect(errors.Is(err, errReset)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("read coil 0: transport error"))
	})
})
