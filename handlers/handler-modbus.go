package handlers

import (
	"errors"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/simonvetter/modbus"

	"go-tankloop/logger"
	"go-tankloop/metrics"
	"go-tankloop/points"
)

const (
	tableCoils          = "coils"
	tableDiscreteInputs = "discrete_inputs"
	tableHolding        = "holding_registers"
	tableInput          = "input_registers"
)

// PointHandler serves a PointMap to Modbus TCP clients. Any unit id is answered.
// Only the pump coil is writable.
type PointHandler struct {
	points  *PointMap
	log     logger.Logger
	metrics *metrics.GatewayMetrics
	clients *xsync.MapOf[string, *xsync.Counter]
}

func NewPointHandler(pm *PointMap, log logger.Logger, m *metrics.GatewayMetrics) *PointHandler {
	return &PointHandler{
		points:  pm,
		log:     log,
		metrics: m,
		clients: xsync.NewMapOf[string, *xsync.Counter](),
	}
}

// ClientRequests returns the number of requests served per client address.
func (h *PointHandler) ClientRequests() map[string]int64 {
	out := make(map[string]int64)
	h.clients.Range(func(addr string, c *xsync.Counter) bool {
		out[addr] = c.Value()
		return true
	})

	return out
}

func (h *PointHandler) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	h.countClient(req.ClientAddr)

	if !req.IsWrite {
		values, err := h.points.Coils(req.Addr, req.Quantity)
		return values, h.finish(tableCoils, err)
	}

	if err := h.points.SetCoils(req.Addr, req.Args); err != nil {
		return nil, h.finish(tableCoils, err)
	}
	if req.Addr == points.PumpCoil {
		h.log.Info("pump coil written", "client", req.ClientAddr, "unit_id", req.UnitId, "value", req.Args[0])
	}

	return nil, h.finish(tableCoils, nil)
}

func (h *PointHandler) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	h.countClient(req.ClientAddr)

	values, err := h.points.DiscreteInputs(req.Addr, req.Quantity)
	return values, h.finish(tableDiscreteInputs, err)
}

func (h *PointHandler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	h.countClient(req.ClientAddr)

	if req.IsWrite {
		h.log.Warn("rejected holding register write", "client", req.ClientAddr, "addr", req.Addr)
		return nil, h.finish(tableHolding, modbus.ErrIllegalFunction)
	}

	values, err := h.points.HoldingRegisters(req.Addr, req.Quantity)
	return values, h.finish(tableHolding, err)
}

func (h *PointHandler) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	h.countClient(req.ClientAddr)

	return nil, h.finish(tableInput, modbus.ErrIllegalDataAddress)
}

func (h *PointHandler) countClient(addr string) {
	counter, _ := h.clients.LoadOrCompute(addr, xsync.NewCounter)
	counter.Inc()
}

// finish records the outcome of a request and maps point map errors to Modbus exceptions.
func (h *PointHandler) finish(table string, err error) error {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrIllegalAddress), errors.Is(err, modbus.ErrIllegalDataAddress):
		outcome = "illegal_data_address"
		err = modbus.ErrIllegalDataAddress
	case errors.Is(err, modbus.ErrIllegalFunction):
		outcome = "illegal_function"
	default:
		outcome = "device_failure"
		h.log.Error("point access failed", "table", table, "error", err)
		err = modbus.ErrServerDeviceFailure
	}

	if h.metrics != nil {
		h.metrics.ObserveRequest(table, outcome)
	}
	h.log.Debug("modbus request", "table", table, "outcome", outcome)

	return err
}
