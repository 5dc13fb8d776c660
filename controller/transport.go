package controller

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"go-tankloop/logger"
)

// Transport performs single-point Modbus accesses against the gateway.
// Calls are sequential; implementations need not be safe for concurrent use.
type Transport interface {
	ReadDiscreteInput(ctx context.Context, addr uint16) Result[bool]
	ReadCoil(ctx context.Context, addr uint16) Result[bool]
	WriteCoil(ctx context.Context, addr uint16, on bool) Result[bool]
	Close() error
}

const (
	opReadDiscreteInput = "read discrete input"
	opReadCoil          = "read coil"
	opWriteCoil         = "write coil"
)

// ModbusTransport is a Transport over a Modbus TCP client connection.
type ModbusTransport struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbus.Client
	log     logger.Logger
	closed  bool
}

// NewModbusTransport prepares a client for addr. No connection is made until
// Connect or the first request.
func NewModbusTransport(addr string, unitID byte, timeout time.Duration, log logger.Logger) *ModbusTransport {
	handler := modbus.NewTCPClientHandler(addr)
	handler.Timeout = timeout
	handler.SlaveId = unitID

	return &ModbusTransport{
		handler: handler,
		client:  modbus.NewClient(handler),
		log:     log,
	}
}

// Connect dials the gateway, retrying up to retries times with exponential
// backoff. It returns the last dial error if every attempt failed.
func (t *ModbusTransport) Connect(ctx context.Context, retries int) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		t.mu.Lock()
		err = t.handler.Connect()
		t.mu.Unlock()
		if err == nil {
			t.log.Info("connected to gateway", "address", t.handler.Address)
			return nil
		}
		if attempt == retries {
			break
		}

		waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		t.log.Warn("error connecting, retrying", "address", t.handler.Address, "attempt", attempt, "wait", waitTime, "error", err)
		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("connect %s after %d attempts: %w", t.handler.Address, retries+1, err)
}

func (t *ModbusTransport) ReadDiscreteInput(ctx context.Context, addr uint16) Result[bool] {
	return t.readBit(ctx, opReadDiscreteInput, addr, t.client.ReadDiscreteInputs)
}

func (t *ModbusTransport) ReadCoil(ctx context.Context, addr uint16) Result[bool] {
	return t.readBit(ctx, opReadCoil, addr, t.client.ReadCoils)
}

func (t *ModbusTransport) WriteCoil(ctx context.Context, addr uint16, on bool) Result[bool] {
	t.mu.Lock()
	defer t.mu.Unlock()

	if perr := t.precheck(ctx, opWriteCoil, addr); perr != nil {
		return Failure[bool](perr)
	}

	value := uint16(0x0000)
	if on {
		value = 0xFF00
	}
	if _, err := t.client.WriteSingleCoil(addr, value); err != nil {
		return Failure[bool](t.classify(opWriteCoil, addr, err))
	}

	return Ok(on)
}

// Close drops the connection; later requests fail with ErrNotConnected.
func (t *ModbusTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true

	return t.handler.Close()
}

func (t *ModbusTransport) readBit(ctx context.Context, op string, addr uint16, read func(address, quantity uint16) ([]byte, error)) Result[bool] {
	t.mu.Lock()
	defer t.mu.Unlock()

	if perr := t.precheck(ctx, op, addr); perr != nil {
		return Failure[bool](perr)
	}

	results, err := read(addr, 1)
	if err != nil {
		return Failure[bool](t.classify(op, addr, err))
	}
	if len(results) == 0 {
		return Failure[bool](&PointError{Kind: TransportError, Op: op, Addr: addr, Err: ErrShortResponse})
	}

	return Ok(results[0]&0x01 == 1)
}

func (t *ModbusTransport) precheck(ctx context.Context, op string, addr uint16) *PointError {
	if t.closed {
		return &PointError{Kind: TransportError, Op: op, Addr: addr, Err: ErrNotConnected}
	}
	if err := ctx.Err(); err != nil {
		return &PointError{Kind: TransportError, Op: op, Addr: addr, Err: err}
	}

	return nil
}

// classify turns a client error into a PointError. Exception responses are
// protocol errors; anything else closes the connection so the next request redials.
func (t *ModbusTransport) classify(op string, addr uint16, err error) *PointError {
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return &PointError{Kind: ProtocolError, Op: op, Addr: addr, Err: err}
	}

	if cerr := t.handler.Close(); cerr != nil {
		t.log.Debug("close after transport error", "error", cerr)
	}

	return &PointError{Kind: TransportError, Op: op, Addr: addr, Err: err}
}
