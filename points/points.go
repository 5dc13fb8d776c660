// Package points holds the Modbus point map shared by the gateway and its clients.
package points

const (
	// UpperSensorInput is the discrete input reporting the upper level sensor.
	UpperSensorInput uint16 = 0
	// LowerSensorInput is the discrete input reporting the lower level sensor.
	LowerSensorInput uint16 = 1
	// DiscreteInputCount is the number of discrete inputs served.
	DiscreteInputCount = 2

	// PumpCoil is the coil commanding the pump.
	PumpCoil uint16 = 0
	// CoilCount is the number of coils served.
	CoilCount = 1

	// CounterRegister is the first liveness-counter holding register.
	CounterRegister uint16 = 0
	// HoldingRegisterCount is the number of holding registers served.
	HoldingRegisterCount = 6

	// DefaultPort is the non-privileged port the gateway listens on (Modbus TCP is 502).
	DefaultPort = 5020
)
