//go:build tinygo

package main

import "machine"

const (
	// Actuators
	PIN_PUMP  = machine.D11
	PIN_VALVE = machine.D10

	// Moisture probe: oscillator output and channel select lines
	PIN_MOISTURE = machine.A0
	PIN_SEL_A1   = machine.A1
	PIN_SEL_A2   = machine.A2
	PIN_SEL_A3   = machine.A3

	// RFM95 on the Feather M0 LoRa
	PIN_RADIO_CS  = machine.D8
	PIN_RADIO_RST = machine.D4
	PIN_RADIO_IRQ = machine.D3

	SPI_FREQUENCY = 8_000_000
	I2C_FREQUENCY = 400_000

	WATCHDOG_TIMEOUT_MS = 2000
)
