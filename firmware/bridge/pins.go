//go:build tinygo

package main

import "machine"

const (
	// RFM95 on the Feather M0 LoRa
	PIN_RADIO_CS  = machine.D8
	PIN_RADIO_RST = machine.D4

	SPI_FREQUENCY = 8_000_000

	// Must match bridge.DefaultBaudRate on the host.
	UART_BAUD_RATE = 115200

	// Longest line: "RX,-137,-20.0," plus 255 frame bytes in hex.
	LINE_BUFFER = 600

	TX_TIMEOUT = 2000 // ms
)
