//go:build tinygo

//go:generate tinygo flash -target=feather-m0

package main

import (
	"errors"
	"machine"
	"time"

	"github.com/itohio/garden/pkg/bridge/wire"
	"github.com/itohio/garden/pkg/protocol"
	"github.com/itohio/garden/pkg/radio"
	"github.com/itohio/garden/pkg/sx127x"
)

var (
	serial = machine.Serial
	dev    *sx127x.Device

	// Serial buffer for reading lines
	lineBuffer [LINE_BUFFER]byte
	linePos    int
	overflow   bool

	frame [protocol.MaxFrameSize]byte
	out   []byte

	errTimeout = errors.New("transmit timeout")
)

func main() {
	serial.Configure(machine.UARTConfig{BaudRate: UART_BAUD_RATE})
	PIN_RADIO_CS.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_RADIO_RST.Configure(machine.PinConfig{Mode: machine.PinOutput})
	machine.LED.Configure(machine.PinConfig{Mode: machine.PinOutput})

	if err := machine.SPI0.Configure(machine.SPIConfig{Frequency: SPI_FREQUENCY, Mode: 0}); err != nil {
		fatal(err)
	}
	dev = sx127x.New(machine.SPI0, PIN_RADIO_CS, PIN_RADIO_RST)
	if err := dev.Reset(); err != nil {
		fatal(err)
	}
	if err := dev.Configure(radio.DefaultConfig()); err != nil {
		fatal(err)
	}
	if err := dev.StartReceive(); err != nil {
		fatal(err)
	}

	for {
		processSerial()
		processRadio()
		time.Sleep(time.Millisecond)
	}
}

func processRadio() {
	ok, err := dev.CheckReceive()
	if err != nil {
		reply(wire.Err(err.Error()))
		return
	}
	if !ok {
		return
	}
	n, err := dev.Received(frame[:])
	if err != nil {
		reply(wire.Err(err.Error()))
		return
	}
	rssi, snr := dev.Packet()
	reply(wire.RX(int(rssi), snr, frame[:n]))
}

func processSerial() {
	for serial.Buffered() > 0 {
		data, err := serial.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if linePos > 0 && !overflow {
				handleLine(string(lineBuffer[:linePos]))
			}
			linePos = 0
			overflow = false
			continue
		}

		if linePos == len(lineBuffer) {
			overflow = true
			continue
		}
		lineBuffer[linePos] = data
		linePos++
	}
}

func handleLine(s string) {
	line, err := wire.Parse(s)
	if err != nil {
		reply(wire.Err(err.Error()))
		return
	}
	if line.Kind != wire.KindTX {
		reply(wire.Err("unexpected " + line.Kind.String()))
		return
	}
	if err := transmit(line.Frame); err != nil {
		reply(wire.Err(err.Error()))
	} else {
		reply(wire.OK())
	}
	if err := dev.StartReceive(); err != nil {
		reply(wire.Err(err.Error()))
	}
}

func transmit(f []byte) error {
	machine.LED.High()
	defer machine.LED.Low()

	if err := dev.StartTransmit(f); err != nil {
		return err
	}
	deadline := time.Now().Add(TX_TIMEOUT * time.Millisecond)
	for time.Now().Before(deadline) {
		done, err := dev.TransmitDone()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return errTimeout
}

func reply(l wire.Line) {
	out = l.Append(out[:0])
	serial.Write(out)
}

func fatal(err error) {
	for {
		reply(wire.Err(err.Error()))
		machine.LED.High()
		time.Sleep(100 * time.Millisecond)
		machine.LED.Low()
		time.Sleep(900 * time.Millisecond)
	}
}
