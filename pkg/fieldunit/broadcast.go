package fieldunit

import (
	"log"

	"github.com/itohio/garden/pkg/protocol"
)

// transmit runs one broadcast cycle: send the frame, open a listen window
// for commands, reinitialise the radio and hold a short gap before the next
// frame.
func (a *App) transmit(msg protocol.Message) {
	frame, err := protocol.AppendMessage(a.buf[:0], protocol.Transmission[protocol.Message]{
		Src: a.cfg.Address,
		Msg: msg,
	})
	if err != nil {
		log.Printf("Failed to encode %T: %v", msg, err)
		return
	}

	a.setLED(true)
	if err := a.hw.Radio.StartTransmit(frame); err != nil {
		log.Printf("Failed to transmit %T: %v", msg, err)
	} else {
		a.waitTransmit()
	}
	a.setLED(false)

	a.listen()

	if err := a.hw.Radio.Reset(); err != nil {
		log.Printf("Failed to reset radio: %v", err)
	}
	if err := a.hw.Radio.Configure(a.cfg.Radio); err != nil {
		log.Printf("Failed to reconfigure radio: %v", err)
	}

	a.setLED(true)
	a.s.Delay(a.cfg.FrameGap)
	a.setLED(false)
}

func (a *App) waitTransmit() {
	deadline := a.s.Now().Add(a.cfg.TransmitTimeout)
	for {
		done, err := a.hw.Radio.TransmitDone()
		if err != nil {
			log.Printf("Transmit failed: %v", err)
			return
		}
		if done {
			return
		}
		if a.s.Now().After(deadline) {
			log.Printf("Transmit did not complete within %v", a.cfg.TransmitTimeout)
			return
		}
		a.s.Delay(a.cfg.PollDelay)
	}
}

// listen polls for commands from the base station for ListenSlots slots.
// Commands are queued for handling after the broadcast cycle.
func (a *App) listen() {
	if err := a.hw.Radio.StartReceive(); err != nil {
		log.Printf("Failed to start receive: %v", err)
		return
	}
	for range a.cfg.ListenSlots {
		ready, err := a.hw.Radio.CheckReceive()
		if err != nil {
			log.Printf("Receive failed: %v", err)
			return
		}
		if ready {
			a.receive()
		}
		a.s.Delay(a.cfg.PollDelay)
	}
}

func (a *App) receive() {
	n, err := a.hw.Radio.Received(a.buf[:])
	if err != nil {
		log.Printf("Failed to read frame: %v", err)
		return
	}
	cmd, err := protocol.UnmarshalCommand(a.buf[:n])
	if err != nil {
		log.Printf("Ignoring undecodable frame: %v", err)
		return
	}
	if cmd.Src != a.cfg.BaseAddress {
		log.Printf("Ignoring %T from unknown sender %d", cmd.Msg, cmd.Src)
		return
	}
	if err := a.handle.Spawn(cmd.Msg); err != nil {
		log.Printf("Dropping %T: %v", cmd.Msg, err)
	}
}
