package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/leandrodaf/midikit/internal/logger"
	"github.com/leandrodaf/midikit/sdk/contracts"
	"github.com/leandrodaf/midikit/sdk/midi"
)

func main() {
	log := logger.NewZapLogger()
	defer log.Sync()

	client, err := midi.NewMIDIClient(
		contracts.WithLogger(log),
		contracts.WithLogLevel(contracts.InfoLevel),
		contracts.WithMIDIEventFilter(contracts.MIDIEventFilter{
			Commands: []contracts.MIDICommand{contracts.NoteOn, contracts.NoteOff},
		}),
	)
	if err != nil {
		log.Error("Failed to initialize MIDI client", log.Field().Error("error", err))
		return
	}
	defer client.Stop()

	ports, err := client.ListPorts(contracts.Input)
	if err != nil || len(ports) == 0 {
		log.Error("No MIDI devices found or error listing devices", log.Field().Error("error", err))
		return
	}
	fmt.Println("Available MIDI devices:", ports)

	in, err := client.OpenInput(0)
	if err != nil {
		log.Error("Failed to open MIDI device", log.Field().Error("error", err))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("Capturing MIDI events... Press Ctrl+C to exit.")
	for {
		m, err := in.Recv(ctx)
		if errors.Is(err, contracts.ErrCancelled) {
			log.Info("Capture stopped", log.Field().Uint64("dropped", in.Dropped()))
			return
		}
		if errors.Is(err, contracts.ErrDeviceUnavailable) {
			log.Warn("MIDI device disconnected", log.Field().Error("error", err))
			return
		}
		if err != nil {
			log.Error("Receive failed", log.Field().Error("error", err))
			return
		}
		log.Info("MIDI Event",
			log.Field().Uint64("Timestamp", m.Timestamp),
			log.Field().String("Message", m.String()),
		)
	}
}
