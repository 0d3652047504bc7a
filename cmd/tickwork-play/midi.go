package main

import (
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register the rtmidi driver
)

// openMIDI opens the first output port whose name contains name and returns
// its sender.
func openMIDI(name string) (func(midi.Message) error, func(), error) {
	ports := midi.GetOutPorts()
	for _, port := range ports {
		if !strings.Contains(strings.ToLower(port.String()), strings.ToLower(name)) {
			continue
		}
		send, err := midi.SendTo(port)
		if err != nil {
			return nil, nil, fmt.Errorf("open midi port %q: %w", port, err)
		}
		return send, midi.CloseDriver, nil
	}
	midi.CloseDriver()
	return nil, nil, fmt.Errorf("no midi output port matching %q (have %v)", name, ports)
}
