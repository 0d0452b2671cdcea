package audio

import (
	"errors"
	"testing"

	"github.com/gordonklaus/portaudio"
)

func testDevices() []*portaudio.DeviceInfo {
	return []*portaudio.DeviceInfo{
		{Name: "Built-in Microphone", MaxInputChannels: 2},
		{Name: "Built-in Output", MaxOutputChannels: 2},
		{Name: "USB Headset", MaxInputChannels: 1, MaxOutputChannels: 2},
		{Name: "USB Speaker", MaxOutputChannels: 2},
	}
}

func TestSelectDevice(t *testing.T) {
	devs := testDevices()
	tests := []struct {
		selector string
		input    bool
		want     string
	}{
		{"0", true, "Built-in Microphone"},
		{"2", false, "USB Headset"},
		{"built-in output", false, "Built-in Output"},
		{"headset", true, "USB Headset"},
		{"Microphone", true, "Built-in Microphone"},
		// only one input-capable device contains "usb"
		{"usb", true, "USB Headset"},
	}
	for _, tt := range tests {
		got, err := selectDevice(devs, tt.selector, tt.input)
		if err != nil {
			t.Errorf("%q (input=%v): unexpected error %v", tt.selector, tt.input, err)
			continue
		}
		if got.Name != tt.want {
			t.Errorf("%q (input=%v): expected %s, got %s", tt.selector, tt.input, tt.want, got.Name)
		}
	}
}

func TestSelectDeviceRejects(t *testing.T) {
	devs := testDevices()
	tests := []struct {
		selector string
		input    bool
	}{
		{"7", true},
		{"-1", false},
		{"1", true},         // output-only device used for capture
		{"usb", false},      // ambiguous
		{"bluetooth", true}, // no match
	}
	for _, tt := range tests {
		if _, err := selectDevice(devs, tt.selector, tt.input); !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("%q (input=%v): expected ErrDeviceNotFound, got %v", tt.selector, tt.input, err)
		}
	}
}
