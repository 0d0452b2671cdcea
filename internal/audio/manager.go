package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"voice-dialogue/internal/config"
)

// hostRefs reference-counts the PortAudio library, which is process global.
var hostRefs struct {
	mu   sync.Mutex
	refs int
}

func acquireHost() error {
	hostRefs.mu.Lock()
	defer hostRefs.mu.Unlock()

	if hostRefs.refs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize PortAudio: %w", err)
		}
	}
	hostRefs.refs++
	return nil
}

func releaseHost() error {
	hostRefs.mu.Lock()
	defer hostRefs.mu.Unlock()

	if hostRefs.refs == 0 {
		return nil
	}
	hostRefs.refs--
	if hostRefs.refs == 0 {
		if err := portaudio.Terminate(); err != nil {
			return fmt.Errorf("failed to terminate PortAudio: %w", err)
		}
	}
	return nil
}

// PortAudio is the host input and output device pair, the system defaults
// unless another device was selected. Each direction can be held by one
// stream at a time.
type PortAudio struct {
	log *slog.Logger

	mu         sync.Mutex
	input      *portaudio.DeviceInfo
	output     *portaudio.DeviceInfo
	inputHeld  bool
	outputHeld bool
	closed     bool
}

var (
	_ InputDevice  = (*PortAudio)(nil)
	_ OutputDevice = (*PortAudio)(nil)
)

// NewPortAudio initializes the host library. Close must be called to release
// it.
func NewPortAudio(log *slog.Logger) (*PortAudio, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := acquireHost(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return &PortAudio{log: log.With("component", "portaudio")}, nil
}

// Close releases the host library reference.
func (p *PortAudio) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return releaseHost()
}

func (p *PortAudio) hold(input bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("%w: host closed", ErrDeviceUnavailable)
	}
	held := &p.outputHeld
	if input {
		held = &p.inputHeld
	}
	if *held {
		return ErrBusy
	}
	*held = true
	return nil
}

func (p *PortAudio) unhold(input bool) {
	p.mu.Lock()
	if input {
		p.inputHeld = false
	} else {
		p.outputHeld = false
	}
	p.mu.Unlock()
}

// SetInputDevice selects the capture device by its index in Devices or by
// name. An empty selector restores the system default. Streams already open
// are not affected.
func (p *PortAudio) SetInputDevice(selector string) error {
	dev, err := p.resolve(selector, true)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.input = dev
	p.mu.Unlock()
	return nil
}

// SelectDevices applies the input_device and output_device settings of cfg.
func (p *PortAudio) SelectDevices(cfg config.AudioConfig) error {
	return errors.Join(p.SetInputDevice(cfg.InputDevice), p.SetOutputDevice(cfg.OutputDevice))
}

// SetOutputDevice selects the playback device the same way.
func (p *PortAudio) SetOutputDevice(selector string) error {
	dev, err := p.resolve(selector, false)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.output = dev
	p.mu.Unlock()
	return nil
}

func (p *PortAudio) resolve(selector string, input bool) (*portaudio.DeviceInfo, error) {
	if selector == "" {
		return nil, nil
	}
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	dev, err := selectDevice(devs, selector, input)
	if err != nil {
		return nil, err
	}
	p.log.Info("audio device selected", "device", dev.Name, "input", input)
	return dev, nil
}

// selectDevice finds the device named by selector: an index, an exact name
// (case-insensitive) or a substring matching exactly one capable device.
func selectDevice(devs []*portaudio.DeviceInfo, selector string, input bool) (*portaudio.DeviceInfo, error) {
	capable := func(d *portaudio.DeviceInfo) bool {
		if input {
			return d.MaxInputChannels > 0
		}
		return d.MaxOutputChannels > 0
	}

	if i, err := strconv.Atoi(selector); err == nil {
		if i < 0 || i >= len(devs) || !capable(devs[i]) {
			return nil, fmt.Errorf("%w: index %d", ErrDeviceNotFound, i)
		}
		return devs[i], nil
	}

	want := strings.ToLower(selector)
	var partial []*portaudio.DeviceInfo
	for _, d := range devs {
		if !capable(d) {
			continue
		}
		name := strings.ToLower(d.Name)
		if name == want {
			return d, nil
		}
		if strings.Contains(name, want) {
			partial = append(partial, d)
		}
	}
	switch len(partial) {
	case 0:
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, selector)
	case 1:
		return partial[0], nil
	default:
		return nil, fmt.Errorf("%w: %q matches %d devices", ErrDeviceNotFound, selector, len(partial))
	}
}

// OpenInput opens the selected capture device as a blocking stream.
func (p *PortAudio) OpenInput(params StreamParams) (InputStream, error) {
	if err := p.hold(true); err != nil {
		return nil, err
	}
	p.mu.Lock()
	dev := p.input
	p.mu.Unlock()

	in := &paInput{
		buffer:  make([]float32, params.ChunkSamples()),
		release: func() { p.unhold(true) },
	}
	stream, err := openStream(dev, true, params, in.buffer)
	if err != nil {
		p.unhold(true)
		return nil, fmt.Errorf("%w: open input stream: %v", ErrDeviceUnavailable, err)
	}
	in.stream = stream
	return in, nil
}

// OpenOutput opens the selected playback device as a blocking stream.
func (p *PortAudio) OpenOutput(params StreamParams) (OutputStream, error) {
	if err := p.hold(false); err != nil {
		return nil, err
	}
	p.mu.Lock()
	dev := p.output
	p.mu.Unlock()

	out := &paOutput{
		buffer:  make([]float32, params.ChunkSamples()),
		release: func() { p.unhold(false) },
		log:     p.log,
	}
	stream, err := openStream(dev, false, params, out.buffer)
	if err != nil {
		p.unhold(false)
		return nil, fmt.Errorf("%w: open output stream: %v", ErrDeviceUnavailable, err)
	}
	out.stream = stream
	return out, nil
}

// openStream opens a one-directional stream on dev, or on the default device
// when dev is nil.
func openStream(dev *portaudio.DeviceInfo, input bool, params StreamParams, buffer []float32) (*portaudio.Stream, error) {
	rate := float64(params.SampleRate)
	if dev == nil {
		if input {
			return portaudio.OpenDefaultStream(params.Channels, 0, rate, params.FramesPerBuffer, buffer)
		}
		return portaudio.OpenDefaultStream(0, params.Channels, rate, params.FramesPerBuffer, buffer)
	}

	sp := portaudio.StreamParameters{SampleRate: rate, FramesPerBuffer: params.FramesPerBuffer}
	if input {
		sp.Input = portaudio.StreamDeviceParameters{Device: dev, Channels: params.Channels, Latency: dev.DefaultLowInputLatency}
	} else {
		sp.Output = portaudio.StreamDeviceParameters{Device: dev, Channels: params.Channels, Latency: dev.DefaultLowOutputLatency}
	}
	return portaudio.OpenStream(sp, buffer)
}

// DeviceInfo summarizes one host audio device.
type DeviceInfo struct {
	// Index is the selector accepted by SetInputDevice and SetOutputDevice.
	Index             int
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	DefaultInput      bool
	DefaultOutput     bool
}

// Devices lists the devices the host library can see.
func (p *PortAudio) Devices() ([]DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	var defIn, defOut string
	if d, err := portaudio.DefaultInputDevice(); err == nil {
		defIn = d.Name
	} else {
		p.log.Warn("no default input device", "error", err)
	}
	if d, err := portaudio.DefaultOutputDevice(); err == nil {
		defOut = d.Name
	} else {
		p.log.Warn("no default output device", "error", err)
	}

	out := make([]DeviceInfo, 0, len(devs))
	for i, d := range devs {
		info := DeviceInfo{
			Index:             i,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			DefaultInput:      d.Name == defIn,
			DefaultOutput:     d.Name == defOut,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}

func isPortAudioError(err error, want portaudio.Error) bool {
	var pe portaudio.Error
	return errors.As(err, &pe) && pe == want
}
