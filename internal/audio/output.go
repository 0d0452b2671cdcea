package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// paOutput is a blocking PortAudio playback stream.
type paOutput struct {
	stream *portaudio.Stream
	buffer []float32
	log    *slog.Logger

	closeOnce sync.Once
	release   func()
}

func (o *paOutput) Start() error {
	if err := o.stream.Start(); err != nil {
		return fmt.Errorf("%w: start output stream: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

func (o *paOutput) Write(chunk []float32) error {
	n := copy(o.buffer, chunk)
	// Pad a short final chunk with silence.
	for i := n; i < len(o.buffer); i++ {
		o.buffer[i] = 0
	}

	err := o.stream.Write()
	if isPortAudioError(err, portaudio.OutputUnderflowed) {
		o.log.Debug("output underflow")
		return nil
	}
	if err != nil {
		return fmt.Errorf("write output stream: %w", err)
	}
	return nil
}

func (o *paOutput) Stop() error {
	return o.stream.Stop()
}

func (o *paOutput) Close() error {
	var err error
	o.closeOnce.Do(func() {
		err = o.stream.Close()
		o.release()
	})
	return err
}
