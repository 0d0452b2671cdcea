package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// paInput is a blocking PortAudio capture stream.
type paInput struct {
	stream *portaudio.Stream
	buffer []float32

	closeOnce sync.Once
	release   func()
}

func (i *paInput) Start() error {
	if err := i.stream.Start(); err != nil {
		return fmt.Errorf("%w: start input stream: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

func (i *paInput) Read() ([]float32, error) {
	err := i.stream.Read()
	if err != nil && !isPortAudioError(err, portaudio.InputOverflowed) {
		return nil, fmt.Errorf("read input stream: %w", err)
	}

	// Copy out of the stream buffer.
	data := make([]float32, len(i.buffer))
	copy(data, i.buffer)
	if err != nil {
		return data, ErrOverflow
	}
	return data, nil
}

func (i *paInput) Stop() error {
	return i.stream.Stop()
}

func (i *paInput) Close() error {
	var err error
	i.closeOnce.Do(func() {
		err = i.stream.Close()
		i.release()
	})
	return err
}
