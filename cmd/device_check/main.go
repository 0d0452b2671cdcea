package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"voice-dialogue/internal/audio"
	"voice-dialogue/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	micSeconds := flag.Duration("mic", 3*time.Second, "Microphone test duration")
	record := flag.Bool("record", false, "Also record one endpointed utterance and play it back")
	save := flag.String("save", "", "Write the recorded utterance to this WAV file (implies -record)")
	input := flag.String("input", "", "Input device index or name, overrides audio.input_device")
	output := flag.String("output", "", "Output device index or name, overrides audio.output_device")
	volume := flag.Float64("volume", -1, "Playback volume in [0, 1], overrides audio.volume")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			return 1
		}
	}
	if *input != "" {
		cfg.Audio.InputDevice = *input
	}
	if *output != "" {
		cfg.Audio.OutputDevice = *output
	}
	if *save != "" {
		*record = true
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.Level.SlogLevel()}))

	fmt.Println("Audio Device Check")
	fmt.Println("==================")

	pa, err := audio.NewPortAudio(logger)
	if err != nil {
		fmt.Printf("❌ Audio host unavailable: %v\n", err)
		return 1
	}
	defer pa.Close()

	fmt.Println("1. Listing devices...")
	devices, err := pa.Devices()
	if err != nil {
		fmt.Printf("   ✗ %v\n", err)
		return 1
	}
	for _, d := range devices {
		fmt.Printf("   %d. %s (in=%d out=%d, %.0f Hz)", d.Index, d.Name, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
		if d.DefaultInput {
			fmt.Print(" [default input]")
		}
		if d.DefaultOutput {
			fmt.Print(" [default output]")
		}
		fmt.Println()
	}

	if err := pa.SelectDevices(cfg.Audio); err != nil {
		fmt.Printf("   ✗ %v\n", err)
		return 1
	}

	ctx := context.Background()
	recorder := audio.NewRecorder(pa, cfg.Audio, logger)
	player := audio.NewPlayer(pa, cfg.Audio, logger)
	if *volume >= 0 {
		player.SetVolume(*volume)
	}
	failed := false

	fmt.Printf("\n2. Testing microphone for %v, please speak...\n", *micSeconds)
	if recorder.TestMicrophone(ctx, *micSeconds) {
		fmt.Println("   ✓ Speech level detected")
	} else {
		fmt.Println("   ✗ No input above the silence threshold")
		failed = true
	}

	fmt.Println("\n3. Testing speaker (440 Hz)...")
	if player.TestSpeaker(ctx, time.Second, 440) {
		fmt.Println("   ✓ Test tone played")
	} else {
		fmt.Println("   ✗ Playback failed")
		failed = true
	}

	fmt.Printf("\n4. Notification tones (volume %.2f)...\n", player.Volume())
	for _, kind := range []audio.NotificationKind{audio.NotifySuccess, audio.NotifyError, audio.NotifyInfo} {
		ok := player.Notify(ctx, kind)
		if ok {
			player.WaitForCompletion(2 * time.Second)
		}
		fmt.Printf("   %s %s\n", mark(ok), kind)
		time.Sleep(300 * time.Millisecond)
	}
	ok := player.Beep(ctx)
	if ok {
		player.WaitForCompletion(time.Second)
	}
	fmt.Printf("   %s beep\n", mark(ok))

	if *record {
		fmt.Println("\n5. Recording one utterance (stops after silence)...")
		fmt.Printf("   threshold=%.3f silence=%v min=%v max=%v\n", cfg.Audio.SilenceThreshold,
			cfg.Audio.SilenceDuration, cfg.Audio.MinRecordDuration, cfg.Audio.MaxRecordDuration)

		buf, err := recorder.RecordWithEndpointing(ctx, cfg.Audio.MinRecordDuration, cfg.Audio.MaxRecordDuration)
		switch {
		case err != nil:
			fmt.Printf("   ✗ %v\n", err)
			failed = true
		case buf == nil:
			fmt.Println("   ✗ Nothing captured")
			failed = true
		default:
			fmt.Printf("   ✓ Captured %v (kept %v, rms %.4f)\n", buf.Captured, buf.Duration(), audio.RMS(buf.Samples))
			if *save != "" {
				if err := audio.WriteWAV(*save, buf); err != nil {
					fmt.Printf("   ✗ Save failed: %v\n", err)
					failed = true
				} else {
					fmt.Printf("   ✓ Saved to %s\n", *save)
				}
			}
			if !player.PlayBuffer(ctx, buf, true) {
				fmt.Println("   ✗ Playback of the recording failed")
				failed = true
			}
		}
	}

	if failed {
		fmt.Println("\n⚠ Some checks failed")
		return 1
	}
	fmt.Println("\n✅ Audio devices look good")
	return 0
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}
