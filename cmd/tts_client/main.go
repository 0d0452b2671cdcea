package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"voice-dialogue/internal/audio"
	"voice-dialogue/internal/config"
	"voice-dialogue/internal/tts"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	serviceURL := flag.String("url", "", "Synthesis service URL, overrides tts.service_url")
	reference := flag.String("ref", "", "Reference audio for voice cloning backends")
	play := flag.Bool("play", false, "Play each result on the default output device")
	keep := flag.Bool("keep", true, "Keep the downloaded audio files")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			return 1
		}
	}
	config.ApplyEnv(cfg)
	if *serviceURL != "" {
		cfg.TTS.ServiceURL = *serviceURL
	}
	if cfg.TTS.ServiceURL == "" {
		fmt.Println("❌ No service URL, use -url or TTS_SERVICE_URL")
		return 1
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.Level.SlogLevel()}))

	texts := flag.Args()
	if len(texts) == 0 {
		texts = []string{
			"你好，我是你的语音助手。",
			"**今天**天气很好，适合出门散步。",
			"Hello, this is a voice test.",
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := tts.NewServiceClient(cfg.TTS, logger)

	fmt.Println("TTS Service Client")
	fmt.Println("==================")
	fmt.Println("1. Checking service health...")
	health, err := client.Health(ctx)
	if err != nil {
		fmt.Printf("   ✗ %v\n", err)
		return 1
	}
	fmt.Printf("   ✓ Service is %s, %d jobs tracked\n", health.Status, health.Jobs)
	for k, v := range health.Backend {
		fmt.Printf("   ✓ %s: %v\n", k, v)
	}

	var player *audio.Player
	if *play {
		pa, err := audio.NewPortAudio(logger)
		if err != nil {
			fmt.Printf("   ⚠ Audio output not available: %v\n", err)
		} else {
			defer pa.Close()
			if err := pa.SetOutputDevice(cfg.Audio.OutputDevice); err != nil {
				fmt.Printf("   ⚠ %v, using the default output\n", err)
			}
			player = audio.NewPlayer(pa, cfg.Audio, logger)
		}
	}

	fmt.Println("\n2. Synthesizing...")
	failures := 0
	for i, text := range texts {
		prepared := tts.PreprocessText(text, tts.DefaultMaxChars)
		fmt.Printf("   Text %d: %s\n", i+1, prepared)

		start := time.Now()
		path, err := client.Synthesize(ctx, prepared, *reference)
		if err != nil {
			fmt.Printf("   ✗ Synthesis failed: %v\n", err)
			failures++
			if ctx.Err() != nil {
				break
			}
			continue
		}
		fmt.Printf("   ✓ %s in %v\n", path, time.Since(start).Round(time.Millisecond))

		if player != nil && !player.PlayFile(ctx, path, true) {
			fmt.Println("   ✗ Playback failed")
		}
		if !*keep {
			os.Remove(path)
		}
	}

	if failures > 0 {
		fmt.Printf("\n⚠ %d of %d texts failed\n", failures, len(texts))
		return 1
	}
	fmt.Printf("\n✅ Synthesized %d texts (%s)\n", len(texts), strings.ToUpper(cfg.TTS.Format))
	return 0
}
