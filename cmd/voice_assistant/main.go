package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"voice-dialogue/internal/asr"
	"voice-dialogue/internal/audio"
	"voice-dialogue/internal/config"
	"voice-dialogue/internal/conversation"
	"voice-dialogue/internal/llm"
	"voice-dialogue/internal/state"
	"voice-dialogue/internal/tts"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	listOnly := flag.Bool("list-devices", false, "List audio devices and exit")
	checkDevices := flag.Bool("check-devices", false, "Test microphone and speaker before starting")
	remote := flag.String("tts-service", "", "Synthesize through the job service at this URL")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if *remote != "" {
		cfg.TTS.Mode = config.SynthesisRemote
		cfg.TTS.ServiceURL = *remote
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.Level.SlogLevel()}))
	slog.SetDefault(logger)

	pa, err := audio.NewPortAudio(logger)
	if err != nil {
		logger.Error("Failed to initialize audio", "error", err)
		return 1
	}
	defer pa.Close()

	if *listOnly {
		return listDevices(pa)
	}
	if err := pa.SelectDevices(cfg.Audio); err != nil {
		logger.Error("Failed to select audio device", "error", err)
		return 1
	}

	if cfg.OpenAI.APIKey == "" {
		fmt.Println("❌ OPENAI_API_KEY environment variable not set")
		fmt.Println("export OPENAI_API_KEY='your-api-key-here'")
		return 1
	}
	if err := os.MkdirAll(cfg.TTS.OutputDir, 0755); err != nil {
		logger.Error("Failed to create output directory", "dir", cfg.TTS.OutputDir, "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	synth, err := newSynthesizer(ctx, cfg, logger)
	if err != nil {
		logger.Error("Speech synthesis unavailable", "error", err)
		return 1
	}

	recorder := audio.NewRecorder(pa, cfg.Audio, logger)
	player := audio.NewPlayer(pa, cfg.Audio, logger)
	if *checkDevices {
		selfTest(ctx, recorder, player)
	}

	orch := conversation.New(conversation.Deps{
		Capturer:    recorder,
		Speaker:     player,
		Recognizer:  asr.NewOpenAIRecognizer(cfg.OpenAI, logger),
		Generator:   llm.NewOpenAIGenerator(cfg.OpenAI, cfg.Conversation.SystemPrompt, logger),
		Synthesizer: synth,
	}, cfg.Conversation, cfg.Audio, conversation.WithLogger(logger))

	orch.Subscribe(conversation.ListenerFunc(printEvent))
	orch.States().Subscribe(state.ListenerFunc(func(c state.Change) {
		switch c.To {
		case state.Recording:
			fmt.Println("🎤 正在聆听...")
		case state.Transcribing:
			fmt.Println("🔄 正在识别...")
		case state.Speaking:
			fmt.Println("🔊 正在播放...")
		}
	}))

	fmt.Println("=== 语音助手已就绪，您可以开始对话 (Ctrl+C 退出) ===")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("\n收到停止信号，正在关闭...")
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("Conversation ended with error", "error", err)
		return 1
	}
	fmt.Println("👋 语音助手已停止")
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	config.ApplyEnv(cfg)
	return cfg, config.Validate(cfg)
}

// newSynthesizer picks the in-process or the remote backend. A remote
// service must answer its health check before the conversation starts.
func newSynthesizer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (tts.Synthesizer, error) {
	if cfg.TTS.Mode != config.SynthesisRemote {
		return tts.NewOpenAISynthesizer(cfg.OpenAI, cfg.TTS.Format, cfg.TTS.OutputDir, logger), nil
	}

	client := tts.NewServiceClient(cfg.TTS, logger)
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	health, err := client.Health(hctx)
	if err != nil {
		return nil, fmt.Errorf("tts service at %s: %w", cfg.TTS.ServiceURL, err)
	}
	logger.Info("Using remote synthesis", "url", cfg.TTS.ServiceURL, "status", health.Status, "jobs", health.Jobs)
	return client, nil
}

func printEvent(e conversation.Event) {
	switch e.Kind {
	case conversation.EventUtterance:
		fmt.Printf("👤 用户: %s\n", e.Text)
	case conversation.EventReply:
		fmt.Printf("🤖 助手: %s\n", e.Text)
	case conversation.EventHint:
		fmt.Printf("💡 %s\n", e.Text)
	case conversation.EventRecovered:
		fmt.Printf("⚠️  第 %d 轮出错，已恢复: %v\n", e.Turn, e.Err)
	}
}

// selfTest checks the microphone and the speaker. Failures are reported but
// do not prevent the conversation from starting.
func selfTest(ctx context.Context, recorder *audio.Recorder, player *audio.Player) {
	fmt.Println("🔧 测试麦克风，请说话...")
	if recorder.TestMicrophone(ctx, 2*time.Second) {
		fmt.Println("   ✓ 麦克风正常")
	} else {
		fmt.Println("   ✗ 没有检测到声音")
	}
	fmt.Println("🔧 测试扬声器...")
	if player.TestSpeaker(ctx, time.Second, 440) {
		fmt.Println("   ✓ 扬声器正常")
	} else {
		fmt.Println("   ✗ 播放失败")
	}
}

func listDevices(pa *audio.PortAudio) int {
	devices, err := pa.Devices()
	if err != nil {
		fmt.Printf("❌ Failed to list devices: %v\n", err)
		return 1
	}
	fmt.Printf("Found %d audio devices:\n", len(devices))
	for _, d := range devices {
		marker := "  "
		if d.DefaultInput || d.DefaultOutput {
			marker = "* "
		}
		fmt.Printf("%s%d. %s [%s] in=%d out=%d rate=%.0f\n",
			marker, d.Index, d.Name, d.HostAPI, d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
	}
	fmt.Println("Select a device with audio.input_device / audio.output_device (index or name).")
	return 0
}
