// tutorprobe 是开发用命令行：在不启动服务的情况下检查提示词、模型决策与语音链路。
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/citta/backend/internal/analysis/commands"
	"github.com/zhouzirui/citta/backend/internal/analysis/learner"
	"github.com/zhouzirui/citta/backend/internal/config"
	"github.com/zhouzirui/citta/backend/internal/model/lesson"
	speechmodel "github.com/zhouzirui/citta/backend/internal/model/speech"
	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
	"github.com/zhouzirui/citta/backend/internal/service/ai"
	"github.com/zhouzirui/citta/backend/internal/service/document"
	"github.com/zhouzirui/citta/backend/internal/service/playback"
	"github.com/zhouzirui/citta/backend/internal/service/speech"
	"github.com/zhouzirui/citta/backend/internal/service/voice"
)

type options struct {
	prompt   string
	mode     string
	docPath  string
	audio    string
	text     string
	voice    string
	out      string
	paceMs int
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	probe := flag.String("probe", "", "compose | decide | live | tts | asr")
	timeout := flag.Duration("timeout", 90*time.Second, "请求超时时间")
	var opts options
	flag.StringVar(&opts.prompt, "prompt", "", "学习者的问题或语音转写文本")
	flag.StringVar(&opts.mode, "mode", "R", "学习模式 V/A/R/K")
	flag.StringVar(&opts.docPath, "doc", "", "可选的参考文档 (txt/html/pdf)")
	flag.StringVar(&opts.audio, "audio", "", "ASR 输入的 16kHz 单声道 PCM 文件")
	flag.StringVar(&opts.text, "text", "", "TTS 输入文本")
	flag.StringVar(&opts.voice, "voice", "", "TTS 发音人或模式别名")
	flag.StringVar(&opts.out, "out", "", "TTS 输出文件路径")
	flag.IntVar(&opts.paceMs, "pace", 0, "decide 播放每条指令的等待毫秒数，0 为不等待")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *probe {
	case "compose":
		runCompose(opts)
	case "decide":
		runDecide(ctx, cfg, opts)
	case "live":
		runLive(ctx, cfg, opts)
	case "tts":
		runTTS(ctx, cfg, opts)
	case "asr":
		runASR(ctx, cfg, opts)
	default:
		flag.Usage()
		log.Fatal("请通过 -probe 指定 compose、decide、live、tts 或 asr")
	}
}

func parseMode(raw string) tutoring.Mode {
	mode, err := tutoring.ParseMode(raw)
	if err != nil {
		log.Fatalf("模式无效: %v", err)
	}
	return mode
}

func loadDocument(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("读取文档失败: %v", err)
	}
	text, err := document.Extract("", path, data)
	if err != nil {
		log.Fatalf("提取文档文本失败: %v", err)
	}
	log.Printf("文档 %s 提取到 %d 字符", path, len(text))
	return text
}

func requirePrompt(opts options) {
	if strings.TrimSpace(opts.prompt) == "" {
		log.Fatal("需要通过 -prompt 提供学习者输入")
	}
}

func runCompose(opts options) {
	requirePrompt(opts)
	composer := ai.NewComposer(tutoring.NewMemoryModeStore(tutoring.Seed()))
	fmt.Println(composer.Compose(opts.prompt, parseMode(opts.mode), "", loadDocument(opts.docPath)))
}

func runDecide(ctx context.Context, cfg *config.Config, opts options) {
	requirePrompt(opts)
	mode := parseMode(opts.mode)

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		log.Fatalf("创建模型失败: %v", err)
	}
	svc, err := ai.NewService(ctx, chatModel, tutoring.NewMemoryModeStore(tutoring.Seed()), ai.Config{Timeout: cfg.AI.Timeout, Retry: cfg.AI.Retry})
	if err != nil {
		log.Fatalf("初始化 AI 服务失败: %v", err)
	}

	started := time.Now()
	raw, err := svc.Decide(ctx, ai.DecideRequest{Input: opts.prompt, Mode: mode, DocumentText: loadDocument(opts.docPath)})
	if err != nil {
		log.Fatalf("模型调用失败: %v", err)
	}
	log.Printf("模型返回 %d 字符，耗时 %s", len(raw), time.Since(started).Round(time.Millisecond))

	if !mode.Structured() {
		renderMarkdown(raw)
		return
	}

	cmds, err := commands.Parse(raw)
	if err != nil {
		log.Fatalf("解析指令失败: %v\n原始输出:\n%s", err, raw)
	}
	if err := commands.Validate(mode, cmds); err != nil {
		log.Fatalf("指令校验失败: %v", err)
	}
	if mode == tutoring.ModeKinesthetic {
		if challenge := commands.ExtractChallenge(cmds); challenge != nil {
			log.Printf("拖放练习: %d 个元素, %d 个目标", len(challenge.Elements), len(challenge.DropZones))
		}
	}

	pace := time.Duration(opts.paceMs) * time.Millisecond
	player := playback.NewPlayer(playback.Options{
		DefaultDelay: max(pace, time.Millisecond),
		Sleep: func(ctx context.Context, d time.Duration) error {
			if pace == 0 {
				return nil
			}
			return sleepCtx(ctx, d)
		},
		OnSpeak: func(text string) { fmt.Printf("  🗣  %s\n", text) },
		OnApply: func(index int, cmd lesson.Command, canvas []lesson.Command) {
			if cmd.Kind != lesson.KindSpeak {
				fmt.Printf("  %2d ▸ %-16s %s (canvas=%d)\n", index, cmd.Kind, string(cmd.Payload), len(canvas))
			}
		},
		OnCommit: func(canvas []lesson.Command) error {
			data, _ := json.Marshal(canvas)
			log.Printf("session_end: 提交画布 %d 条 (%d 字节)", len(canvas), len(data))
			return nil
		},
	})
	if err := player.Enqueue(cmds); err != nil {
		log.Fatalf("播放队列无效: %v", err)
	}
	if err := player.Run(ctx); err != nil {
		log.Fatalf("播放失败: %v", err)
	}
}

func runLive(ctx context.Context, cfg *config.Config, opts options) {
	requirePrompt(opts)

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		log.Printf("创建模型失败，使用兜底回复: %v", err)
		chatModel = nil
	}
	agent, err := voice.NewAgent(ctx, chatModel, voice.Config{Timeout: cfg.AI.Timeout})
	if err != nil {
		log.Fatalf("初始化语音决策失败: %v", err)
	}

	decision := agent.Decide(ctx, voice.LiveInput{Transcript: opts.prompt, DocumentText: loadDocument(opts.docPath)})
	signal := learner.Analyze(opts.prompt)
	log.Printf("学习状态: %s (score=%d)", signal.Label, signal.Score)
	fmt.Printf("verbalResponse: %s\n", decision.VerbalResponse)
	if decision.TriggerVisualization {
		fmt.Printf("visualizationPrompt: %s\n", decision.VisualizationPrompt)
	}
}

func newSpeech(cfg *config.Config) *speech.Service {
	if !cfg.Speech.Enabled {
		log.Fatal("语音服务未启用，请先在环境变量中配置 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN")
	}
	return speech.NewService(&speechmodel.SpeechConfig{
		AppID:          cfg.Speech.AppID,
		AccessToken:    cfg.Speech.AccessToken,
		APIKey:         cfg.Speech.APIKey,
		ConcurrentMode: cfg.Speech.ConcurrentMode,
		ASRLanguage:    cfg.Speech.ASRLanguage,
		ASREndWindow:   cfg.Speech.ASREndWindow,
		TTSVoice:       cfg.Speech.TTSVoice,
		TTSSpeed:       cfg.Speech.TTSSpeed,
		TTSVolume:      cfg.Speech.TTSVolume,
		TTSLanguage:    cfg.Speech.TTSLanguage,
		TTSFormat:      cfg.Speech.TTSFormat,
		Timeout:        cfg.Speech.Timeout,
	})
}

func runTTS(ctx context.Context, cfg *config.Config, opts options) {
	if strings.TrimSpace(opts.text) == "" {
		log.Fatal("TTS 需要通过 -text 提供待合成文本")
	}
	svc := newSpeech(cfg)

	req := &speechmodel.TTSRequest{
		SessionID: fmt.Sprintf("probe-%d", time.Now().UnixNano()),
		Text:      opts.text,
		Voice:     speech.NormalizeVoiceAlias(opts.voice),
		Emotion:   speech.ToneFor(speech.NormalizeVoiceAlias(opts.voice), learner.Analyze(opts.text)),
	}
	resp, err := svc.Synthesize(ctx, req)
	if err != nil {
		log.Fatalf("TTS 调用失败: %v", err)
	}

	out := opts.out
	if out == "" {
		out = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), resp.Format)
	}
	if err := os.WriteFile(out, resp.AudioData, 0o644); err != nil {
		log.Fatalf("写入音频文件失败: %v", err)
	}
	log.Printf("TTS 合成成功: 输出文件 %s, 时长=%dms, requestId=%s", out, resp.Duration, resp.RequestID)
}

func runASR(ctx context.Context, cfg *config.Config, opts options) {
	if opts.audio == "" {
		log.Fatal("ASR 需要通过 -audio 指定 PCM 文件")
	}
	file, err := os.Open(opts.audio)
	if err != nil {
		log.Fatalf("打开音频文件失败: %v", err)
	}
	defer file.Close()

	svc := newSpeech(cfg)
	defer svc.Cleanup()

	stream, err := svc.OpenStream(ctx, speechmodel.StreamRequest{
		ConnectID:  fmt.Sprintf("probe-%d", time.Now().UnixNano()),
		Format:     "pcm",
		SampleRate: 16000,
		Language:   cfg.Speech.ASRLanguage,
	})
	if err != nil {
		log.Fatalf("打开识别流失败: %v", err)
	}
	defer stream.Cancel()

	go func() {
		// 按 100ms 一段模拟实时推流
		buf := make([]byte, 3200)
		for {
			n, err := file.Read(buf)
			if n > 0 {
				if werr := stream.Write(append([]byte(nil), buf[:n]...)); werr != nil {
					log.Printf("写入音频失败: %v", werr)
					return
				}
				time.Sleep(100 * time.Millisecond)
			}
			if err == io.EOF {
				if ferr := stream.Finish(); ferr != nil {
					log.Printf("结束音频失败: %v", ferr)
				}
				return
			}
			if err != nil {
				log.Printf("读取音频失败: %v", err)
				return
			}
		}
	}()

	for result := range stream.Results() {
		tag := "…"
		if result.IsFinal {
			tag = "✔"
		}
		fmt.Printf("%s %s\n", tag, result.Text)
	}
	if err := stream.Err(); err != nil {
		log.Fatalf("识别失败: %v", err)
	}
}

func renderMarkdown(text string) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Println(text)
		return
	}
	out, err := renderer.Render(text)
	if err != nil {
		fmt.Println(text)
		return
	}
	fmt.Print(out)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
