package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/Feddakalkun/comfyuifeddafront/internal/comfy"
	"github.com/Feddakalkun/comfyuifeddafront/internal/generation"
	"github.com/Feddakalkun/comfyuifeddafront/internal/infra"
	"github.com/Feddakalkun/comfyuifeddafront/internal/slot"
	"github.com/Feddakalkun/comfyuifeddafront/internal/storage"
	"github.com/Feddakalkun/comfyuifeddafront/internal/workflow"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one generation and returns the process exit code: 0 on
// success, 1 when the job fails and 2 for bad flags.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var (
		profileFlag  string
		promptFlag   string
		negativeFlag string
		sizeFlag     string
		stepsFlag    int
		cfgFlag      float64
		seedFlag     int64
		styleFlag    string
		imageFlag    string
		audioFlag    string
		outFlag      string
		resumeFlag   bool
		timeoutFlag  time.Duration
		loras        loraList
	)

	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&profileFlag, "profile", "z-image", "template profile to run (z-image, lipsync or one from PROFILES_FILE)")
	fs.StringVar(&promptFlag, "prompt", "", "positive prompt")
	fs.StringVar(&negativeFlag, "negative", "", "negative prompt (profile default when empty)")
	fs.StringVar(&sizeFlag, "size", "", "output size as WxH, e.g. 832x1216")
	fs.IntVar(&stepsFlag, "steps", 0, "sampler steps (profile default when 0)")
	fs.Float64Var(&cfgFlag, "cfg", 0, "guidance scale (profile default when 0)")
	fs.Int64Var(&seedFlag, "seed", workflow.RandomSeed, "sampler seed, -1 for random")
	fs.StringVar(&styleFlag, "style", "", "style tag")
	fs.StringVar(&imageFlag, "image", "", "input image already uploaded to the engine")
	fs.StringVar(&audioFlag, "audio", "", "input audio already uploaded to the engine")
	fs.StringVar(&outFlag, "out", "", "directory to download artifacts into")
	fs.BoolVar(&resumeFlag, "resume", false, "wait for the last submitted job instead of starting a new one")
	fs.DurationVar(&timeoutFlag, "timeout", 0, "give up after this long (0 waits for the poll budget)")
	fs.Var(&loras, "lora", "LoRA as name[:strength]; repeatable")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	req := workflow.Request{
		Prompt:         promptFlag,
		NegativePrompt: negativeFlag,
		Steps:          stepsFlag,
		CFG:            cfgFlag,
		Seed:           seedFlag,
		LoRAs:          loras,
		Style:          styleFlag,
		Image:          imageFlag,
		Audio:          audioFlag,
	}
	if sizeFlag != "" {
		var err error
		if req.Width, req.Height, err = workflow.ParseDimensions(sizeFlag); err != nil {
			return reportError(stderr, err)
		}
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		return reportError(stderr, err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	if timeoutFlag > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeoutFlag)
		defer cancel()
	}

	profiles := workflow.DefaultProfiles()
	if cfg.ProfilesFile != "" {
		if err := profiles.LoadProfileFile(cfg.ProfilesFile); err != nil {
			return reportError(stderr, err)
		}
	}
	store, err := slot.NewFileStore(cfg.SlotPath, "cli."+profileFlag+".last")
	if err != nil {
		return reportError(stderr, err)
	}

	engine := comfy.NewClient(comfy.Options{
		BaseURL:        cfg.ComfyURL,
		ClientPrefix:   cfg.ClientIDPrefix,
		Logger:         &logger,
		RequestTimeout: cfg.RequestTimeout,
	})
	holder := generation.NewHolder(func(s generation.State) {
		logger.Info().Str("phase", string(s.Phase)).Int("progress", s.Progress).Str("stage", s.Stage).Int("queue", s.QueueRemaining).Msg("generate: state")
	})
	runner, err := generation.NewRunner(generation.Options{
		Page:           "cli",
		DefaultProfile: profileFlag,
		Engine:         engine,
		Channel:        engine.NewChannel(),
		Templates:      workflow.NewDirLoader(cfg.WorkflowDir, &logger),
		Profiles:       profiles,
		Slot:           store,
		Holder:         holder,
		Poll:           generation.PollConfig{Interval: cfg.PollInterval, MaxAttempts: cfg.PollAttempts},
		Logger:         &logger,
	})
	if err != nil {
		return reportError(stderr, err)
	}
	defer runner.Close()

	var res *generation.Result
	if resumeFlag {
		res, err = runner.Resume(ctx)
	} else {
		res, err = runner.Generate(ctx, profileFlag, req)
	}
	if errors.Is(err, generation.ErrNothingToResume) {
		return reportError(stderr, errors.New("no job to resume"))
	}
	if err != nil {
		return reportError(stderr, errors.New(generation.UserMessage(err)))
	}

	fmt.Fprintf(stderr, "job %s finished (seed %d)\n", res.JobID, res.Seed)
	if outFlag == "" {
		for _, u := range res.URLs {
			fmt.Fprintln(stdout, u)
		}
		return 0
	}

	files, err := storage.NewFileStore(outFlag)
	if err != nil {
		return reportError(stderr, err)
	}
	for _, u := range res.URLs {
		f, err := engine.Download(ctx, u)
		if err != nil {
			return reportError(stderr, err)
		}
		written, err := files.Write(ctx, path.Join(res.JobID, f.Name), f.Data)
		if err != nil {
			return reportError(stderr, err)
		}
		fmt.Fprintln(stdout, written)
	}
	return 0
}

func reportError(w io.Writer, err error) int {
	fmt.Fprintf(w, "error: %v\n", strings.TrimSpace(err.Error()))
	return 1
}
