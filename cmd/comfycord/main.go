// comfycord is a Discord bot that turns slash commands into ComfyUI
// image generation jobs.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/joho/godotenv"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mfreeman451/comfycord/bot"
	"github.com/mfreeman451/comfycord/comfy"
	"github.com/mfreeman451/comfycord/queue"
	"github.com/mfreeman451/comfycord/store"
	"github.com/mfreeman451/comfycord/workflow"
)

var opts struct {
	Token        string        `long:"token" env:"DISCORD_TOKEN" description:"discord bot token"`
	ComfyURL     string        `long:"comfy" env:"COMFYUI_URL" default:"http://localhost:8188" description:"comfyui server url"`
	WorkflowJSON string        `long:"workflow-json" env:"WORKFLOW_JSON" description:"workflow template json, overrides the file"`
	WorkflowFile string        `long:"workflow" env:"WORKFLOW_FILE" default:"workflow.json" description:"workflow template file"`
	DataDir      string        `long:"data" env:"DATA_DIR" default:"." description:"directory for presets and settings"`
	Timeout      time.Duration `long:"timeout" env:"GEN_TIMEOUT" default:"5m" description:"per-generation timeout"`
	Zeabur       bool          `long:"zeabur" env:"ZEABUR" description:"zeabur deployment, block instead of exit on fatal errors"`
	LogFile      string        `long:"log-file" env:"LOG_FILE" description:"log to file with rotation"`
	Dbg          bool          `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Printf("comfycord %s\n", revision)

	_ = godotenv.Load() // optional .env, same env vars as the flags

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs(opts.LogFile, opts.Dbg)

	if opts.Token == "" {
		// on zeabur a crash loop just burns restarts, block and wait
		// for the operator to set the token instead
		log.Printf("[ERROR] DISCORD_TOKEN is not set")
		waitOrExit()
	}

	if err := run(); err != nil {
		log.Printf("[ERROR] %v", err)
		waitOrExit()
	}
}

func run() error {
	tmpl, err := loadTemplate()
	if err != nil {
		return err
	}
	log.Printf("[INFO] workflow template loaded, placeholders: %s", strings.Join(tmpl.Placeholders(), ", "))

	client, err := comfy.NewClient(opts.ComfyURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals(cancel)

	if stats, serr := client.SystemStats(ctx); serr != nil {
		log.Printf("[WARN] comfyui not reachable yet at %s: %v", opts.ComfyURL, serr)
	} else {
		log.Printf("[INFO] comfyui on %s, python %s", stats.System.OS, stats.System.PythonVersion)
		for _, dev := range stats.Devices {
			log.Printf("[INFO] device %s (%s), vram %d/%d MB free", dev.Name, dev.Type, dev.VRAMFree/1024/1024, dev.VRAMTotal/1024/1024)
		}
	}

	samplers := client.Samplers(ctx)
	schedulers := client.Schedulers(ctx)

	st, err := store.New(opts.DataDir)
	if err != nil {
		return err
	}

	q := queue.New(opts.Timeout)
	go q.Run(ctx)

	b, err := bot.New(bot.Params{
		Token:      opts.Token,
		Comfy:      client,
		Store:      st,
		Queue:      q,
		Template:   tmpl,
		Samplers:   samplers,
		Schedulers: schedulers,
		Timeout:    opts.Timeout,
	})
	if err != nil {
		return err
	}
	if err = b.Start(); err != nil {
		return err
	}
	defer b.Stop()

	log.Printf("[INFO] comfycord is up, comfyui at %s, data in %s", opts.ComfyURL, opts.DataDir)
	<-ctx.Done()
	log.Printf("[INFO] shutting down")
	return nil
}

// loadTemplate prefers the inline WORKFLOW_JSON env over the file.
func loadTemplate() (*workflow.Template, error) {
	if opts.WorkflowJSON != "" {
		log.Printf("[INFO] loading workflow template from environment")
		return workflow.Parse([]byte(opts.WorkflowJSON))
	}
	log.Printf("[INFO] loading workflow template from %s", opts.WorkflowFile)
	return workflow.Load(opts.WorkflowFile)
}

func setupLogs(logFile string, dbg bool) {
	logOpts := []log.Option{log.Msec}
	if dbg {
		logOpts = []log.Option{log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile}
	}
	if logFile != "" {
		rotated := &lumberjack.Logger{Filename: logFile, MaxSize: 10, MaxBackups: 5, MaxAge: 30, Compress: true}
		logOpts = append(logOpts, log.Out(io.MultiWriter(os.Stdout, rotated)))
	}
	log.Setup(logOpts...)
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		for sig := range sigChan {
			log.Printf("[INFO] caught signal %v", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
}

// waitOrExit blocks forever on zeabur so the platform doesn't
// crash-loop the container, exits otherwise.
func waitOrExit() {
	if !opts.Zeabur {
		os.Exit(1)
	}
	for {
		time.Sleep(time.Minute)
		log.Printf("[WARN] waiting for configuration fix")
	}
}
