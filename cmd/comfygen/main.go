// comfygen runs a single generation against a ComfyUI server from
// the terminal, without Discord in the loop.
package main

import (
	"context"
	"math/rand"
	"os"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/schollz/progressbar/v3"
	"github.com/umputun/go-flags"

	"github.com/mfreeman451/comfycord/comfy"
	"github.com/mfreeman451/comfycord/workflow"
)

var opts struct {
	ComfyURL     string        `long:"comfy" env:"COMFYUI_URL" default:"http://localhost:8188" description:"comfyui server url"`
	WorkflowFile string        `long:"workflow" env:"WORKFLOW_FILE" default:"workflow.json" description:"workflow template file"`
	Output       string        `short:"o" long:"output" default:"output.png" description:"output image file"`
	Timeout      time.Duration `long:"timeout" default:"5m" description:"generation timeout"`

	Prompt    string  `short:"p" long:"prompt" required:"true" description:"positive prompt"`
	Negative  string  `short:"n" long:"negative" description:"negative prompt"`
	Width     int     `long:"width" default:"512" description:"image width"`
	Height    int     `long:"height" default:"768" description:"image height"`
	Steps     int     `long:"steps" default:"20" description:"sampling steps"`
	CfgScale  float64 `long:"cfg" default:"7.0" description:"cfg scale"`
	Seed      int64   `long:"seed" default:"-1" description:"seed, random when negative"`
	Sampler   string  `long:"sampler" description:"sampler, server default when empty"`
	Scheduler string  `long:"scheduler" description:"scheduler, server default when empty"`
}

func main() {
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	log.Setup(log.Msec)

	client, err := comfy.NewClient(opts.ComfyURL)
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}

	tmpl, err := workflow.Load(opts.WorkflowFile)
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	sampler := opts.Sampler
	if sampler == "" {
		sampler = client.Samplers(ctx)[0]
	}
	scheduler := opts.Scheduler
	if scheduler == "" {
		scheduler = client.Schedulers(ctx)[0]
	}
	seed := opts.Seed
	if seed < 0 {
		seed = rand.Int63n(1 << 31)
	}

	resolved := tmpl.Apply(map[string]interface{}{
		"prompt":       opts.Prompt,
		"imprompt":     opts.Negative,
		"width":        opts.Width,
		"height":       opts.Height,
		"seed":         seed,
		"steps":        opts.Steps,
		"cfg_scale":    opts.CfgScale,
		"sampler_name": sampler,
		"schedule":     scheduler,
	})

	log.Printf("[INFO] generating %dx%d, seed %d, sampler %s/%s", opts.Width, opts.Height, seed, sampler, scheduler)

	var bar *progressbar.ProgressBar
	res, err := client.Generate(ctx, resolved, func(value, max int) {
		if bar == nil {
			bar = progressbar.Default(int64(max), "sampling")
		}
		_ = bar.Set(value)
	})
	if err != nil {
		log.Fatalf("[ERROR] generation failed: %v", err)
	}

	if err = os.WriteFile(opts.Output, res.Image, 0o644); err != nil {
		log.Fatalf("[ERROR] write %s: %v", opts.Output, err)
	}
	log.Printf("[INFO] wrote %s (%.2f KB)", opts.Output, float64(len(res.Image))/1024)
}
