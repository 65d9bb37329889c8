package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/bwmarrin/discordgo"
	log "github.com/go-pkgz/lgr"
	"github.com/google/uuid"

	"github.com/mfreeman451/comfycord/queue"
)

// genParams is a fully-specified generation request. seed -1 means
// pick a random one at generation time.
type genParams struct {
	prompt    string
	negative  string
	width     int
	height    int
	steps     int
	cfg       float64
	seed      int64
	sampler   string
	scheduler string
}

// workflowParams maps the request onto the template's placeholder
// names (workflow token names are part of the template contract).
func (p genParams) workflowParams(seed int64) map[string]interface{} {
	return map[string]interface{}{
		"prompt":       p.prompt,
		"imprompt":     p.negative,
		"width":        p.width,
		"height":       p.height,
		"seed":         seed,
		"steps":        p.steps,
		"cfg_scale":    p.cfg,
		"sampler_name": p.sampler,
		"schedule":     p.scheduler,
	}
}

// enqueueGeneration acknowledges the interaction, adds a job to the
// queue and reports its position. The job resolves the template, runs
// the generation and delivers the result as a followup to the
// originating interaction.
func (b *Bot) enqueueGeneration(s *discordgo.Session, i *discordgo.InteractionCreate, user *discordgo.User, p genParams) {
	interaction := i.Interaction

	// the interaction must be acknowledged before the worker can
	// possibly post a followup for a fast job
	err := s.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		log.Printf("[WARN] can't acknowledge interaction: %v", err)
		return
	}

	job := &queue.Job{
		ID:       uuid.New().String(),
		UserID:   user.ID,
		UserName: user.String(),
		Width:    p.width,
		Height:   p.height,
		Do: func(ctx context.Context) error {
			seed := p.seed
			if seed < 0 {
				seed = rand.Int63n(1 << 31)
			}

			resolved := b.tmpl.Apply(p.workflowParams(seed))
			res, err := b.comfy.Generate(ctx, resolved, nil)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					b.interruptStalled()
				}
				b.sendFailure(s, interaction, err)
				return err
			}

			b.sendResult(s, interaction, p, seed, res.Image)
			return nil
		},
	}

	// remember the last-used parameters for this user
	if err := b.store.SaveSettings(user.ID, b.settingsFromParams(user.ID, p)); err != nil {
		log.Printf("[WARN] save settings for %s: %v", user.String(), err)
	}

	pos := b.queue.Enqueue(job)
	content := fmt.Sprintf("Your request is queued at position %d.", pos)
	if _, err := s.InteractionResponseEdit(interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
		log.Printf("[WARN] can't report queue position: %v", err)
	}
}

// interruptStalled tells ComfyUI to drop the execution a timed-out
// job left behind, so it doesn't keep the GPU busy into the next job.
func (b *Bot) interruptStalled() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.comfy.Interrupt(ctx); err != nil {
		log.Printf("[WARN] can't interrupt stalled execution: %v", err)
	}
}

func (b *Bot) sendResult(s *discordgo.Session, interaction *discordgo.Interaction, p genParams, seed int64, image []byte) {
	embed := &discordgo.MessageEmbed{
		Title: "Generation complete",
		Color: colorGreen,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Seed", Value: fmt.Sprintf("%d", seed), Inline: true},
			{Name: "Size", Value: fmt.Sprintf("%dx%d", p.width, p.height), Inline: true},
			{Name: "Steps", Value: fmt.Sprintf("%d", p.steps), Inline: true},
			{Name: "CFG", Value: fmt.Sprintf("%g", p.cfg), Inline: true},
			{Name: "Sampler", Value: p.sampler, Inline: true},
			{Name: "Scheduler", Value: p.scheduler, Inline: true},
		},
	}

	_, err := s.FollowupMessageCreate(interaction, false, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
		Files: []*discordgo.File{{
			Name:        fmt.Sprintf("comfyui_%d.png", seed),
			ContentType: "image/png",
			Reader:      bytes.NewReader(image),
		}},
	})
	if err != nil {
		log.Printf("[WARN] can't deliver result: %v", err)
	}
}

func (b *Bot) sendFailure(s *discordgo.Session, interaction *discordgo.Interaction, genErr error) {
	embed := &discordgo.MessageEmbed{
		Title:       "Generation failed",
		Description: genErr.Error(),
		Color:       colorRed,
	}
	if errors.Is(genErr, context.DeadlineExceeded) {
		embed.Title = "Generation timed out"
		embed.Description = fmt.Sprintf("No result within %s, try again later.", b.timeout)
	}

	_, err := s.FollowupMessageCreate(interaction, false, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	})
	if err != nil {
		log.Printf("[WARN] can't deliver failure notice: %v", err)
	}
}
