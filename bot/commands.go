package bot

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	log "github.com/go-pkgz/lgr"

	"github.com/mfreeman451/comfycord/store"
)

const (
	colorBlue  = 0x3498db
	colorGreen = 0x2ecc71
	colorRed   = 0xe74c3c
)

func commandDefs() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "comfy",
			Description: "Generate an image with ComfyUI",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionString, Name: "prompt", Description: "Positive prompt", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "negative", Description: "Negative prompt"},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "width", Description: "Image width"},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "height", Description: "Image height"},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "steps", Description: "Sampling steps"},
				{Type: discordgo.ApplicationCommandOptionNumber, Name: "cfg_scale", Description: "CFG scale"},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "seed", Description: "Seed, random when omitted"},
			},
		},
		{
			Name:        "queue",
			Description: "Show the generation queue",
		},
		{
			Name:        "panel",
			Description: "Open the interactive generation panel",
		},
		{
			Name:        "preset",
			Description: "Manage your personal prompt presets",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "save", Description: "Save a preset",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "Preset name", Required: true},
						{Type: discordgo.ApplicationCommandOptionString, Name: "prompt", Description: "Positive prompt", Required: true},
						{Type: discordgo.ApplicationCommandOptionString, Name: "negative", Description: "Negative prompt"},
					},
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "list", Description: "List your presets",
				},
				{
					Type: discordgo.ApplicationCommandOptionSubCommand, Name: "delete", Description: "Delete a preset",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "Preset name", Required: true, Autocomplete: true},
					},
				},
			},
		},
	}
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	res := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, opt := range opts {
		res[opt.Name] = opt
	}
	return res
}

func (b *Bot) handleComfy(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i.ApplicationCommandData().Options)
	user := interactionUser(i)

	p := genParams{
		width:     512,
		height:    768,
		steps:     20,
		cfg:       7.0,
		seed:      -1,
		sampler:   b.defaultSampler(),
		scheduler: b.defaultScheduler(),
	}
	p.prompt = opts["prompt"].StringValue()
	if opt, ok := opts["negative"]; ok {
		p.negative = opt.StringValue()
	}
	if opt, ok := opts["width"]; ok {
		p.width = int(opt.IntValue())
	}
	if opt, ok := opts["height"]; ok {
		p.height = int(opt.IntValue())
	}
	if opt, ok := opts["steps"]; ok {
		p.steps = int(opt.IntValue())
	}
	if opt, ok := opts["cfg_scale"]; ok {
		p.cfg = opt.FloatValue()
	}
	if opt, ok := opts["seed"]; ok {
		p.seed = opt.IntValue()
	}

	if err := validateSize(p.width, p.height); err != nil {
		respondText(s, i, "Size out of range: "+err.Error())
		return
	}

	b.enqueueGeneration(s, i, user, p)
}

func (b *Bot) handleQueue(s *discordgo.Session, i *discordgo.InteractionCreate) {
	pending, running := b.queue.Snapshot()
	if len(pending) == 0 && running == nil {
		respondText(s, i, "The queue is empty.")
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Queue status",
		Description: fmt.Sprintf("%d pending job(s)", len(pending)),
		Color:       colorBlue,
	}
	if running != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "Status",
			Value: fmt.Sprintf("Generating for %s (%dx%d)", running.UserName, running.Width, running.Height),
		})
	} else {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Status", Value: "Idle"})
	}

	for n, job := range pending {
		if n == 5 {
			break
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   fmt.Sprintf("Position %d", n+1),
			Value:  fmt.Sprintf("User: %s\nSize: %dx%d", job.UserName, job.Width, job.Height),
			Inline: true,
		})
	}
	respondEmbed(s, i, embed)
}

func (b *Bot) handlePreset(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return
	}
	sub := data.Options[0]
	user := interactionUser(i)
	opts := optionMap(sub.Options)

	switch sub.Name {
	case "save":
		name := opts["name"].StringValue()
		p := store.Preset{Prompt: opts["prompt"].StringValue()}
		if opt, ok := opts["negative"]; ok {
			p.Negative = opt.StringValue()
		}
		if err := b.store.SavePreset(user.ID, name, p); err != nil {
			log.Printf("[WARN] save preset for %s: %v", user.String(), err)
			respondText(s, i, "Couldn't save the preset, try again later.")
			return
		}
		respondText(s, i, fmt.Sprintf("Preset %q saved.", name))

	case "list":
		presets, err := b.store.Presets(user.ID)
		if err != nil {
			log.Printf("[WARN] list presets for %s: %v", user.String(), err)
			respondText(s, i, "Couldn't load your presets, try again later.")
			return
		}
		if len(presets) == 0 {
			respondText(s, i, "You don't have any presets yet.")
			return
		}
		names, _ := b.store.PresetNames(user.ID)
		embed := &discordgo.MessageEmbed{Title: "Your presets", Color: colorBlue}
		for _, name := range names {
			p := presets[name]
			value := "**Positive:** " + truncate(p.Prompt, 100)
			if p.Negative != "" {
				value += "\n**Negative:** " + truncate(p.Negative, 100)
			}
			embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: name, Value: value})
		}
		respondEmbed(s, i, embed)

	case "delete":
		name := opts["name"].StringValue()
		found, err := b.store.DeletePreset(user.ID, name)
		if err != nil {
			log.Printf("[WARN] delete preset for %s: %v", user.String(), err)
			respondText(s, i, "Couldn't delete the preset, try again later.")
			return
		}
		if !found {
			respondText(s, i, fmt.Sprintf("No preset named %q.", name))
			return
		}
		respondText(s, i, fmt.Sprintf("Preset %q deleted.", name))
	}
}

func (b *Bot) handlePresetAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 || data.Options[0].Name != "delete" {
		return
	}
	user := interactionUser(i)

	var current string
	for _, opt := range data.Options[0].Options {
		if opt.Name == "name" && opt.Focused {
			current = opt.StringValue()
		}
	}

	names, err := b.store.PresetNames(user.ID)
	if err != nil {
		log.Printf("[WARN] preset autocomplete for %s: %v", user.String(), err)
		return
	}

	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, name := range names {
		if current != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(current)) {
			continue
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
		if len(choices) == 25 {
			break
		}
	}

	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	})
	if err != nil {
		log.Printf("[WARN] autocomplete response failed: %v", err)
	}
}

func (b *Bot) defaultSampler() string {
	if len(b.samplers) > 0 {
		return b.samplers[0]
	}
	return "euler"
}

func (b *Bot) defaultScheduler() string {
	if len(b.schedulers) > 0 {
		return b.schedulers[0]
	}
	return "normal"
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
