// Package bot translates Discord slash commands and panel
// interactions into ComfyUI generation jobs and renders the results
// back as Discord messages.
package bot

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	log "github.com/go-pkgz/lgr"

	"github.com/mfreeman451/comfycord/comfy"
	"github.com/mfreeman451/comfycord/queue"
	"github.com/mfreeman451/comfycord/store"
	"github.com/mfreeman451/comfycord/workflow"
)

// Bot wires the Discord session to the template engine, job queue,
// ComfyUI client and the preset/settings store.
type Bot struct {
	session *discordgo.Session
	comfy   *comfy.Client
	store   *store.Store
	queue   *queue.Queue
	tmpl    *workflow.Template
	timeout time.Duration

	samplers   []string
	schedulers []string

	mu     sync.Mutex
	panels map[string]*store.Settings // per-user panel state
}

// Params bundles the collaborators a Bot needs.
type Params struct {
	Token      string
	Comfy      *comfy.Client
	Store      *store.Store
	Queue      *queue.Queue
	Template   *workflow.Template
	Samplers   []string
	Schedulers []string
	Timeout    time.Duration
}

// New creates the bot and its Discord session, but doesn't connect.
func New(p Params) (*Bot, error) {
	session, err := discordgo.New("Bot " + p.Token)
	if err != nil {
		return nil, fmt.Errorf("make discord session: %w", err)
	}

	b := &Bot{
		session:    session,
		comfy:      p.Comfy,
		store:      p.Store,
		queue:      p.Queue,
		tmpl:       p.Template,
		timeout:    p.Timeout,
		samplers:   p.Samplers,
		schedulers: p.Schedulers,
		panels:     map[string]*store.Settings{},
	}

	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages
	session.AddHandler(b.onReady)
	session.AddHandler(b.onInteraction)
	return b, nil
}

// Start opens the gateway connection and registers the slash commands
// globally.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, "", commandDefs())
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	log.Printf("[INFO] registered %d commands", len(registered))
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop() {
	if err := b.session.Close(); err != nil {
		log.Printf("[WARN] closing discord session: %v", err)
	}
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Printf("[INFO] logged in as %s (%s), %d guilds", r.User.String(), r.User.ID, len(r.Guilds))
	if err := s.UpdateWatchStatus(0, "/comfy | /panel | /preset"); err != nil {
		log.Printf("[WARN] can't set presence: %v", err)
	}
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		switch data.Name {
		case "comfy":
			b.handleComfy(s, i)
		case "queue":
			b.handleQueue(s, i)
		case "panel":
			b.handlePanel(s, i)
		case "preset":
			b.handlePreset(s, i)
		}
	case discordgo.InteractionApplicationCommandAutocomplete:
		if i.ApplicationCommandData().Name == "preset" {
			b.handlePresetAutocomplete(s, i)
		}
	case discordgo.InteractionMessageComponent:
		b.handleComponent(s, i)
	case discordgo.InteractionModalSubmit:
		b.handleModal(s, i)
	}
}

// interactionUser works for both guild and DM interactions.
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil {
		return i.Member.User
	}
	return i.User
}

func respondText(s *discordgo.Session, i *discordgo.InteractionCreate, text string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: text,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Printf("[WARN] interaction response failed: %v", err)
	}
}

func respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Printf("[WARN] interaction response failed: %v", err)
	}
}
