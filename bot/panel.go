package bot

import (
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"
	log "github.com/go-pkgz/lgr"

	"github.com/mfreeman451/comfycord/store"
)

// component and modal custom ids for the panel
const (
	idSizeSelect      = "size_select"
	idSamplerSelect   = "sampler_select"
	idSchedulerSelect = "scheduler_select"
	idPresetSelect    = "preset_select"
	idGenerateButton  = "generate_button"
	idSaveButton      = "save_button"
	idCustomSizeBtn   = "custom_size_input"
	idParamsButton    = "params_button"

	idSizeModal     = "panel_size_modal"
	idParamsModal   = "panel_params_modal"
	idGenerateModal = "panel_generate_modal"
)

func (b *Bot) defaultSettings() store.Settings {
	return store.Settings{
		Size:      "portrait_s",
		Width:     512,
		Height:    768,
		Steps:     20,
		CfgScale:  7.0,
		Sampler:   b.defaultSampler(),
		Scheduler: b.defaultScheduler(),
	}
}

// panelState returns the panel state for a user, seeding it from
// persisted settings or defaults on first open. Interaction handlers
// run on separate goroutines, so state moves by copy and the stored
// struct never escapes the lock.
func (b *Bot) panelState(userID string) store.Settings {
	b.mu.Lock()
	defer b.mu.Unlock()

	if state, ok := b.panels[userID]; ok {
		return *state
	}

	st, found, err := b.store.Settings(userID)
	if err != nil {
		log.Printf("[WARN] load settings for user %s: %v", userID, err)
	}
	if !found {
		st = b.defaultSettings()
		if err = b.store.SaveSettings(userID, st); err != nil {
			log.Printf("[WARN] persist default settings for user %s: %v", userID, err)
		}
	}
	b.panels[userID] = &st
	return st
}

func (b *Bot) cachedPanelState(userID string) (store.Settings, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.panels[userID]
	if !ok {
		return store.Settings{}, false
	}
	return *state, true
}

func (b *Bot) setPanelState(userID string, st store.Settings) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.panels[userID] = &st
}

// settingsFromParams records the last-used parameters, mapping the
// dimensions back to a named size when one matches.
func (b *Bot) settingsFromParams(userID string, p genParams) store.Settings {
	name := "custom"
	for preset, s := range sizePresets {
		if s.W == p.width && s.H == p.height {
			name = preset
			break
		}
	}
	return store.Settings{
		Size:      name,
		Width:     p.width,
		Height:    p.height,
		Steps:     p.steps,
		CfgScale:  p.cfg,
		Sampler:   p.sampler,
		Scheduler: p.scheduler,
	}
}

func (b *Bot) handlePanel(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	log.Printf("[INFO] panel opened by %s (%s)", user.String(), user.ID)

	state := b.panelState(user.ID)
	names, err := b.store.PresetNames(user.ID)
	if err != nil {
		log.Printf("[WARN] preset names for %s: %v", user.String(), err)
	}

	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{panelEmbed(state)},
			Components: b.panelComponents(state, names),
			Flags:      discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Printf("[WARN] panel response failed: %v", err)
	}
}

func panelEmbed(state store.Settings) *discordgo.MessageEmbed {
	preset := state.Preset
	if preset == "" {
		preset = "none"
	}
	return &discordgo.MessageEmbed{
		Title:       "ComfyUI generation panel",
		Description: "Configure your parameters with the menus and buttons below.",
		Color:       colorBlue,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Size", Value: sizeDisplay(state.Size, state.Width, state.Height), Inline: true},
			{Name: "Steps", Value: strconv.Itoa(state.Steps), Inline: true},
			{Name: "CFG", Value: fmt.Sprintf("%g", state.CfgScale), Inline: true},
			{Name: "Sampler", Value: state.Sampler, Inline: true},
			{Name: "Scheduler", Value: state.Scheduler, Inline: true},
			{Name: "Preset", Value: preset, Inline: true},
		},
	}
}

func (b *Bot) panelComponents(state store.Settings, presetNames []string) []discordgo.MessageComponent {
	sizeOptions := make([]discordgo.SelectMenuOption, 0, len(sizeChoices))
	for _, choice := range sizeChoices {
		sizeOptions = append(sizeOptions, discordgo.SelectMenuOption{
			Label:   choice.Label,
			Value:   choice.Value,
			Default: choice.Value == state.Size,
		})
	}

	// discord caps select menus at 25 options
	samplerOptions := enumOptions(b.samplers, state.Sampler, 25)
	schedulerOptions := enumOptions(b.schedulers, state.Scheduler, 25)

	presetOptions := []discordgo.SelectMenuOption{{Label: "No preset", Value: "none", Default: state.Preset == ""}}
	for n, name := range presetNames {
		if n == 24 {
			break
		}
		presetOptions = append(presetOptions, discordgo.SelectMenuOption{
			Label:   truncate(name, 100),
			Value:   name,
			Default: name == state.Preset,
		})
	}

	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{CustomID: idSizeSelect, Placeholder: "Pick a size", Options: sizeOptions},
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{CustomID: idSamplerSelect, Placeholder: "Pick a sampler", Options: samplerOptions},
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{CustomID: idSchedulerSelect, Placeholder: "Pick a scheduler", Options: schedulerOptions},
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{CustomID: idPresetSelect, Placeholder: "Pick a preset", Options: presetOptions},
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.Button{CustomID: idGenerateButton, Label: "Generate", Style: discordgo.PrimaryButton},
			discordgo.Button{CustomID: idSaveButton, Label: "Save settings", Style: discordgo.SuccessButton},
			discordgo.Button{CustomID: idCustomSizeBtn, Label: "Custom size", Style: discordgo.SecondaryButton},
			discordgo.Button{CustomID: idParamsButton, Label: "Advanced", Style: discordgo.SecondaryButton},
		}},
	}
}

func enumOptions(values []string, selected string, limit int) []discordgo.SelectMenuOption {
	if len(values) == 0 {
		values = []string{selected}
	}
	options := make([]discordgo.SelectMenuOption, 0, limit)
	for n, v := range values {
		if n == limit {
			break
		}
		options = append(options, discordgo.SelectMenuOption{
			Label:   truncate(v, 100),
			Value:   v,
			Default: v == selected,
		})
	}
	return options
}

func (b *Bot) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	data := i.MessageComponentData()

	state, ok := b.cachedPanelState(user.ID)
	if !ok {
		respondText(s, i, "This panel session expired, reopen it with /panel.")
		return
	}

	switch data.CustomID {
	case idSizeSelect:
		value := data.Values[0]
		state.Size = value
		if sz, ok := sizePresets[value]; ok {
			state.Width, state.Height = sz.W, sz.H
		}
		b.setPanelState(user.ID, state)
		b.updatePanel(s, i, state)

	case idSamplerSelect:
		state.Sampler = data.Values[0]
		b.setPanelState(user.ID, state)
		b.updatePanel(s, i, state)

	case idSchedulerSelect:
		state.Scheduler = data.Values[0]
		b.setPanelState(user.ID, state)
		b.updatePanel(s, i, state)

	case idPresetSelect:
		if data.Values[0] == "none" {
			state.Preset = ""
		} else {
			state.Preset = data.Values[0]
		}
		b.setPanelState(user.ID, state)
		b.updatePanel(s, i, state)

	case idCustomSizeBtn:
		b.showModal(s, i, idSizeModal, "Custom size", []discordgo.MessageComponent{
			textInputRow("width", "Width", fmt.Sprintf("%d-%d", minDim, maxWidth), strconv.Itoa(state.Width), 4, false),
			textInputRow("height", "Height", fmt.Sprintf("%d-%d", minDim, maxHeight), strconv.Itoa(state.Height), 4, false),
		})

	case idParamsButton:
		b.showModal(s, i, idParamsModal, "Advanced parameters", []discordgo.MessageComponent{
			textInputRow("steps", "Steps (1-150)", "sampling steps", strconv.Itoa(state.Steps), 3, false),
			textInputRow("cfg", "CFG scale (1.0-30.0)", "guidance scale", fmt.Sprintf("%g", state.CfgScale), 5, false),
		})

	case idSaveButton:
		if err := b.store.SaveSettings(user.ID, state); err != nil {
			log.Printf("[WARN] save settings for %s: %v", user.String(), err)
			respondText(s, i, "Couldn't save your settings, try again later.")
			return
		}
		log.Printf("[INFO] panel settings saved by %s", user.String())
		respondText(s, i, "Settings saved.")

	case idGenerateButton:
		b.showModal(s, i, idGenerateModal, "Enter your prompt", []discordgo.MessageComponent{
			textInputRow("prompt", "Positive prompt", "describe the image you want", "", 0, true),
			textInputRow("negative", "Negative prompt", "things to avoid", "", 0, false),
		})
	}
}

func (b *Bot) handleModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	data := i.ModalSubmitData()

	state, ok := b.cachedPanelState(user.ID)
	if !ok {
		respondText(s, i, "This panel session expired, reopen it with /panel.")
		return
	}
	inputs := modalInputs(data)

	switch data.CustomID {
	case idSizeModal:
		width, werr := strconv.Atoi(inputs["width"])
		height, herr := strconv.Atoi(inputs["height"])
		if werr != nil || herr != nil {
			respondText(s, i, "Please enter valid numbers.")
			return
		}
		if err := validateSize(width, height); err != nil {
			respondText(s, i, "Size out of range: "+err.Error())
			return
		}
		state.Size = "custom"
		state.Width, state.Height = snapSize(width, height)
		b.setPanelState(user.ID, state)
		b.updatePanel(s, i, state)

	case idParamsModal:
		steps, serr := strconv.Atoi(inputs["steps"])
		cfg, cerr := strconv.ParseFloat(inputs["cfg"], 64)
		if serr != nil || cerr != nil {
			respondText(s, i, "Please enter valid numbers.")
			return
		}
		if steps < 1 || steps > 150 {
			respondText(s, i, "Steps must be between 1 and 150.")
			return
		}
		if cfg < 1.0 || cfg > 30.0 {
			respondText(s, i, "CFG scale must be between 1.0 and 30.0.")
			return
		}
		state.Steps = steps
		state.CfgScale = cfg
		b.setPanelState(user.ID, state)
		b.updatePanel(s, i, state)

	case idGenerateModal:
		prompt := inputs["prompt"]
		negative := inputs["negative"]

		// a selected preset prepends its prompts to the typed ones
		if state.Preset != "" {
			presets, err := b.store.Presets(user.ID)
			if err != nil {
				log.Printf("[WARN] presets for %s: %v", user.String(), err)
			}
			if preset, ok := presets[state.Preset]; ok {
				prompt = joinPrompts(preset.Prompt, prompt)
				negative = joinPrompts(preset.Negative, negative)
			}
		}

		p := genParams{
			prompt:    prompt,
			negative:  negative,
			width:     state.Width,
			height:    state.Height,
			steps:     state.Steps,
			cfg:       state.CfgScale,
			seed:      -1,
			sampler:   state.Sampler,
			scheduler: state.Scheduler,
		}
		b.enqueueGeneration(s, i, user, p)
	}
}

// updatePanel re-renders the panel message the interaction came from.
func (b *Bot) updatePanel(s *discordgo.Session, i *discordgo.InteractionCreate, state store.Settings) {
	user := interactionUser(i)
	names, err := b.store.PresetNames(user.ID)
	if err != nil {
		log.Printf("[WARN] preset names for %s: %v", user.String(), err)
	}

	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Embeds:     []*discordgo.MessageEmbed{panelEmbed(state)},
			Components: b.panelComponents(state, names),
		},
	})
	if err != nil {
		log.Printf("[WARN] panel update failed: %v", err)
	}
}

func (b *Bot) showModal(s *discordgo.Session, i *discordgo.InteractionCreate, customID, title string, components []discordgo.MessageComponent) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID:   customID,
			Title:      title,
			Components: components,
		},
	})
	if err != nil {
		log.Printf("[WARN] modal response failed: %v", err)
	}
}

// textInputRow builds a single-input action row. paragraph style for
// unbounded inputs (maxLen 0), short style otherwise.
func textInputRow(customID, label, placeholder, value string, maxLen int, required bool) discordgo.MessageComponent {
	style := discordgo.TextInputShort
	if maxLen == 0 {
		style = discordgo.TextInputParagraph
	}
	return discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.TextInput{
			CustomID:    customID,
			Label:       label,
			Style:       style,
			Placeholder: placeholder,
			Value:       value,
			Required:    required,
			MaxLength:   maxLen,
		},
	}}
}

// modalInputs flattens modal submission rows into customID → value.
func modalInputs(data discordgo.ModalSubmitInteractionData) map[string]string {
	res := map[string]string{}
	for _, row := range data.Components {
		actions, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, comp := range actions.Components {
			if input, ok := comp.(*discordgo.TextInput); ok {
				res[input.CustomID] = input.Value
			}
		}
	}
	return res
}

func joinPrompts(preset, typed string) string {
	switch {
	case preset == "":
		return typed
	case typed == "":
		return preset
	default:
		return preset + ", " + typed
	}
}
