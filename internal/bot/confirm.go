package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	confirmPrefix = "confirm"
	answerYes     = "yes"
	answerNo      = "no"
)

type pendingConfirm struct {
	ownerID string
	answer  chan bool
}

// confirmations tracks open yes/no prompts by id. Only the member who
// triggered a prompt may answer it.
type confirmations struct {
	mu      sync.Mutex
	pending map[string]*pendingConfirm
}

func newConfirmations() *confirmations {
	return &confirmations{pending: make(map[string]*pendingConfirm)}
}

// open registers a prompt for ownerID. done must be called once the
// caller stops waiting.
func (c *confirmations) open(ownerID string) (id string, answer <-chan bool, done func()) {
	id = uuid.NewString()
	p := &pendingConfirm{ownerID: ownerID, answer: make(chan bool, 1)}

	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()

	return id, p.answer, func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}
}

type resolveResult int

const (
	resolved resolveResult = iota
	resolveUnknown
	resolveNotOwner
)

// resolve delivers an answer. The first answer wins; later clicks on the
// same prompt are reported as unknown.
func (c *confirmations) resolve(id, userID string, yes bool) resolveResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if !ok {
		return resolveUnknown
	}
	if p.ownerID != userID {
		return resolveNotOwner
	}
	delete(c.pending, id)
	p.answer <- yes
	return resolved
}

func (c *confirmations) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func confirmCustomID(id, answer string) string {
	return confirmPrefix + ":" + id + ":" + answer
}

// parseConfirmCustomID splits a button id built by confirmCustomID
func parseConfirmCustomID(customID string) (id string, yes bool, ok bool) {
	parts := strings.Split(customID, ":")
	if len(parts) != 3 || parts[0] != confirmPrefix {
		return "", false, false
	}
	switch parts[2] {
	case answerYes:
		return parts[1], true, true
	case answerNo:
		return parts[1], false, true
	}
	return "", false, false
}

func confirmButtons(id string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Yes",
					Style:    discordgo.SuccessButton,
					CustomID: confirmCustomID(id, answerYes),
				},
				discordgo.Button{
					Label:    "No",
					Style:    discordgo.DangerButton,
					CustomID: confirmCustomID(id, answerNo),
				},
			},
		},
	}
}

// askConfirmation shows prompt with Yes/No buttons on the deferred response
// and waits for the invoking member. A timeout counts as No.
func (b *Bot) askConfirmation(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, prompt string) (bool, error) {
	user := interactionUser(i)
	if user == nil {
		return false, nil
	}

	id, answer, done := b.confirms.open(user.ID)
	defer done()

	content := truncateMessage(prompt)
	components := confirmButtons(id)
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content:    &content,
		Components: &components,
	}); err != nil {
		return false, err
	}

	timer := time.NewTimer(b.config.ConfirmTimeout)
	defer timer.Stop()

	select {
	case yes := <-answer:
		return yes, nil
	case <-timer.C:
		b.logger.Info("confirmation timed out",
			zap.String("guild", i.GuildID), zap.String("user", user.ID))
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (b *Bot) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	id, yes, ok := parseConfirmCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}
	user := interactionUser(i)
	if user == nil {
		return
	}

	switch b.confirms.resolve(id, user.ID, yes) {
	case resolveNotOwner:
		respondWithError(s, i, "Only the member who ran the command can answer this")
		return
	case resolveUnknown:
		respondWithError(s, i, "This prompt has expired")
		return
	}

	// acknowledge the click; the waiting handler edits the message
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		b.logger.Warn("error acknowledging confirmation", zap.Error(err))
	}
}
