package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"clockbot/internal/config"
	"clockbot/internal/db"
	"clockbot/internal/db/models"
	"clockbot/internal/ledger"
	"clockbot/internal/queue"

	"github.com/bwmarrin/discordgo"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const commandTimeout = 2 * time.Minute

type Bot struct {
	config     *config.Config
	db         *db.DB
	ledger     *ledger.Ledger
	queue      *queue.Redis
	session    *discordgo.Session
	logger     *zap.Logger
	confirms   *confirmations
	handlers   map[string]commandHandler
	shutdownCh chan struct{}
	isShutdown bool
	mu         sync.Mutex
	wg         sync.WaitGroup
}

func New(config *config.Config, database *db.DB, led *ledger.Ledger, q *queue.Redis, logger *zap.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + config.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages

	logger.Info("bot configured", zap.Int("intents", int(session.Identify.Intents)))

	b := &Bot{
		config:     config,
		db:         database,
		ledger:     led,
		queue:      q,
		session:    session,
		logger:     logger,
		confirms:   newConfirmations(),
		shutdownCh: make(chan struct{}),
	}
	b.handlers = b.commandHandlers()
	return b, nil
}

// Helper function to register commands for a guild
func (b *Bot) registerGuildCommands(guildID string) error {
	maxRetries := 3
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := b.registerGuildCommandsOnce(guildID)
		if err == nil {
			return nil
		}
		lastErr = err
		b.logger.Warn("command registration attempt failed",
			zap.String("guild", guildID), zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return fmt.Errorf("failed to register commands after %d attempts: %w", maxRetries, lastErr)
}

func (b *Bot) registerGuildCommandsOnce(guildID string) error {
	log := b.logger.With(zap.String("guild", guildID), zap.String("server", getServerName(b.session, guildID)))
	log.Info("registering commands")

	// Overwrite replaces the guild's whole command set in one call
	registered, err := b.session.ApplicationCommandBulkOverwrite(b.config.Discord.ClientID, guildID, commands)
	if err != nil {
		return fmt.Errorf("error overwriting commands: %w", err)
	}
	for _, cmd := range registered {
		log.Debug("registered command", zap.String("command", cmd.Name))
	}
	log.Info("registered commands", zap.Int("count", len(registered)))
	return nil
}

func (b *Bot) Start(ctx context.Context) error {
	b.logger.Info("starting clockbot")

	// Keep trying to connect until successful
	for {
		if _, err := b.session.User("@me"); err != nil {
			b.logger.Warn("failed to reach Discord API, retrying in 5 seconds", zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return ctx.Err()
			}
			continue
		}
		b.logger.Info("connected to Discord API")
		break
	}

	// Register handlers before opening so no guild create is missed
	b.session.AddHandler(b.handleReady)
	b.session.AddHandler(b.handleGuildCreate)
	b.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		switch i.Type {
		case discordgo.InteractionApplicationCommand:
			b.handleCommand(s, i)
		case discordgo.InteractionMessageComponent:
			b.handleComponent(s, i)
		}
	})

	// Keep trying to open session until successful
	for {
		if err := b.session.Open(); err != nil {
			b.logger.Warn("error opening Discord session, retrying in 5 seconds", zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return ctx.Err()
			}
			continue
		}
		b.logger.Info("session opened", zap.String("session_id", b.session.State.SessionID))
		break
	}

	b.logger.Info("bot is now running")

	// Wait for shutdown signal
	<-ctx.Done()
	return b.Shutdown()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Shutdown performs a graceful shutdown of the bot
func (b *Bot) Shutdown() error {
	b.logger.Info("initiating graceful shutdown")

	if !b.beginShutdown() {
		return nil
	}

	// Open confirmations are bounded by the confirm timeout
	b.logger.Info("waiting for active handlers to complete")
	b.wg.Wait()

	b.logger.Info("closing Discord session")
	if err := b.session.Close(); err != nil {
		return fmt.Errorf("error closing Discord session: %w", err)
	}

	b.logger.Info("shutdown completed")
	return nil
}

// beginShutdown marks the bot as stopping; it reports false if it already was
func (b *Bot) beginShutdown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isShutdown {
		return false
	}
	b.isShutdown = true
	close(b.shutdownCh)
	return true
}

// enterHandler registers a running handler unless shutdown has begun. The
// check and wg.Add share the lock so Shutdown's Wait never misses a handler.
func (b *Bot) enterHandler() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isShutdown {
		return false
	}
	b.wg.Add(1)
	return true
}

func (b *Bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("bot is ready", zap.Int("guilds", len(r.Guilds)))
}

func (b *Bot) handleGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	log := b.logger.With(zap.String("guild", g.ID), zap.String("server", g.Name))
	if err := b.registerGuildCommands(g.ID); err != nil {
		log.Error("error registering commands", zap.Error(err))
		return
	}
	log.Info("guild ready")
}

// request carries what every command handler needs about the invocation
type request struct {
	guildID int64
	userID  int64
	user    *discordgo.User
	name    string
	path    string
	options map[string]*discordgo.ApplicationCommandInteractionDataOption
}

type commandHandler func(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, r *request)

func (b *Bot) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	path := commandPath(data)
	log := b.logger.With(zap.String("guild", i.GuildID), zap.String("command", path))

	// Add defer to catch panics with stack trace
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			log.Error("panic in command handler",
				zap.Any("panic", r), zap.String("stack", string(buf[:n])))
			editResponse(s, i, "Error: An internal error occurred")
		}
	}()

	if !b.enterHandler() {
		respondWithError(s, i, "The bot is restarting, please try again shortly")
		return
	}
	defer b.wg.Done()

	// Strict DM check
	if i.GuildID == "" {
		respondWithError(s, i, fmt.Sprintf("The `/%s` command can only be used in a server", data.Name))
		return
	}

	user := interactionUser(i)
	if user == nil {
		respondWithError(s, i, "Could not determine user information")
		return
	}
	guildID, err := parseSnowflake(i.GuildID)
	if err != nil {
		respondWithError(s, i, "Invalid server")
		return
	}
	userID, err := parseSnowflake(user.ID)
	if err != nil {
		respondWithError(s, i, "Invalid user")
		return
	}
	log = log.With(zap.String("user", user.ID))

	handler, ok := b.handlers[path]
	if !ok {
		log.Warn("unknown command")
		respondWithError(s, i, "Unknown command")
		return
	}

	gc := b.config.Guild(guildID)
	admin := isAdmin(i)
	if !admin && !channelAllowed(gc, i.ChannelID) {
		respondWithError(s, i, "Commands are not allowed in this channel")
		return
	}
	if !admin && !adminCommands[data.Name] && i.Member != nil && !hasMemberRole(gc, i.Member.Roles) {
		respondWithError(s, i, "You don't have permission to use this command here")
		return
	}

	// Add initial acknowledgment for long-running commands
	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
	if err != nil {
		log.Error("error acknowledging interaction", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	b.logCommand(ctx, i, path, guildID, userID)

	handler(ctx, s, i, &request{
		guildID: guildID,
		userID:  userID,
		user:    user,
		name:    memberName(i.Member, user),
		path:    path,
		options: optionMap(data.Options),
	})
}

// logCommand records the invocation in the audit table
func (b *Bot) logCommand(ctx context.Context, i *discordgo.InteractionCreate, path string, guildID, userID int64) {
	params := commandParams(i.ApplicationCommandData().Options)
	if target := i.ApplicationCommandData().TargetID; target != "" {
		params = append(params, "target:"+target)
	}

	b.logger.Info("command executed",
		zap.String("guild", i.GuildID),
		zap.String("user", snowflake(userID)),
		zap.String("command", path),
		zap.Strings("params", params))

	if b.db == nil {
		return
	}
	err := b.db.StoreCommand(ctx, &models.CommandRecord{
		GuildID:     guildID,
		UserID:      userID,
		UserName:    memberName(i.Member, interactionUser(i)),
		CommandName: path,
		Options:     pq.StringArray(params),
		ChannelID:   i.ChannelID,
	})
	if err != nil {
		b.logger.Warn("error storing command", zap.String("command", path), zap.Error(err))
	}
}

// respondLedgerError renders a ledger failure and logs it at a level that
// matches its severity
func (b *Bot) respondLedgerError(s *discordgo.Session, i *discordgo.InteractionCreate, r *request, err error) {
	log := b.logger.With(
		zap.String("guild", i.GuildID),
		zap.String("user", snowflake(r.userID)),
		zap.String("command", r.path),
		zap.String("code", string(ledger.CodeOf(err))),
		zap.Error(err))

	var le *ledger.Error
	switch {
	case errors.As(err, &le) && le.Fatal():
		log.Error("ledger failure needs an administrator", zap.Any("records", le.Records))
	case ledger.CodeOf(err) == ledger.CodeStorage || ledger.CodeOf(err) == "":
		log.Error("ledger operation failed")
	default:
		log.Info("ledger operation rejected")
	}

	msg := ledger.StatusMessage(err)
	if le != nil && len(le.Records) > 0 {
		msg += "\n" + renderRecords(le.Records, b.ledger.Location())
	}
	editResponse(s, i, msg)
}
