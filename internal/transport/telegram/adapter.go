// Package telegram adapts the telebot.v4 client to the transport surface
// the rest of the bot is written against. All outbound calls go through a
// global rate limiter and every API failure is mapped into the closed
// transport error taxonomy.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"rssbot/internal/transport"
	"rssbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec bounds outbound API calls across all goroutines.
	// Telegram allows roughly 30 messages per second bot-wide.
	RatePerSec int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter

	runMu   sync.Mutex
	running bool
	done    chan struct{}
	// stopOnce guards bot.Stop for the current poll run. telebot's stop
	// channel is unbuffered and only drained while the poll loop runs,
	// so a second Stop would block forever.
	stopOnce *sync.Once
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 30
	}
	return &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// BotID returns the bot's own user id, known after New succeeds.
func (a *Adapter) BotID() int64 { return a.bot.Me.ID }

// BotUsername returns the bot's @username without the leading "@".
func (a *Adapter) BotUsername() string { return a.bot.Me.Username }

// HandleCommand registers fn for a bot command endpoint ("/sub", ...).
// telebot matches both "/cmd" and "/cmd@botname" forms.
func (a *Adapter) HandleCommand(endpoint string, fn func(ctx context.Context, msg transport.Message)) {
	a.bot.Handle(endpoint, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		fn(context.Background(), fromTeleMessage(m))
		return nil
	})
}

func fromTeleMessage(m *tele.Message) transport.Message {
	msg := transport.Message{
		ID:      m.ID,
		Chat:    fromTeleChat(m.Chat),
		Text:    m.Text,
		Payload: m.Payload,
	}
	if m.Sender != nil {
		msg.SenderID = m.Sender.ID
	}
	if m.SenderChat != nil && m.Chat != nil && m.SenderChat.ID == m.Chat.ID {
		msg.SenderIsAnonymous = true
	}
	return msg
}

func fromTeleChat(c *tele.Chat) transport.Chat {
	if c == nil {
		return transport.Chat{}
	}
	return transport.Chat{
		ID:       c.ID,
		Type:     transport.ChatType(c.Type),
		Title:    c.Title,
		Username: c.Username,
	}
}

// Start begins long polling. It returns immediately; polling stops when
// ctx is cancelled or Stop is called.
func (a *Adapter) Start(ctx context.Context) {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return
	}
	a.running = true
	a.done = make(chan struct{})
	a.stopOnce = new(sync.Once)
	done := a.done
	once := a.stopOnce
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		once.Do(a.bot.Stop)
	}()
	go func() {
		defer close(done)
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	}()
}

// Stop halts long polling and waits for the poll loop to exit, bounded by ctx.
func (a *Adapter) Stop(ctx context.Context) {
	a.runMu.Lock()
	running := a.running
	done := a.done
	once := a.stopOnce
	a.running = false
	a.runMu.Unlock()
	if !running {
		return
	}
	once.Do(a.bot.Stop)
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("telegram stop timed out", logx.Err(ctx.Err()))
	}
}

func (a *Adapter) SendMessage(ctx context.Context, chat int64, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return transport.MessageRef{}, err
	}
	m, err := a.bot.Send(tele.ChatID(chat), text, toTeleOptions(chat, opt))
	if err != nil {
		return transport.MessageRef{}, classify(err)
	}
	return transport.MessageRef{ChatID: chat, MessageID: m.ID}, nil
}

func (a *Adapter) EditMessage(ctx context.Context, ref transport.MessageRef, text string, opt *transport.SendOptions) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	stored := tele.StoredMessage{
		MessageID: strconv.Itoa(ref.MessageID),
		ChatID:    ref.ChatID,
	}
	_, err := a.bot.Edit(stored, text, toTeleOptions(ref.ChatID, opt))
	return classify(err)
}

func (a *Adapter) SendDocument(ctx context.Context, chat int64, doc transport.Document, replyTo int) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	d := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(doc.Contents)),
		FileName: doc.Name,
		MIME:     doc.MIME,
		Caption:  doc.Caption,
	}
	opt := &transport.SendOptions{ReplyTo: replyTo}
	_, err := a.bot.Send(tele.ChatID(chat), d, toTeleOptions(chat, opt))
	return classify(err)
}

func (a *Adapter) ChatByID(ctx context.Context, id int64) (transport.Chat, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return transport.Chat{}, err
	}
	c, err := a.bot.ChatByID(id)
	if err != nil {
		return transport.Chat{}, classify(err)
	}
	return fromTeleChat(c), nil
}

func (a *Adapter) ChatByName(ctx context.Context, name string) (transport.Chat, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return transport.Chat{}, err
	}
	c, err := a.bot.ChatByUsername(name)
	if err != nil {
		return transport.Chat{}, classify(err)
	}
	return fromTeleChat(c), nil
}

func (a *Adapter) ChatAdministrators(ctx context.Context, chat int64) ([]transport.ChatMember, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	admins, err := a.bot.AdminsOf(&tele.Chat{ID: chat})
	if err != nil {
		return nil, classify(err)
	}
	out := make([]transport.ChatMember, 0, len(admins))
	for _, m := range admins {
		out = append(out, fromTeleMember(&m))
	}
	return out, nil
}

func (a *Adapter) ChatMemberOf(ctx context.Context, chat, user int64) (transport.ChatMember, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return transport.ChatMember{}, err
	}
	m, err := a.bot.ChatMemberOf(&tele.Chat{ID: chat}, &tele.User{ID: user})
	if err != nil {
		return transport.ChatMember{}, classify(err)
	}
	return fromTeleMember(m), nil
}

func fromTeleMember(m *tele.ChatMember) transport.ChatMember {
	out := transport.ChatMember{Status: transport.MemberStatus(m.Role)}
	if m.User != nil {
		out.UserID = m.User.ID
	}
	return out
}

func toTeleOptions(chat int64, opt *transport.SendOptions) *tele.SendOptions {
	if opt == nil {
		return &tele.SendOptions{}
	}
	to := &tele.SendOptions{
		DisableWebPagePreview: opt.DisableWebPagePreview,
	}
	if opt.ParseMode != "" {
		to.ParseMode = opt.ParseMode
	}
	if opt.ReplyTo != 0 {
		to.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: &tele.Chat{ID: chat}}
	}
	return to
}

// classify maps telebot errors into the transport taxonomy. Non-API
// failures (network, context) pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &transport.Error{
			Kind:        transport.KindRateLimited,
			Description: err.Error(),
			RetryAfter:  time.Duration(flood.RetryAfter) * time.Second,
		}
	}
	var group tele.GroupError
	if errors.As(err, &group) {
		return &transport.Error{
			Kind:        transport.KindMigrated,
			Description: err.Error(),
			MigratedTo:  group.MigratedTo,
		}
	}
	var api *tele.Error
	if errors.As(err, &api) {
		return &transport.Error{Kind: apiKind(api), Description: api.Description}
	}
	return err
}

func apiKind(api *tele.Error) transport.ErrorKind {
	switch api {
	case tele.ErrBlockedByUser:
		return transport.KindBlocked
	case tele.ErrKickedFromGroup, tele.ErrKickedFromSuperGroup, tele.ErrKickedFromChannel:
		return transport.KindKicked
	case tele.ErrUserIsDeactivated:
		return transport.KindDeactivated
	case tele.ErrChatNotFound:
		return transport.KindChatNotFound
	case tele.ErrNoRightsToSend:
		return transport.KindNotEnoughRights
	}
	return transport.KindOther
}
