package notifier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/himanshu-sugha/StreamKAS/internal/stream"
	logx "github.com/himanshu-sugha/StreamKAS/pkg/logx"
)

type TelegramConfig struct {
	Token       string
	ChatID      int64
	ThreadID    int
	PollTimeout time.Duration
}

// Telegram sends alerts to one chat (optionally one forum thread) and can
// serve commands in that chat.
type Telegram struct {
	cfg TelegramConfig
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool
}

func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrNoToken
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b}, nil
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(&tele.Chat{ID: t.cfg.ChatID}, text, &tele.SendOptions{
		ThreadID:              t.cfg.ThreadID,
		DisableWebPagePreview: true,
	})
	return err
}

// HandleCommands registers the command set. Messages from other chats are
// ignored.
func (t *Telegram) HandleCommands(ctl Controller) {
	for _, cmd := range []string{"/streams", "/stats", "/pause", "/resume", "/cancel"} {
		cmd := cmd
		t.bot.Handle(cmd, func(c tele.Context) error {
			if c.Chat() == nil || c.Chat().ID != t.cfg.ChatID {
				t.log.Debug("command from foreign chat ignored", logx.String("cmd", cmd))
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			reply := runCommand(ctx, ctl, cmd, c.Args())
			t.log.Info("telegram command", logx.String("cmd", cmd), logx.String("args", strings.Join(c.Args(), " ")))
			return c.Send(reply, &tele.SendOptions{ThreadID: t.cfg.ThreadID, DisableWebPagePreview: true})
		})
	}
}

// Run polls for commands until ctx is done.
func (t *Telegram) Run(ctx context.Context) error {
	t.runMu.Lock()
	if t.running {
		t.runMu.Unlock()
		return nil
	}
	t.running = true
	t.runMu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.log.Info("polling started")
		t.bot.Start() // blocks until Stop
	}()

	<-ctx.Done()
	go t.bot.Stop()

	// Keep shutdown snappy even if a long poll is still waiting.
	grace := time.NewTimer(2 * time.Second)
	defer grace.Stop()
	select {
	case <-done:
		t.log.Info("polling stopped")
	case <-grace.C:
		t.log.Warn("telegram stop grace elapsed; continuing shutdown")
	}

	t.runMu.Lock()
	t.running = false
	t.runMu.Unlock()
	return nil
}

const maxListed = 20

func runCommand(ctx context.Context, ctl Controller, cmd string, args []string) string {
	switch cmd {
	case "/streams":
		streams := ctl.List()
		if len(streams) == 0 {
			return "no streams"
		}
		var b strings.Builder
		for i, s := range streams {
			if i == maxListed {
				fmt.Fprintf(&b, "… %d more", len(streams)-maxListed)
				break
			}
			fmt.Fprintf(&b, "%s %s %s/%s KAS\n", s.ID, s.Status,
				stream.SompiToKas(s.AmountSent).String(), stream.SompiToKas(s.TotalAmount).String())
		}
		return strings.TrimSpace(b.String())
	case "/stats":
		st := ctl.Stats()
		return fmt.Sprintf("streams: %d (active %d)\nsent: %s KAS in %d txs\nflow: %s KAS/s",
			st.TotalStreams, st.ActiveStreams,
			stream.SompiToKas(st.TotalSent).String(), st.TotalTransactions,
			stream.SompiToKas(int64(st.CurrentFlowRate)).String(),
		)
	case "/pause", "/resume", "/cancel":
		if len(args) != 1 {
			return "usage: " + cmd + " <stream id>"
		}
		id := args[0]
		var err error
		switch cmd {
		case "/pause":
			err = ctl.Pause(ctx, id)
		case "/resume":
			err = ctl.Resume(ctx, id)
		default:
			err = ctl.Cancel(ctx, id)
		}
		if err != nil {
			return "error: " + err.Error()
		}
		return "ok: " + strings.TrimPrefix(cmd, "/") + " " + id
	}
	return "unknown command"
}
