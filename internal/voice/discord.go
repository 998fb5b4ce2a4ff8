// Package voice implements the playback collaborator: join a voice channel,
// play a sound asset, leave. The Discord gateway and voice transport live in
// discordgo; this package only drives them.
package voice

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	logx "respawnbot/pkg/logx"
)

type Config struct {
	Token      string
	RatePerSec int
}

// DiscordPlayer plays DCA-encoded sound assets on voice channels.
//
// A single session mutex serializes plays: concurrent fire requests (both
// timers colliding, manual play during a scheduled one) queue rather than
// fight over the shared voice connection.
type DiscordPlayer struct {
	session *discordgo.Session
	log     logx.Logger
	limiter *rate.Limiter

	// voiceMu is the voice-session mutex.
	voiceMu sync.Mutex

	// assetMu guards the decoded frame cache.
	assetMu sync.Mutex
	assets  map[string][][]byte
}

func NewDiscordPlayer(cfg Config, log logx.Logger) (*DiscordPlayer, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord token is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	return &DiscordPlayer{
		session: s,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		assets:  map[string][][]byte{},
	}, nil
}

// Open connects the gateway. Call once at startup.
func (p *DiscordPlayer) Open() error {
	if err := p.session.Open(); err != nil {
		return fmt.Errorf("discord gateway open: %w", err)
	}
	p.log.Info("discord session opened")
	return nil
}

func (p *DiscordPlayer) Close() error {
	return p.session.Close()
}

// PlayOnce joins the channel, plays the asset once, and leaves.
func (p *DiscordPlayer) PlayOnce(ctx context.Context, channelID uint64, asset string) error {
	frames, err := p.loadAsset(asset)
	if err != nil {
		return err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	p.voiceMu.Lock()
	defer p.voiceMu.Unlock()

	chID := strconv.FormatUint(channelID, 10)
	ch, err := p.session.Channel(chID)
	if err != nil {
		return fmt.Errorf("channel lookup %d: %w", channelID, err)
	}

	vc, err := p.session.ChannelVoiceJoin(ch.GuildID, chID, false, true)
	if err != nil {
		return fmt.Errorf("voice join %d: %w", channelID, err)
	}
	defer func() {
		if derr := vc.Disconnect(); derr != nil {
			p.log.Debug("voice disconnect failed", logx.Uint64("channel", channelID), logx.Err(derr))
		}
	}()

	// Give the voice handshake a moment before streaming.
	if err := waitCtx(ctx, 250*time.Millisecond); err != nil {
		return err
	}

	if err := vc.Speaking(true); err != nil {
		return fmt.Errorf("speaking on: %w", err)
	}
	defer func() { _ = vc.Speaking(false) }()

	for _, frame := range frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case vc.OpusSend <- frame:
		}
	}
	return nil
}

// loadAsset reads and caches a DCA file: repeated [int16 LE length][opus data]
// frames until EOF.
func (p *DiscordPlayer) loadAsset(path string) ([][]byte, error) {
	p.assetMu.Lock()
	defer p.assetMu.Unlock()
	if frames, ok := p.assets[path]; ok {
		return frames, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sound asset %q: %w", path, err)
	}
	defer f.Close()

	var frames [][]byte
	for {
		var opuslen int16
		err := binary.Read(f, binary.LittleEndian, &opuslen)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sound asset %q: reading frame length: %w", path, err)
		}
		// A corrupt file can carry a negative length; never let it reach make.
		if opuslen <= 0 {
			return nil, fmt.Errorf("sound asset %q: invalid frame length %d", path, opuslen)
		}
		buf := make([]byte, opuslen)
		if err := binary.Read(f, binary.LittleEndian, &buf); err != nil {
			return nil, fmt.Errorf("sound asset %q: reading frame: %w", path, err)
		}
		frames = append(frames, buf)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("sound asset %q: no opus frames", path)
	}

	p.assets[path] = frames
	return frames, nil
}

func waitCtx(ctx context.Context, d time.Duration) error {
	tmr := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !tmr.Stop() {
			<-tmr.C
		}
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
