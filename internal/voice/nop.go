package voice

import (
	"context"

	logx "respawnbot/pkg/logx"
)

// NopPlayer is used when Discord is disabled: timers fire and are audited,
// nothing is played. Handy for development and for dry-running a schedule.
type NopPlayer struct {
	log logx.Logger
}

func NewNopPlayer(log logx.Logger) *NopPlayer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &NopPlayer{log: log}
}

func (p *NopPlayer) PlayOnce(ctx context.Context, channelID uint64, asset string) error {
	_ = ctx
	p.log.Debug("playback skipped (discord disabled)",
		logx.Uint64("channel", channelID), logx.String("asset", asset))
	return nil
}
