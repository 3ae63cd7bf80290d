package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"layeh.com/gopus"

	"github.com/lobacast/loba/internal/config"
	"github.com/lobacast/loba/pkg/audio"
)

// Discord voice carries 48 kHz stereo Opus in 20 ms frames.
const (
	discordSampleRate = 48000
	discordChannels   = 2
	// discordFrameSize is samples per channel per 20 ms frame.
	discordFrameSize = discordSampleRate * 20 / 1000 // 960
)

// opusDecoder is the decode surface of *gopus.Decoder, extracted so tests
// can substitute a fake.
type opusDecoder interface {
	Decode(data []byte, frameSize int, fec bool) ([]int16, error)
}

// Discord captures the incoming audio of one voice channel. All
// participants are folded into a single caption stream; overlapping speech
// interleaves at packet granularity.
type Discord struct {
	cfg      config.DiscordConfig
	chunkCfg config.AudioConfig
	sink     Sink

	// newDecoder builds a per-participant decoder. Overridden in tests.
	newDecoder func() (opusDecoder, error)
}

// NewDiscord creates a Discord voice-channel source.
func NewDiscord(cfg config.DiscordConfig, chunkCfg config.AudioConfig, sink Sink) (*Discord, error) {
	if cfg.BotToken == "" || cfg.GuildID == "" || cfg.ChannelID == "" {
		return nil, errors.New("capture: discord bot_token, guild_id, and channel_id are required")
	}
	if sink == nil {
		return nil, errors.New("capture: sink must not be nil")
	}
	return &Discord{
		cfg:      cfg,
		chunkCfg: chunkCfg,
		sink:     sink,
		newDecoder: func() (opusDecoder, error) {
			return gopus.NewDecoder(discordSampleRate, discordChannels)
		},
	}, nil
}

// Run connects, joins the voice channel, and feeds decoded audio to the sink
// until ctx is cancelled. Connection loss is fatal.
func (d *Discord) Run(ctx context.Context) error {
	sess, err := discordgo.New("Bot " + d.cfg.BotToken)
	if err != nil {
		return fmt.Errorf("capture: discord session: %w", err)
	}
	sess.Identify.Intents = discordgo.IntentsGuildVoiceStates

	if err := sess.Open(); err != nil {
		return fmt.Errorf("capture: discord connect: %w", err)
	}
	defer sess.Close()

	// mute=true (the bot never speaks), deaf=false (it must hear).
	vc, err := sess.ChannelVoiceJoin(d.cfg.GuildID, d.cfg.ChannelID, true, false)
	if err != nil {
		return fmt.Errorf("capture: join voice channel %s: %w", d.cfg.ChannelID, err)
	}
	defer vc.Disconnect()

	slog.Info("capture: discord voice joined",
		"guild", d.cfg.GuildID, "channel", d.cfg.ChannelID)

	return d.recvLoop(ctx, vc.OpusRecv)
}

// recvLoop demuxes Opus packets by SSRC, decodes each participant with its
// own stateful decoder, and folds the downmixed 16 kHz mono samples into the
// shared chunker.
func (d *Discord) recvLoop(ctx context.Context, packets <-chan *discordgo.Packet) error {
	ck := newChunker(audio.DefaultSampleRate, d.chunkCfg.ChunkDuration(), d.sink)
	decoders := make(map[uint32]opusDecoder)

	for {
		select {
		case <-ctx.Done():
			ck.flush()
			return nil
		case pkt, ok := <-packets:
			if !ok {
				ck.flush()
				return errors.New("capture: discord voice stream closed")
			}
			if pkt == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = d.newDecoder()
				if err != nil {
					slog.Error("capture: opus decoder create failed", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
				slog.Debug("capture: new voice participant", "ssrc", pkt.SSRC)
			}

			pcm, err := dec.Decode(pkt.Opus, discordFrameSize, false)
			if err != nil {
				slog.Warn("capture: opus decode error", "ssrc", pkt.SSRC, "err", err)
				continue
			}

			mono := audio.StereoToMono(pcm)
			ck.push(audio.ResampleMono(mono, discordSampleRate, audio.DefaultSampleRate))
		}
	}
}

var _ Source = (*Discord)(nil)
