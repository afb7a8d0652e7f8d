// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// nviewer é o client headless: conecta no host de virtualização, abre o
// canal main e os canais configurados (mais os anunciados pelo server), e
// mantém a sessão com captura e métricas opcionais até receber SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nishisan-dev/n-viewer/internal/capture"
	"github.com/nishisan-dev/n-viewer/internal/client"
	"github.com/nishisan-dev/n-viewer/internal/codec"
	"github.com/nishisan-dev/n-viewer/internal/config"
	"github.com/nishisan-dev/n-viewer/internal/logging"
	"github.com/nishisan-dev/n-viewer/internal/protocol"
)

func main() {
	configPath := flag.String("config", "/etc/nviewer/client.yaml", "path to client config file")
	flag.Parse()

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("viewer error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.ClientConfig, logger *slog.Logger) error {
	// Trace por conexão, quando configurado.
	traceName := cfg.Server.Host + "-" + strconv.FormatInt(time.Now().Unix(), 10)
	logger, traceCloser, tracePath, err := logging.NewTraceLogger(
		logger, cfg.Server.TraceDir, cfg.Server.Host, traceName)
	if err != nil {
		return fmt.Errorf("creating trace logger: %w", err)
	}
	defer traceCloser.Close()
	if tracePath != "" {
		logger.Info("protocol trace enabled", "file", tracePath)
	}

	session := client.NewSession(client.SessionConfig{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		TLSPort:            cfg.Server.TLSPort,
		Password:           cfg.Server.Password,
		CAFile:             cfg.Server.CACert,
		InsecureSkipVerify: cfg.Server.InsecureSkipVerify,
		MotionRate:         cfg.Input.MotionRate,
	}, logger)
	defer session.Close()

	session.SetDisplaySink(&loggingDisplaySink{logger: logger})
	session.SetCursorSink(&loggingCursorSink{logger: logger})
	session.SetPlaybackSink(&loggingPlaybackSink{logger: logger})

	// Captura de frames + offload opcional para S3.
	var recorder *capture.Recorder
	var offloader *capture.S3Offloader
	if cfg.Capture.Enabled {
		recorder, err = capture.NewRecorder(capture.Config{
			Dir:         cfg.Capture.Dir,
			Compression: cfg.Capture.Compression,
			RotateMax:   cfg.Capture.RotateRaw,
		}, logger)
		if err != nil {
			return fmt.Errorf("creating capture recorder: %w", err)
		}
		defer recorder.Close()
		session.SetRecorder(recorder)

		if cfg.Capture.S3.Bucket != "" {
			offloader, err = capture.NewS3Offloader(context.Background(), capture.S3Config{
				Bucket: cfg.Capture.S3.Bucket,
				Region: cfg.Capture.S3.Region,
				Prefix: cfg.Capture.S3.Prefix,
			}, logger)
			if err != nil {
				return fmt.Errorf("creating s3 offloader: %w", err)
			}
		}
	}

	session.OnEvent(func(c *client.Channel, ev client.ChannelEvent) {
		if ev.IsError() {
			logger.Error("channel event", "channel", c.Name(), "event", ev.String())
			return
		}
		logger.Info("channel event", "channel", c.Name(), "event", ev.String())
	})

	// Canais anunciados pelo server que ainda não existem são criados e
	// conectados na hora.
	session.OnChannelsList(func(list []codec.ChannelID) {
		for _, ref := range list {
			if session.Channel(ref.Type, ref.ID) != nil {
				continue
			}
			c, err := session.NewChannel(ref.Type, ref.ID)
			if err != nil {
				logger.Warn("skipping announced channel",
					"type", ref.Type.String(), "id", ref.ID, "error", err)
				continue
			}
			c.Connect()
		}
	})

	// O canal main sempre sobe primeiro; os demais vêm da config.
	mainCh, err := session.NewChannel(protocol.ChannelMain, 0)
	if err != nil {
		return fmt.Errorf("creating main channel: %w", err)
	}
	if err := mainCh.Connect(); err != nil {
		return fmt.Errorf("connecting main channel: %w", err)
	}
	for _, ref := range cfg.Channels {
		typ, err := channelTypeFromName(ref.Type)
		if err != nil {
			return err
		}
		c, err := session.NewChannel(typ, uint8(ref.ID))
		if err != nil {
			return fmt.Errorf("creating channel %s:%d: %w", ref.Type, ref.ID, err)
		}
		c.Connect()
	}

	stats := client.NewStatsReporter(session, cfg.Stats.Interval, logger)
	stats.Start()
	defer stats.Stop()

	// Jobs periódicos: rotação + offload das capturas.
	sched := cron.New()
	if recorder != nil {
		if _, err := sched.AddFunc("@every 10m", func() {
			rotated, err := recorder.Rotate()
			if err != nil {
				logger.Error("capture rotation failed", "error", err)
				return
			}
			if rotated == "" || offloader == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := offloader.Offload(ctx, rotated); err != nil {
				logger.Error("capture offload failed", "file", rotated, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("scheduling capture rotation: %w", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	logger.Info("viewer started",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"tls_port", cfg.Server.TLSPort,
		"channels", len(cfg.Channels)+1,
	)

	// Aguarda SIGTERM/SIGINT.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())
	return nil
}

func channelTypeFromName(name string) (protocol.ChannelType, error) {
	switch name {
	case "main":
		return protocol.ChannelMain, nil
	case "display":
		return protocol.ChannelDisplay, nil
	case "inputs":
		return protocol.ChannelInputs, nil
	case "cursor":
		return protocol.ChannelCursor, nil
	case "playback":
		return protocol.ChannelPlayback, nil
	}
	return 0, fmt.Errorf("unknown channel type %q", name)
}

// Sinks headless: registram os updates no log. Uma UI real substitui cada
// um pelo widget correspondente.

type loggingDisplaySink struct {
	logger *slog.Logger
}

func (s *loggingDisplaySink) ModeChanged(width, height, depth uint32) {
	s.logger.Info("display mode", "width", width, "height", height, "depth", depth)
}

func (s *loggingDisplaySink) Marked() {
	s.logger.Debug("display marked")
}

func (s *loggingDisplaySink) Reset() {
	s.logger.Debug("display reset")
}

func (s *loggingDisplaySink) CopyBits(dest codec.Rect, srcPos codec.Point) {
	s.logger.Debug("display copy bits",
		"top", dest.Top, "left", dest.Left,
		"bottom", dest.Bottom, "right", dest.Right,
		"src_x", srcPos.X, "src_y", srcPos.Y)
}

type loggingCursorSink struct {
	logger *slog.Logger
}

func (s *loggingCursorSink) CursorSet(shape codec.CursorShape, pos codec.Point16, visible bool) {
	s.logger.Debug("cursor set",
		"shape_id", shape.ID, "x", pos.X, "y", pos.Y, "visible", visible)
}

func (s *loggingCursorSink) CursorMove(pos codec.Point16) {
	s.logger.Debug("cursor move", "x", pos.X, "y", pos.Y)
}

func (s *loggingCursorSink) CursorHide() {
	s.logger.Debug("cursor hide")
}

func (s *loggingCursorSink) CursorReset() {
	s.logger.Debug("cursor reset")
}

type loggingPlaybackSink struct {
	logger *slog.Logger
}

func (s *loggingPlaybackSink) PlaybackStart(channels, frequency uint32, format uint16) {
	s.logger.Info("playback start",
		"channels", channels, "frequency", frequency, "format", format)
}

func (s *loggingPlaybackSink) PlaybackData(time uint32, samples []byte) {
	s.logger.Debug("playback data", "time", time, "bytes", len(samples))
}

func (s *loggingPlaybackSink) PlaybackStop() {
	s.logger.Info("playback stop")
}
