// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// StatsReporter emite métricas periódicas da sessão no log: canais vivos,
// frames e bytes recebidos, mais cpu/mem do host rodando o viewer.
type StatsReporter struct {
	session  *Session
	logger   *slog.Logger
	interval time.Duration
	start    time.Time
	cancel   context.CancelFunc
	done     chan struct{}

	lastFrames uint64
	lastBytes  uint64
}

// NewStatsReporter cria um reporter com o intervalo dado.
func NewStatsReporter(session *Session, interval time.Duration, logger *slog.Logger) *StatsReporter {
	return &StatsReporter{
		session:  session,
		logger:   logger.With("component", "stats"),
		interval: interval,
		start:    time.Now(),
		done:     make(chan struct{}),
	}
}

// Start inicia a goroutine de reporting periódico.
func (sr *StatsReporter) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	sr.cancel = cancel

	go func() {
		defer close(sr.done)
		ticker := time.NewTicker(sr.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sr.report()
			case <-ctx.Done():
				return
			}
		}
	}()

	sr.logger.Info("stats reporter started", "interval", sr.interval)
}

// Stop para o reporter e aguarda a goroutine terminar.
func (sr *StatsReporter) Stop() {
	if sr.cancel != nil {
		sr.cancel()
	}
	<-sr.done
	sr.logger.Info("stats reporter stopped")
}

func (sr *StatsReporter) report() {
	stats := sr.session.Stats()

	frames := stats.FramesIn - sr.lastFrames
	bytes := stats.BytesIn - sr.lastBytes
	sr.lastFrames = stats.FramesIn
	sr.lastBytes = stats.BytesIn

	var cpuPercent, memPercent float64
	if percentage, err := cpu.Percent(0, false); err == nil && len(percentage) > 0 {
		cpuPercent = percentage[0]
	} else {
		sr.logger.Debug("failed to collect cpu stats", "error", err)
	}
	if v, err := mem.VirtualMemory(); err == nil {
		memPercent = v.UsedPercent
	} else {
		sr.logger.Debug("failed to collect memory stats", "error", err)
	}

	sr.logger.Info("session stats",
		"uptime_s", time.Since(sr.start).Seconds(),
		"connection_id", stats.ConnectionID,
		"channels", stats.Channels,
		"channels_up", stats.ChannelsUp,
		"frames_interval", frames,
		"bytes_interval", bytes,
		"frames_total", stats.FramesIn,
		"bytes_total", stats.BytesIn,
		"cpu_percent", cpuPercent,
		"mem_percent", memPercent,
	)
}
