// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config carrega e valida a configuração YAML do nviewer.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig representa a configuração completa do nviewer.
type ClientConfig struct {
	Server   ServerInfo   `yaml:"server"`
	Channels []ChannelRef `yaml:"channels"`
	Input    InputInfo    `yaml:"input"`
	Capture  CaptureInfo  `yaml:"capture"`
	Stats    StatsInfo    `yaml:"stats"`
	Logging  LoggingInfo  `yaml:"logging"`
}

// ServerInfo contém o endpoint do host de virtualização e as credenciais.
type ServerInfo struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	TLSPort            int    `yaml:"tls_port"`
	Password           string `yaml:"password"`
	CACert             string `yaml:"ca_cert"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	TraceDir           string `yaml:"trace_dir"`
}

// ChannelRef identifica um canal a abrir além do main (criado sempre).
type ChannelRef struct {
	Type string `yaml:"type"` // main, display, inputs, cursor, playback
	ID   int    `yaml:"id"`
}

// InputInfo configura o canal de inputs.
type InputInfo struct {
	// MotionRate limita eventos de mouse motion por segundo. 0 desabilita
	// o limiter (fica só a janela de motion-ack do protocolo).
	MotionRate int `yaml:"motion_rate"`
}

// CaptureInfo configura a captura de frames inbound para arquivo.
type CaptureInfo struct {
	Enabled        bool   `yaml:"enabled"`
	Dir            string `yaml:"dir"`
	Compression    string `yaml:"compression"` // "gzip" (default) ou "zstd"
	RotateMaxBytes string `yaml:"rotate_max_bytes"`
	RotateRaw      int64  `yaml:"-"`
	S3             S3Info `yaml:"s3"`
}

// S3Info configura o offload opcional das capturas rotacionadas.
type S3Info struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
}

// StatsInfo configura o reporter periódico de métricas.
type StatsInfo struct {
	Interval time.Duration `yaml:"interval"`
}

// LoggingInfo contém configurações de logging.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// LoadClientConfig lê e valida o arquivo YAML de configuração do nviewer.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}

	return &cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Port <= 0 && c.Server.TLSPort <= 0 {
		return fmt.Errorf("server.port or server.tls_port is required")
	}
	for i, ch := range c.Channels {
		switch ch.Type {
		case "main", "display", "inputs", "cursor", "playback":
		default:
			return fmt.Errorf("channels[%d].type %q is not a known channel type", i, ch.Type)
		}
		if ch.ID < 0 || ch.ID > 255 {
			return fmt.Errorf("channels[%d].id must be between 0 and 255, got %d", i, ch.ID)
		}
	}
	if c.Input.MotionRate < 0 {
		return fmt.Errorf("input.motion_rate must not be negative, got %d", c.Input.MotionRate)
	}

	if c.Capture.Enabled {
		if c.Capture.Dir == "" {
			return fmt.Errorf("capture.dir is required when capture is enabled")
		}
		switch c.Capture.Compression {
		case "":
			c.Capture.Compression = "gzip"
		case "gzip", "zstd":
		default:
			return fmt.Errorf("capture.compression must be gzip or zstd, got %q", c.Capture.Compression)
		}
		if c.Capture.RotateMaxBytes == "" {
			c.Capture.RotateMaxBytes = "64mb"
		}
		parsed, err := ParseByteSize(c.Capture.RotateMaxBytes)
		if err != nil {
			return fmt.Errorf("capture.rotate_max_bytes: %w", err)
		}
		c.Capture.RotateRaw = parsed
		if c.Capture.S3.Bucket != "" && c.Capture.S3.Region == "" {
			return fmt.Errorf("capture.s3.region is required when capture.s3.bucket is set")
		}
	}

	if c.Stats.Interval <= 0 {
		c.Stats.Interval = 5 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

// ParseByteSize converte strings human-readable como "256mb", "1gb" para bytes.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "gb"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "gb")
	case strings.HasSuffix(s, "mb"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "mb")
	case strings.HasSuffix(s, "kb"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "kb")
	case strings.HasSuffix(s, "b"):
		s = strings.TrimSuffix(s, "b")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("size must not be negative")
	}

	return value * multiplier, nil
}
