// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Viewer License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package capture grava os frames inbound de uma sessão em arquivos
// comprimidos, com rotação por tamanho e offload opcional para S3. O
// formato é uma sequência de records [nome do canal, data header,
// payload] dentro de um stream gzip ou zstd.
package capture

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/nishisan-dev/n-viewer/internal/protocol"
)

// Modos de compressão do arquivo de captura.
const (
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// captureMagic abre cada arquivo de captura, antes da compressão ser
// aplicada ao restante do stream.
var captureMagic = [4]byte{'N', 'V', 'C', 'P'}

// captureVersion é a versão do formato de record.
const captureVersion byte = 0x01

// Config configura o Recorder.
type Config struct {
	Dir         string
	Compression string // gzip (default) ou zstd
	RotateMax   int64  // bytes de record (antes da compressão) por arquivo antes de rotacionar
}

// Recorder grava records de frame em um arquivo comprimido corrente.
// Seguro para uso concorrente; o caminho quente é uma escrita serializada
// por mutex.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	file   *os.File
	comp   io.WriteCloser
	size   int64
	seq    int
	closed bool
}

// NewRecorder cria o diretório de captura e abre o primeiro arquivo.
func NewRecorder(cfg Config, logger *slog.Logger) (*Recorder, error) {
	if cfg.Compression == "" {
		cfg.Compression = CompressionGzip
	}
	if cfg.Compression != CompressionGzip && cfg.Compression != CompressionZstd {
		return nil, fmt.Errorf("capture: unknown compression %q", cfg.Compression)
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating capture directory: %w", err)
	}

	r := &Recorder{
		cfg:    cfg,
		logger: logger.With("component", "capture"),
	}
	if err := r.openLocked(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) ext() string {
	if r.cfg.Compression == CompressionZstd {
		return "nvcap.zst"
	}
	return "nvcap.gz"
}

// openLocked abre o próximo arquivo de captura. Chamado com r.mu held (ou
// antes do Recorder ser publicado).
func (r *Recorder) openLocked() error {
	name := fmt.Sprintf("capture-%s-%04d.%s",
		time.Now().UTC().Format("20060102T150405"), r.seq, r.ext())
	r.seq++

	f, err := os.OpenFile(filepath.Join(r.cfg.Dir, name),
		os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening capture file: %w", err)
	}
	if _, err := f.Write(captureMagic[:]); err != nil {
		f.Close()
		return fmt.Errorf("writing capture magic: %w", err)
	}
	if _, err := f.Write([]byte{captureVersion}); err != nil {
		f.Close()
		return fmt.Errorf("writing capture version: %w", err)
	}

	switch r.cfg.Compression {
	case CompressionZstd:
		zw, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("creating zstd writer: %w", err)
		}
		r.comp = zw
	default:
		r.comp = pgzip.NewWriter(f)
	}

	r.file = f
	r.size = 0
	r.logger.Info("capture file opened", "file", name)
	return nil
}

// Record anexa um frame ao arquivo corrente. Formato do record:
// [NameLen u8] [Name] [DataHeader 18B] [payload].
func (r *Recorder) Record(channel string, hdr protocol.DataHeader, payload []byte) error {
	if len(channel) > 255 {
		channel = channel[:255]
	}

	var hdrBuf [protocol.DataHeaderSize]byte
	protocol.PutDataHeader(hdrBuf[:], &hdr)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("capture: recorder closed")
	}

	if _, err := r.comp.Write([]byte{byte(len(channel))}); err != nil {
		return fmt.Errorf("writing record name length: %w", err)
	}
	if _, err := io.WriteString(r.comp, channel); err != nil {
		return fmt.Errorf("writing record name: %w", err)
	}
	if _, err := r.comp.Write(hdrBuf[:]); err != nil {
		return fmt.Errorf("writing record header: %w", err)
	}
	if _, err := r.comp.Write(payload); err != nil {
		return fmt.Errorf("writing record payload: %w", err)
	}
	r.size += int64(1 + len(channel) + protocol.DataHeaderSize + len(payload))

	if r.cfg.RotateMax > 0 && r.size >= r.cfg.RotateMax {
		if _, err := r.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Rotate fecha o arquivo corrente e abre o próximo, retornando o path do
// arquivo fechado ("" se nada foi gravado nele ainda).
func (r *Recorder) Rotate() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", fmt.Errorf("capture: recorder closed")
	}
	if r.size == 0 {
		return "", nil
	}
	return r.rotateLocked()
}

func (r *Recorder) rotateLocked() (string, error) {
	path := r.file.Name()
	if err := r.closeCurrentLocked(); err != nil {
		return "", err
	}
	if err := r.openLocked(); err != nil {
		return "", err
	}
	r.logger.Info("capture file rotated", "file", filepath.Base(path))
	return path, nil
}

func (r *Recorder) closeCurrentLocked() error {
	if err := r.comp.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("closing compressor: %w", err)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("closing capture file: %w", err)
	}
	return nil
}

// Close finaliza o arquivo corrente. Records posteriores falham.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.closeCurrentLocked()
}

// Record do arquivo de captura decodificado por ReadCapture.
type Record struct {
	Channel string
	Header  protocol.DataHeader
	Payload []byte
}

// ReadCapture decodifica um arquivo de captura inteiro, para inspeção e
// replay em ferramentas de debug.
func ReadCapture(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening capture: %w", err)
	}
	defer f.Close()

	var magic [5]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return nil, fmt.Errorf("reading capture magic: %w", err)
	}
	if [4]byte(magic[:4]) != captureMagic {
		return nil, fmt.Errorf("capture: bad magic in %s", path)
	}
	if magic[4] != captureVersion {
		return nil, fmt.Errorf("capture: unsupported version %d", magic[4])
	}

	var cr io.Reader
	switch filepath.Ext(path) {
	case ".zst":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		defer zr.Close()
		cr = zr
	default:
		gr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gr.Close()
		cr = gr
	}

	var records []Record
	for {
		var nameLen [1]byte
		if _, err := io.ReadFull(cr, nameLen[:]); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return nil, fmt.Errorf("reading record name length: %w", err)
		}
		name := make([]byte, nameLen[0])
		if _, err := io.ReadFull(cr, name); err != nil {
			return nil, fmt.Errorf("reading record name: %w", err)
		}
		var hdrBuf [protocol.DataHeaderSize]byte
		if _, err := io.ReadFull(cr, hdrBuf[:]); err != nil {
			return nil, fmt.Errorf("reading record header: %w", err)
		}
		hdr, err := protocol.ParseDataHeader(hdrBuf[:])
		if err != nil {
			return nil, err
		}
		if hdr.Size > protocol.MaxMessageSize {
			return nil, protocol.ErrFrameTooLarge
		}
		payload := make([]byte, hdr.Size)
		if _, err := io.ReadFull(cr, payload); err != nil {
			return nil, fmt.Errorf("reading record payload: %w", err)
		}
		records = append(records, Record{
			Channel: string(name),
			Header:  hdr,
			Payload: payload,
		})
	}
}
