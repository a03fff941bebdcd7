// Package assemble turns an ordered sequence of captured slide frames into
// one paged PDF. Each frame becomes a full-bleed landscape page, in frame
// order. Assembly failures are reported distinctly from capture errors and
// never invalidate the frames already captured.
package assemble

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// ErrAssembly is the assembly-stage failure kind.
var ErrAssembly = errors.New("assemble: document assembly failed")

// importDesc lays each image full-bleed on a landscape A4 page.
const importDesc = "form:A4L, pos:full"

// Assembler writes slide PDFs.
type Assembler struct {
	logger *slog.Logger
	imp    *pdfcpu.Import
	conf   *model.Configuration
}

// New creates an Assembler.
func New(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	imp, err := api.Import(importDesc, types.POINTS)
	if err != nil {
		// Fall back to pdfcpu's stock import layout rather than fail
		// construction; pages still come out one image each, in order.
		logger.Warn("assemble: import description rejected, using defaults",
			"desc", importDesc, "error", err)
		imp = nil
	}

	return &Assembler{logger: logger, imp: imp, conf: conf}
}

// Assemble writes one PDF page per frame, in slice order, to w.
func (a *Assembler) Assemble(frames [][]byte, w io.Writer) error {
	if len(frames) == 0 {
		return fmt.Errorf("%w: no frames", ErrAssembly)
	}

	imgs := make([]io.Reader, len(frames))
	for i, f := range frames {
		if len(f) == 0 {
			return fmt.Errorf("%w: empty frame at position %d", ErrAssembly, i)
		}
		imgs[i] = bytes.NewReader(f)
	}

	if err := api.ImportImages(nil, w, imgs, a.imp, a.conf); err != nil {
		return fmt.Errorf("%w: %v", ErrAssembly, err)
	}

	a.logger.Info("assemble: document written", "pages", len(frames))
	return nil
}

// AssembleFile writes the document to path, removing the partial file when
// assembly fails.
func (a *Assembler) AssembleFile(frames [][]byte, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrAssembly, path, err)
	}

	if err := a.Assemble(frames, f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("%w: close %s: %v", ErrAssembly, path, err)
	}
	return nil
}

// PageCount reports the page count of a written document.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("assemble: page count: %w", err)
	}
	return n, nil
}
