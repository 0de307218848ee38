package reports

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	defaultOfficeBinary = "soffice"
	maxConverterOutput  = 512
)

// ConvertOptions describes one document conversion. The converter writes
// the PDF next to the input's base name inside OutDir.
type ConvertOptions struct {
	BinaryPath string
	InputPath  string
	OutDir     string
}

type Converter interface {
	Convert(ctx context.Context, options ConvertOptions) error
}

type officeConverter struct{}

// NewOfficeConverter converts through a headless LibreOffice binary.
func NewOfficeConverter() Converter {
	return &officeConverter{}
}

// officeArgs builds the command line. Each conversion gets its own user
// profile under OutDir, LibreOffice refuses to run twice on one profile.
func officeArgs(o ConvertOptions) []string {
	profile := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(o.OutDir, "profile"))}
	return []string{
		"-env:UserInstallation=" + profile.String(),
		"--headless",
		"--norestore",
		"--convert-to", "pdf",
		"--outdir", o.OutDir,
		o.InputPath,
	}
}

func (c *officeConverter) Convert(ctx context.Context, o ConvertOptions) error {
	bin := strings.TrimSpace(o.BinaryPath)
	if bin == "" {
		bin = defaultOfficeBinary
	}
	out, err := exec.CommandContext(ctx, bin, officeArgs(o)...).CombinedOutput()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", bin, ctx.Err())
	}
	msg := strings.TrimSpace(string(out))
	if len(msg) > maxConverterOutput {
		msg = msg[:maxConverterOutput]
	}
	if msg == "" {
		return fmt.Errorf("%s: %w", bin, err)
	}
	return fmt.Errorf("%s: %w: %s", bin, err, msg)
}
