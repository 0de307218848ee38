package reports

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"serima/config"
	"serima/core/incidents"
	"serima/core/store"
	"serima/core/utils"
)

//go:embed templates/*.html
var templatesFS embed.FS

var ErrEmptyOutput = errors.New("converter produced no pdf")

// FileName is the download name of an incident report generated on day.
func FileName(inc *store.Incident, day time.Time) string {
	return fmt.Sprintf("Incident_%d_%s.pdf", inc.ID, day.Format("2006-01-02"))
}

type Renderer struct {
	cfg       config.ReportsConfig
	siteName  string
	converter Converter
	tpl       *template.Template
	logger    *utils.Logger
}

func NewRenderer(cfg *config.AppConfig, converter Converter, logger *utils.Logger) (*Renderer, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if converter == nil {
		converter = NewOfficeConverter()
	}
	tpl, err := template.New("report.html").Funcs(template.FuncMap{
		"date":     formatDate,
		"datePtr":  formatDatePtr,
		"join":     strings.Join,
		"yesno":    yesNo,
		"fullName": func(c store.Contact) string { return c.FullName() },
	}).ParseFS(templatesFS, "templates/report.html")
	if err != nil {
		return nil, err
	}
	r := &Renderer{converter: converter, tpl: tpl, logger: logger}
	if cfg != nil {
		r.cfg = cfg.Reports
		r.siteName = cfg.SiteName
	}
	return r, nil
}

type reportView struct {
	SiteName    string
	GeneratedAt time.Time
	*incidents.Report
}

// HTML renders the report document that is handed to the converter.
func (r *Renderer) HTML(rep *incidents.Report, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, reportView{SiteName: r.siteName, GeneratedAt: now, Report: rep}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PDF renders the report and converts it in a scratch directory that is
// removed afterwards.
func (r *Renderer) PDF(ctx context.Context, rep *incidents.Report, now time.Time) ([]byte, error) {
	html, err := r.HTML(rep, now)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	dir, err := os.MkdirTemp(r.cfg.TempDir, "serima-report-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)
	input := filepath.Join(dir, "report.html")
	if err := os.WriteFile(input, html, 0o600); err != nil {
		return nil, err
	}
	timeout := time.Duration(r.cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	convCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	if err := r.converter.Convert(convCtx, ConvertOptions{BinaryPath: r.cfg.ConverterPath, InputPath: input, OutDir: dir}); err != nil {
		r.logger.Errorf("REPORT %s conversion failed: %v", rep.Incident.IncidentID, err)
		return nil, fmt.Errorf("convert report: %w", err)
	}
	out, err := os.ReadFile(filepath.Join(dir, "report.pdf"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrEmptyOutput
		}
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrEmptyOutput
	}
	r.logger.Printf("REPORT %s generated in %s (%d bytes)", rep.Incident.IncidentID, time.Since(start).Round(time.Millisecond), len(out))
	return out, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatDate(*t)
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
