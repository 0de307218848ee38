package reports

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serima/config"
	"serima/core/incidents"
	"serima/core/store"
)

type fakeConverter struct {
	input string
	err   error
	write bool
}

func (f *fakeConverter) Convert(_ context.Context, o ConvertOptions) error {
	f.input = o.InputPath
	if f.err != nil {
		return f.err
	}
	if !f.write {
		return nil
	}
	name := strings.TrimSuffix(filepath.Base(o.InputPath), ".html") + ".pdf"
	return os.WriteFile(filepath.Join(o.OutDir, name), []byte("%PDF-1.4 fake"), 0o600)
}

func sampleReport() *incidents.Report {
	detected := time.Date(2024, 5, 31, 22, 0, 0, 0, time.UTC)
	return &incidents.Report{
		Incident: &store.Incident{
			ID: 7, IncidentID: "ACME_ENE_ELE_0001_2024", CompanyName: "Acme <Power>",
			NotificationDate: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), DetectionDate: &detected,
			Contact: store.Contact{Firstname: "Alice", Lastname: "Martin"},
		},
		Bundle:  &store.SectorRegulation{RegulationLabel: "NIS", RegulatorName: "ILR"},
		Sectors: []string{"Electricity"},
		Workflows: []incidents.ReportWorkflow{{
			Run:     store.IncidentWorkflow{WorkflowName: "Early warning", Comment: "checked"},
			Answers: []incidents.ReportAnswer{{Question: "Root cause", Values: []string{"Hardware", "Human"}, Annex: "fan"}},
		}},
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "Incident_7_2024-06-02.pdf", FileName(&store.Incident{ID: 7}, time.Date(2024, 6, 2, 23, 0, 0, 0, time.UTC)))
}

func TestHTMLEscapesAndListsAnswers(t *testing.T) {
	r, err := NewRenderer(&config.AppConfig{SiteName: "Serima"}, &fakeConverter{}, nil)
	require.NoError(t, err)
	html, err := r.HTML(sampleReport(), time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	out := string(html)
	assert.Contains(t, out, "Serima - Incident ACME_ENE_ELE_0001_2024")
	assert.Contains(t, out, "Acme &lt;Power&gt;")
	assert.Contains(t, out, "2024-05-31 22:00")
	assert.Contains(t, out, "Hardware, Human - fan")
	assert.Contains(t, out, "Regulator comment")
}

func TestPDFUsesConverterOutput(t *testing.T) {
	conv := &fakeConverter{write: true}
	r, err := NewRenderer(&config.AppConfig{Reports: config.ReportsConfig{TempDir: t.TempDir()}}, conv, nil)
	require.NoError(t, err)
	pdf, err := r.PDF(context.Background(), sampleReport(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(pdf))
	_, statErr := os.Stat(conv.input)
	assert.True(t, os.IsNotExist(statErr), "scratch dir removed")
}

func TestPDFFailures(t *testing.T) {
	r, err := NewRenderer(&config.AppConfig{Reports: config.ReportsConfig{TempDir: t.TempDir()}}, &fakeConverter{}, nil)
	require.NoError(t, err)
	_, err = r.PDF(context.Background(), sampleReport(), time.Now())
	assert.ErrorIs(t, err, ErrEmptyOutput)

	boom := errors.New("soffice crashed")
	r, err = NewRenderer(&config.AppConfig{Reports: config.ReportsConfig{TempDir: t.TempDir()}}, &fakeConverter{err: boom}, nil)
	require.NoError(t, err)
	_, err = r.PDF(context.Background(), sampleReport(), time.Now())
	assert.ErrorIs(t, err, boom)
}

func TestOfficeArgsIsolateProfile(t *testing.T) {
	args := officeArgs(ConvertOptions{InputPath: "/tmp/r1/report.html", OutDir: "/tmp/r1"})
	assert.Equal(t, "-env:UserInstallation=file:///tmp/r1/profile", args[0])
	assert.Equal(t, "/tmp/r1/report.html", args[len(args)-1])
	assert.Contains(t, args, "--headless")
}

func TestOfficeConverterMissingBinary(t *testing.T) {
	dir := t.TempDir()
	err := NewOfficeConverter().Convert(context.Background(), ConvertOptions{
		BinaryPath: filepath.Join(dir, "no-such-soffice"),
		InputPath:  filepath.Join(dir, "report.html"),
		OutDir:     dir,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-soffice")
}
