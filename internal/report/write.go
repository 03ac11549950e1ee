package report

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// WriteCSV writes each report section as its own CSV file under dir.
func (r *Report) WriteCSV(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "report: create %s", dir)
	}
	sections := []struct {
		name string
		rows any
	}{
		{"statewide.csv", r.Statewide},
		{"regional.csv", r.Regional},
		{"demographics.csv", r.Demographics},
		{"transit_dependent.csv", r.Transit},
		{"crosstab.csv", r.CrossTab},
	}
	for _, s := range sections {
		data, err := csvutil.Marshal(s.rows)
		if err != nil {
			return eris.Wrapf(err, "report: marshal %s", s.name)
		}
		if err := os.WriteFile(filepath.Join(dir, s.name), data, 0o644); err != nil {
			return eris.Wrapf(err, "report: write %s", s.name)
		}
	}
	return nil
}

// WriteXLSX writes the whole report as one workbook, a sheet per section.
func (r *Report) WriteXLSX(path string) error {
	f := xlsx.NewFile()

	if err := addSheet(f, "Statewide", []string{"Label", "Count", "Share %"}, len(r.Statewide), func(row *xlsx.Row, i int) {
		s := r.Statewide[i]
		row.AddCell().SetString(s.Label)
		row.AddCell().SetInt(s.Count)
		row.AddCell().SetFloat(s.Share)
	}); err != nil {
		return err
	}

	if err := addSheet(f, "Regional", []string{"Region", "Label", "Count", "Share %"}, len(r.Regional), func(row *xlsx.Row, i int) {
		s := r.Regional[i]
		row.AddCell().SetString(s.Region)
		row.AddCell().SetString(s.Label)
		row.AddCell().SetInt(s.Count)
		row.AddCell().SetFloat(s.Share)
	}); err != nil {
		return err
	}

	if err := addSheet(f, "Demographics", []string{"Label", "Attribute", "Tracts", "Mean", "Median", "Std Dev"}, len(r.Demographics), func(row *xlsx.Row, i int) {
		s := r.Demographics[i]
		row.AddCell().SetString(s.Label)
		row.AddCell().SetString(s.Attribute)
		row.AddCell().SetInt(s.Tracts)
		row.AddCell().SetFloat(s.Mean)
		row.AddCell().SetFloat(s.Median)
		row.AddCell().SetFloat(s.StdDev)
	}); err != nil {
		return err
	}

	if err := addSheet(f, "Transit Dependent", []string{"Label", "Population", "No-Vehicle Population"}, len(r.Transit), func(row *xlsx.Row, i int) {
		s := r.Transit[i]
		row.AddCell().SetString(s.Label)
		row.AddCell().SetFloat(s.Population)
		row.AddCell().SetFloat(s.NoVehiclePopulation)
	}); err != nil {
		return err
	}

	if err := addSheet(f, "Cross Tab", []string{"Label", "Quintile", "Count"}, len(r.CrossTab), func(row *xlsx.Row, i int) {
		s := r.CrossTab[i]
		row.AddCell().SetString(s.Label)
		row.AddCell().SetInt(s.Quintile)
		row.AddCell().SetInt(s.Count)
	}); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create dir for %s", path)
	}
	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func addSheet(f *xlsx.File, name string, headers []string, n int, fill func(*xlsx.Row, int)) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "report: add sheet %s", name)
	}
	hdr := sheet.AddRow()
	for _, h := range headers {
		hdr.AddCell().SetString(h)
	}
	for i := 0; i < n; i++ {
		fill(sheet.AddRow(), i)
	}
	return nil
}

// WriteText renders a human-readable summary with locale-aware number
// formatting.
func (r *Report) WriteText(w io.Writer) error {
	p := message.NewPrinter(language.English)
	var buf bytes.Buffer

	p.Fprintf(&buf, "Scheme: %s\n", r.Scheme)
	p.Fprintf(&buf, "Generated: %s\n\n", r.Generated.Format("2006-01-02 15:04:05 MST"))

	p.Fprintf(&buf, "Statewide\n")
	for _, s := range r.Statewide {
		p.Fprintf(&buf, "  %-28s %8d  (%.1f%%)\n", s.Label, s.Count, s.Share)
	}
	if r.Excluded > 0 {
		p.Fprintf(&buf, "  %-28s %8d\n", "Excluded", r.Excluded)
	}

	if len(r.Transit) > 0 {
		p.Fprintf(&buf, "\nPopulation\n")
		for _, tr := range r.Transit {
			p.Fprintf(&buf, "  %-28s %12.0f  (no vehicle: %.0f)\n",
				tr.Label, tr.Population, tr.NoVehiclePopulation)
		}
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return eris.Wrap(err, "report: write text summary")
	}
	return nil
}
