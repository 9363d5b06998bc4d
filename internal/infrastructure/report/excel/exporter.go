package excel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/conversation-insights/internal/core/domain"
)

const (
	SheetDetail     = "Mensagens Classificadas"
	SheetStatistics = "Estatísticas"
	SheetPerUnit    = "Estatísticas por unidade"
	SheetSummary    = "Resumo"

	percentagePlaceholder = "-"
	percentageBasis       = "total de rótulos da própria tabela (soma das ocorrências)"
)

// Exporter writes the classification report as an .xlsx workbook.
type Exporter struct {
	dir string
	now func() time.Time
}

func NewExporter(dir string) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	return &Exporter{dir: dir, now: time.Now}, nil
}

// Export renders every sheet into a temp file and renames it into place.
func (e *Exporter) Export(ctx context.Context, report domain.Report) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetDetail); err != nil {
		return "", fmt.Errorf("rename detail sheet: %w", err)
	}
	if err := writeRows(f, SheetDetail, detailRows(report)); err != nil {
		return "", err
	}
	if err := addSheet(f, SheetStatistics, statisticsRows(report)); err != nil {
		return "", err
	}
	if report.Dimensions != nil {
		if err := addSheet(f, SheetPerUnit, perUnitRows(report.PerUnit)); err != nil {
			return "", err
		}
	}
	if err := addSheet(f, SheetSummary, summaryRows(report.Summary)); err != nil {
		return "", err
	}
	f.SetActiveSheet(0)

	path := filepath.Join(e.dir, e.fileName(report))
	tmp, err := os.CreateTemp(e.dir, ".report-*.xlsx")
	if err != nil {
		return "", fmt.Errorf("create temp report: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := f.Write(tmp); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("move report into place: %w", err)
	}
	return path, nil
}

func (e *Exporter) fileName(report domain.Report) string {
	profile := sanitize(report.Profile)
	if profile == "" {
		profile = "default"
	}
	name := fmt.Sprintf("analise_mensagens_%s_%s", profile, e.now().Format("20060102"))
	if runID := sanitize(report.Summary.RunID); runID != "" {
		if len(runID) > 8 {
			runID = runID[:8]
		}
		name += "_" + runID
	}
	return name + ".xlsx"
}

func detailRows(report domain.Report) [][]any {
	withUnit := report.Dimensions != nil
	header := []any{"ID", "Mensagem Original", "Assunto"}
	if withUnit {
		header = append(header, "Unidade")
	}
	header = append(header, "Tokens")

	rows := [][]any{header}
	for _, record := range report.Detail {
		row := []any{record.CorrelationID, record.OriginalText, strings.Join(record.Subjects, ", ")}
		if withUnit {
			unit := record.Auxiliary
			if unit == "" {
				unit = report.DimensionFallback
			}
			row = append(row, unit)
		}
		row = append(row, record.TokenCount)
		rows = append(rows, row)
	}
	return rows
}

func statisticsRows(report domain.Report) [][]any {
	table := report.Subjects
	if report.Dimensions != nil {
		table = *report.Dimensions
	}

	var rows [][]any
	if table.Dimensioned {
		rows = append(rows, []any{"Unidade", "Assunto", "Quantidade", "Porcentagem (%)"})
	} else {
		rows = append(rows, []any{"Assunto", "Quantidade", "Porcentagem (%)"})
	}
	for _, stat := range table.Rows {
		var pct any = stat.Percentage
		if stat.Kind == domain.StatKindTotalTokens {
			pct = percentagePlaceholder
		}
		switch {
		case !table.Dimensioned:
			rows = append(rows, []any{stat.Label, stat.Count, pct})
		case stat.Kind == domain.StatKindLabel:
			rows = append(rows, []any{stat.Dimension, stat.Label, stat.Count, pct})
		default:
			rows = append(rows, []any{stat.Label, "", stat.Count, pct})
		}
	}
	return rows
}

func perUnitRows(summaries []domain.DimensionSummary) [][]any {
	rows := [][]any{{"Unidade", "Total de Assuntos", "Assunto Mais Buscado", "Detalhes"}}
	for _, s := range summaries {
		top := s.TopLabel
		if top == "" {
			top = "N/A"
		}
		rows = append(rows, []any{s.Dimension, s.TotalLabels, top, s.Details})
	}
	return rows
}

func summaryRows(s domain.RunSummary) [][]any {
	return [][]any{
		{"Campo", "Valor"},
		{"Run ID", s.RunID},
		{"Job ID", s.JobID},
		{"Perfil", s.Profile},
		{"Conversas extraídas", s.Extracted},
		{"Conversas ignoradas", s.EncodeSkipped},
		{"Requisições enviadas", s.Submitted},
		{"Linhas de resultado", s.ResultLines},
		{"Linhas inválidas", s.ParseErrors},
		{"Itens com falha", s.FailedItems},
		{"Conversas sem resultado", s.MissingResults},
		{"Resultados sem conversa", s.UnknownCorrelated},
		{"Total de tokens", s.TotalTokens},
		{"Base dos percentuais", percentageBasis},
	}
}

func addSheet(f *excelize.File, name string, rows [][]any) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	return writeRows(f, name, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return b.String()
}
