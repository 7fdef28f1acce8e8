// Package report writes run results as CSV files or an XLSX workbook.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresuchdata/mixopt/internal/analysis"
	"github.com/andresuchdata/mixopt/internal/config"
	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/andresuchdata/mixopt/internal/normalize"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// Cell is a report value. Numeric cells stay numbers in XLSX and are
// formatted with the locale in CSV.
type Cell struct {
	Text    string
	Number  float64
	Numeric bool
	Percent bool
}

func text(s string) Cell    { return Cell{Text: s} }
func num(v float64) Cell    { return Cell{Number: v, Numeric: true} }
func pct(v float64) Cell    { return Cell{Number: v, Numeric: true, Percent: true} }
func integer(v int64) Cell  { return Cell{Text: strconv.FormatInt(v, 10)} }
func boolean(v bool) Cell   { return Cell{Text: strconv.FormatBool(v)} }
func sku(s domain.SKU) Cell { return integer(int64(s)) }

// Sheet is one output table.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]Cell
}

// Sheets lays out res as the detailed result, the per-SKU variation, the
// per-class summary, the run summary and the warnings.
func Sheets(res *domain.RunResult) []Sheet {
	out := Sheet{Name: "resultado_realocacao", Header: []string{
		"item", "embalagem", "classe", "tipo", "quantidade", "preco", "custo_unitario",
		"margem_unitaria", "receita_total", "custo_total", "margem_total", "variacao_qtd", "variacao_pct",
	}}
	for _, o := range res.Outcomes {
		out.Rows = append(out.Rows, []Cell{
			sku(o.SKU), text(o.Package), text(o.Class), text(string(o.Kind)), num(o.AllocatedQty),
			num(o.Price), num(o.UnitCost), num(o.UnitMargin), num(o.Revenue), num(o.Cost), num(o.Margin),
			num(o.Variation), pct(o.VariationPct),
		})
	}

	skus := Sheet{Name: "variacao_por_sku", Header: []string{
		"item", "classe", "estoque_original", "quantidade_alocada", "pedido_atendido", "pedido_faltante",
		"variacao_qtd", "variacao_pct", "anomalia",
	}}
	for _, ch := range res.Skus {
		skus.Rows = append(skus.Rows, []Cell{
			sku(ch.SKU), text(ch.Class), num(ch.Reference), num(ch.Allocated), num(ch.Fulfilled),
			num(ch.Shortfall), num(ch.Variation), pct(ch.VariationPct), boolean(ch.Anomaly),
		})
	}

	classes := Sheet{Name: "resumo_por_classe", Header: []string{
		"classe", "num_skus", "quantidade_alocada", "estoque_original", "margem_total", "variacao", "folga", "conservada",
	}}
	for _, c := range res.Classes {
		classes.Rows = append(classes.Rows, []Cell{
			text(c.Class), integer(int64(c.SkuCount)), num(c.AllocatedQty), num(c.OriginalStock),
			num(c.Margin), num(c.Variation), num(c.Slack), boolean(c.Conserved),
		})
	}

	s := res.Summary
	summary := Sheet{Name: "resumo", Header: []string{"indicador", "valor"}, Rows: [][]Cell{
		{text("data_estoque"), text(res.StockDate.Format("2006-01-02"))},
		{text("tipo_estoque"), text(res.StockType)},
		{text("objetivo"), text(string(res.Objective))},
		{text("atender_pedidos"), boolean(res.HonorOrders)},
		{text("status_solver"), text(domain.SolverStatusLabel(s.SolverStatus))},
		{text("margem_baseline"), num(s.BaselineMargin)},
		{text("margem_otimizada"), num(s.OptimizedMargin)},
		{text("ganho_absoluto"), num(s.GainAbs)},
		{text("ganho_percentual"), pct(s.GainPct)},
		{text("custo_baseline"), num(s.BaselineCost)},
		{text("custo_otimizado"), num(s.OptimizedCost)},
		{text("valor_objetivo"), num(s.Objective)},
		{text("tempo_solver_ms"), integer(s.SolveTime.Milliseconds())},
		{text("variaveis"), integer(int64(s.VariableCount))},
		{text("restricoes"), integer(int64(s.ConstraintCount))},
	}}

	warnings := Sheet{Name: "avisos", Header: []string{"tipo", "classe", "item", "valor", "mensagem"}}
	for _, w := range res.Diagnostics.Warnings {
		item := text("")
		if w.SKU != 0 {
			item = sku(w.SKU)
		}
		warnings.Rows = append(warnings.Rows, []Cell{text(string(w.Kind)), text(w.Class), item, num(w.Value), text(w.Message)})
	}

	return []Sheet{out, skus, classes, summary, warnings}
}

// ComparisonSheet tabulates several runs side by side, one row per run.
func ComparisonSheet(results []*domain.RunResult) Sheet {
	sh := Sheet{Name: "comparacao", Header: []string{
		"data_estoque", "objetivo", "atender_pedidos", "status_solver", "margem_baseline",
		"margem_otimizada", "ganho_absoluto", "ganho_percentual", "tempo_solver_ms",
	}}
	for _, r := range results {
		s := r.Summary
		sh.Rows = append(sh.Rows, []Cell{
			text(r.StockDate.Format("2006-01-02")), text(string(r.Objective)), boolean(r.HonorOrders),
			text(domain.SolverStatusLabel(s.SolverStatus)), num(s.BaselineMargin), num(s.OptimizedMargin),
			num(s.GainAbs), pct(s.GainPct), integer(s.SolveTime.Milliseconds()),
		})
	}
	return sh
}

// OpportunitySheet lists, per SKU, the best package margin against the
// package the plan chose.
func OpportunitySheet(rep analysis.OpportunityReport) Sheet {
	sh := Sheet{Name: "potencial_ganho", Header: []string{
		"item", "classe", "estoque", "num_embalagens", "margem_max", "margem_min", "margem_media",
		"diferenca", "melhor_embalagem", "embalagem_escolhida", "potencial",
	}}
	for _, o := range rep.Items {
		sh.Rows = append(sh.Rows, []Cell{
			sku(o.SKU), text(o.Class), num(o.Stock), integer(int64(o.Packages)), num(o.MaxMargin),
			num(o.MinMargin), num(o.MeanMargin), num(o.Spread), text(o.BestPackage), text(o.ChosenPackage),
			num(o.Potential),
		})
	}
	return sh
}

// Writer stores sheets under Dir in Format ("csv" or "xlsx").
type Writer struct {
	Dir       string
	Format    string
	Formatter Formatter
}

func NewWriter(cfg config.OutputConfig) *Writer {
	return &Writer{Dir: cfg.Dir, Format: cfg.Format, Formatter: NewFormatter(cfg.Locale, cfg.Decimals)}
}

// Write stores sheets as <prefix>_<sheet>.csv files or a single
// <prefix>.xlsx workbook and returns the written paths.
func (w *Writer) Write(prefix string, sheets []Sheet) ([]string, error) {
	if err := config.EnsureDir(w.Dir); err != nil {
		return nil, err
	}

	var paths []string
	switch w.Format {
	case "xlsx":
		path := filepath.Join(w.Dir, prefix+".xlsx")
		if err := writeFile(path, func(out io.Writer) error { return WriteXLSX(out, sheets, w.Formatter.Decimals) }); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	default:
		for _, sh := range sheets {
			path := filepath.Join(w.Dir, prefix+"_"+sh.Name+".csv")
			if err := writeFile(path, func(out io.Writer) error { return WriteCSV(out, sh, w.Formatter) }); err != nil {
				return nil, err
			}
			paths = append(paths, path)
		}
	}

	log.Info().Strs("files", paths).Msg("report: results written")
	return paths, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// WriteCSV writes one sheet. pt-BR output uses ';' so that decimal commas
// stay unquoted.
func WriteCSV(out io.Writer, sh Sheet, f Formatter) error {
	w := csv.NewWriter(out)
	if f.Locale == normalize.LocalePtBR {
		w.Comma = ';'
	}

	if err := w.Write(sh.Header); err != nil {
		return err
	}
	for _, row := range sh.Rows {
		record := make([]string, len(row))
		for i, c := range row {
			switch {
			case c.Percent:
				record[i] = f.Percent(c.Number)
			case c.Numeric:
				record[i] = f.Number(c.Number)
			default:
				record[i] = c.Text
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// WriteXLSX writes every sheet into one workbook with numeric cells kept
// as numbers.
func WriteXLSX(out io.Writer, sheets []Sheet, decimals int) error {
	f := excelize.NewFile()
	defer f.Close()

	numFmt := "#,##0"
	if decimals > 0 {
		numFmt += "." + strings.Repeat("0", decimals)
	}
	numStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
	if err != nil {
		return err
	}
	pctFmt := "0.0"
	pctStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &pctFmt})
	if err != nil {
		return err
	}
	headStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sh.Name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sh.Name); err != nil {
			return err
		}

		header := make([]any, len(sh.Header))
		for j, h := range sh.Header {
			header[j] = h
		}
		if err := f.SetSheetRow(sh.Name, "A1", &header); err != nil {
			return err
		}
		last, _ := excelize.CoordinatesToCellName(len(sh.Header), 1)
		if err := f.SetCellStyle(sh.Name, "A1", last, headStyle); err != nil {
			return err
		}

		for r, row := range sh.Rows {
			for c, cell := range row {
				name, err := excelize.CoordinatesToCellName(c+1, r+2)
				if err != nil {
					return err
				}
				if !cell.Numeric {
					if err := f.SetCellStr(sh.Name, name, cell.Text); err != nil {
						return err
					}
					continue
				}
				if err := f.SetCellFloat(sh.Name, name, cell.Number, -1, 64); err != nil {
					return err
				}
				style := numStyle
				if cell.Percent {
					style = pctStyle
				}
				if err := f.SetCellStyle(sh.Name, name, name, style); err != nil {
					return err
				}
			}
		}
	}

	return f.Write(out)
}
