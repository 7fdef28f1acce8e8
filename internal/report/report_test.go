package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresuchdata/mixopt/internal/analysis"
	"github.com/andresuchdata/mixopt/internal/config"
	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestFormatterNumber(t *testing.T) {
	tests := []struct {
		locale   string
		decimals int
		in       float64
		want     string
	}{
		{"pt-BR", 2, 1234.5, "1.234,50"},
		{"pt-BR", 2, 1234567.891, "1.234.567,89"},
		{"pt-BR", 0, 1000, "1.000"},
		{"pt-BR", 2, -70, "-70,00"},
		{"pt-BR", 2, -0.001, "0,00"},
		{"en-US", 2, 1234.5, "1,234.50"},
		{"plain", 3, 1234.5, "1234.500"},
		{"pt-BR", 2, 12, "12,00"},
	}
	for _, tt := range tests {
		f := NewFormatter(tt.locale, tt.decimals)
		assert.Equal(t, tt.want, f.Number(tt.in), "%s %v", tt.locale, tt.in)
	}
	assert.Equal(t, "9,9", NewFormatter("pt-BR", 2).Percent(9.859))
}

func sampleResult() *domain.RunResult {
	return &domain.RunResult{
		StockDate:   time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		StockType:   "DISPONIVEL PARA VENDA",
		Objective:   domain.MaximizeMargin,
		HonorOrders: false,
		Outcomes: []domain.Outcome{
			{SKU: 1, Package: "CX 12 BJ 30 UN", Class: "OVOS", Kind: domain.KindTotalStock, AllocatedQty: 1200,
				Price: 2.5, UnitCost: 2, UnitMargin: 0.5, Revenue: 3000, Cost: 2400, Margin: 600, Variation: 200, VariationPct: 20},
			{SKU: 2, Package: "CX 12 BJ 30 UN", Class: "OVOS", Kind: domain.KindTotalStock, AllocatedQty: 600,
				Price: 1.3, UnitCost: 1, UnitMargin: 0.3, Revenue: 780, Cost: 600, Margin: 180, Variation: 100, VariationPct: 20},
		},
		Skus: []domain.SkuChange{
			{SKU: 1, Class: "OVOS", Reference: 1000, Allocated: 1200, Variation: 200, VariationPct: 20},
			{SKU: 2, Class: "OVOS", Reference: 500, Allocated: 600, Variation: 100, VariationPct: 20},
			{SKU: 3, Class: "OVOS", Reference: 300, Variation: -300, VariationPct: -100},
		},
		Classes: []domain.ClassSummary{{Class: "OVOS", SkuCount: 3, AllocatedQty: 1800, OriginalStock: 1800, Margin: 780, Conserved: true}},
		Summary: domain.Summary{
			BaselineMargin: 710, OptimizedMargin: 780, GainAbs: 70, GainPct: 9.859,
			SolverStatus: domain.StatusOptimal, SolveTime: 5 * time.Millisecond, VariableCount: 3, ConstraintCount: 4,
		},
	}
}

func TestSheets(t *testing.T) {
	sheets := Sheets(sampleResult())
	require.Len(t, sheets, 5)
	assert.Equal(t, "resultado_realocacao", sheets[0].Name)
	assert.Len(t, sheets[0].Rows, 2)
	assert.Len(t, sheets[1].Rows, 3)
	assert.Equal(t, "resumo_por_classe", sheets[2].Name)
	assert.Empty(t, sheets[4].Rows)
	for _, sh := range sheets {
		for _, row := range sh.Rows {
			assert.Len(t, row, len(sh.Header), sh.Name)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	sh := Sheets(sampleResult())[0]
	require.NoError(t, WriteCSV(&buf, sh, NewFormatter("pt-BR", 2)))

	r := csv.NewReader(&buf)
	r.Comma = ';'
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "item", records[0][0])
	assert.Equal(t, []string{"1", "CX 12 BJ 30 UN", "OVOS", "TOTAL_STOCK", "1.200,00", "2,50", "2,00",
		"0,50", "3.000,00", "2.400,00", "600,00", "200,00", "20,0"}, records[1])
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, Sheets(sampleResult()), 2))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"resultado_realocacao", "variacao_por_sku", "resumo_por_classe", "resumo", "avisos"}, f.GetSheetList())
	v, err := f.GetCellValue("resultado_realocacao", "E2", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "1200", v)
	v, err = f.GetCellValue("resumo", "B9", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "70", v)
}

func TestWriterWrite(t *testing.T) {
	dir := t.TempDir()

	w := NewWriter(config.OutputConfig{Dir: dir, Format: "csv", Locale: "pt-BR", Decimals: 2})
	paths, err := w.Write("run_20240115", Sheets(sampleResult()))
	require.NoError(t, err)
	require.Len(t, paths, 5)
	assert.Equal(t, filepath.Join(dir, "run_20240115_resultado_realocacao.csv"), paths[0])
	for _, p := range paths {
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}

	w.Format = "xlsx"
	paths, err = w.Write("run_20240115", Sheets(sampleResult()))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "run_20240115.xlsx")}, paths)
}

func TestComparisonSheet(t *testing.T) {
	a, b := sampleResult(), sampleResult()
	b.StockDate = time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	sh := ComparisonSheet([]*domain.RunResult{a, b})
	require.Len(t, sh.Rows, 2)
	assert.Equal(t, "2024-01-16", sh.Rows[1][0].Text)
	assert.Equal(t, 70.0, sh.Rows[0][6].Number)
}

func TestOpportunitySheet(t *testing.T) {
	sh := OpportunitySheet(analysis.OpportunityReport{Items: []analysis.Opportunity{
		{SKU: 2000211, Class: "OVOS", Stock: 300, Packages: 2, MaxMargin: 1.5, MinMargin: 0.5, Spread: 1,
			BestPackage: "CX 12 BJ 30 UN", ChosenPackage: "CX 30 DZ", Potential: 300},
	}})
	require.Len(t, sh.Rows, 1)
	assert.Equal(t, len(sh.Header), len(sh.Rows[0]))
	assert.Equal(t, "2000211", sh.Rows[0][0].Text)
	assert.Equal(t, "CX 30 DZ", sh.Rows[0][9].Text)
	assert.Equal(t, 300.0, sh.Rows[0][10].Number)
}
