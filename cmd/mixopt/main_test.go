package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var inputs = map[string]string{
	"estoque.csv": "DATA DA CONTAGEM;TIPO DE ESTOQUE;ITEM;QUANTIDADE\n" +
		"15/01/2024;DISPONIVEL PARA VENDA;1;1000\n" +
		"15/01/2024;DISPONIVEL PARA VENDA;2;500\n" +
		"15/01/2024;DISPONIVEL PARA VENDA;3;300\n" +
		"14/01/2024;DISPONIVEL PARA VENDA;1;10\n",
	"classes.csv":         "ITEM;CLASSE PRODUTO\n1;OVOS\n2;OVOS\n3;OVOS\n",
	"pedidos.csv":         "ITEM;QUANTIDADE\n3;400\n",
	"compatibilidade.csv": "item;embalagem\n1;CX 12 BJ 30 UN\n2;CX 12 BJ 30 UN\n3;CX 12 BJ 30 UN\n",
	"precos.csv":          "item;embalagem;preco\n1;CX 12 BJ 30 UN;2.5\n2;CX 12 BJ 30 UN;1.3\n3;CX 12 BJ 30 UN;3.2\n",
	"custos.csv":          "Item - Descrição;Custo YTD\n1 - OVO BRANCO;R$ 2,00\n2 - OVO VERMELHO;R$ 1,00\n3 - OVO CAIPIRA;R$ 3,00\n",
}

// workspace writes the input files and a config pointing at them.
func workspace(t *testing.T) (cfgPath, outDir string) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range inputs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	outDir = filepath.Join(dir, "out")
	cfg := fmt.Sprintf(`inputs:
  dir: %q
  files:
    stock: estoque.csv
    classes: classes.csv
    orders: pedidos.csv
    compatibility: compatibilidade.csv
    prices: precos.csv
    costs: custos.csv
output:
  dir: %q
`, dir, outDir)
	cfgPath = filepath.Join(dir, "mixopt.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath, outDir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"mixopt", "--log-level", "error"}, args...))
	return out.String(), err
}

func TestOptimizeCommand(t *testing.T) {
	cfgPath, outDir := workspace(t)

	out, err := run(t, "--config", cfgPath, "optimize", "--date", "15/01/2024")
	require.NoError(t, err)
	assert.Contains(t, out, "900,00")
	assert.Contains(t, out, "OVOS")

	_, err = os.Stat(filepath.Join(outDir, "mixopt_20240115_estoque_resultado_realocacao.csv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(outDir, "mixopt_20240115_estoque_resumo.csv"))
	assert.NoError(t, err)
}

func TestOptimizeCompareModes(t *testing.T) {
	cfgPath, outDir := workspace(t)

	out, err := run(t, "--config", cfgPath, "optimize", "--compare-modes", "--format", "xlsx")
	require.NoError(t, err)
	assert.Contains(t, out, "2 runs completed, 0 failed")

	_, err = os.Stat(filepath.Join(outDir, "mixopt_comparacao.xlsx"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(outDir, "mixopt_20240115_pedidos.xlsx"))
	assert.NoError(t, err)
}

func TestDatesCommand(t *testing.T) {
	cfgPath, _ := workspace(t)

	out, err := run(t, "--config", cfgPath, "dates")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-01-15")
	assert.Contains(t, out, "2024-01-14")
}

func TestOptimizeRejectsBadLimit(t *testing.T) {
	cfgPath, _ := workspace(t)

	_, err := run(t, "--config", cfgPath, "optimize", "--limit", "0.5")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestParseDates(t *testing.T) {
	dates, err := parseDates([]string{"15/01/2024, 2024-01-16", ""})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
	}, dates)

	_, err = parseDates([]string{"ontem"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(fmt.Errorf("load: %w", &domain.SchemaError{File: "estoque", Field: "sku"})))
	assert.Equal(t, 3, exitCode(&domain.InfeasibleModelError{}))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestBestResult(t *testing.T) {
	a := &domain.RunResult{Summary: domain.Summary{GainAbs: 10}}
	b := &domain.RunResult{Summary: domain.Summary{GainAbs: 190}}
	assert.Same(t, b, bestResult([]*domain.RunResult{a, b}))
	assert.Nil(t, bestResult(nil))
}
