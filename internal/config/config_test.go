package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "maximize_margin", cfg.Model.Objective)
	assert.Equal(t, 2.0, cfg.Model.ReallocationLimit)
	assert.Equal(t, 60*time.Second, cfg.Solver.TimeLimit)
	assert.Equal(t, "pt-BR", cfg.Inputs.Locales["costs"])
	assert.Equal(t, "auto", cfg.Inputs.Locales["stock"])
	assert.Equal(t, []string{"price", "weighted_price", "mean_price", "median_price"}, cfg.Model.PricePriority)

	stock, ok := cfg.Columns["stock"]
	require.True(t, ok)
	assert.True(t, stock["sku"].Required)
	assert.Contains(t, stock["date"].Aliases, "data da contagem")
	assert.Equal(t, [][]string{{"classe", "produto"}, {"classe"}}, cfg.Columns["classes"]["class"].Contains)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mixopt.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  reallocation_limit: .inf
  honor_orders: true
solver:
  time_limit: 5s
`), 0o644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.True(t, math.IsInf(cfg.Model.ReallocationLimit, 1))
	assert.True(t, cfg.Model.HonorOrders)
	assert.Equal(t, 5*time.Second, cfg.Solver.TimeLimit)
	// untouched keys keep their embedded values
	assert.Equal(t, "maximize_margin", cfg.Model.Objective)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MIXOPT_MODEL_REALLOCATION_LIMIT", "1.5")
	t.Setenv("MIXOPT_OUTPUT_FORMAT", "xlsx")
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := LoadFrom("")
	require.NoError(t, err)

	assert.Equal(t, 1.5, cfg.Model.ReallocationLimit)
	assert.Equal(t, "xlsx", cfg.Output.Format)
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "unbounded reallocation", mutate: func(c *Config) { c.Model.ReallocationLimit = math.Inf(1) }, ok: true},
		{name: "reallocation below one", mutate: func(c *Config) { c.Model.ReallocationLimit = 0.5 }},
		{name: "unknown objective", mutate: func(c *Config) { c.Model.Objective = "maximize_revenue" }},
		{name: "unknown granularity", mutate: func(c *Config) { c.Model.Demand.Granularity = "Q" }},
		{name: "percentile out of range", mutate: func(c *Config) { c.Model.Demand.Percentile = 120 }},
		{name: "zero time limit", mutate: func(c *Config) { c.Solver.TimeLimit = 0 }},
		{name: "unknown price fill", mutate: func(c *Config) { c.Model.PriceFill = "median" }},
		{name: "unknown output format", mutate: func(c *Config) { c.Output.Format = "parquet" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{Host: "h", Port: "5432", User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=d sslmode=disable", c.DSN())

	c.URL = "postgres://u:p@h/d"
	assert.Equal(t, "postgres://u:p@h/d", c.DSN())
}
