package report

import (
	"strings"

	"github.com/andresuchdata/mixopt/internal/normalize"
	"github.com/shopspring/decimal"
)

// Formatter renders numbers for text outputs.
type Formatter struct {
	Locale   normalize.Locale
	Decimals int
}

// NewFormatter parses a configured locale name.
func NewFormatter(locale string, decimals int) Formatter {
	if decimals < 0 {
		decimals = 0
	}
	return Formatter{Locale: normalize.ParseLocale(locale), Decimals: decimals}
}

// Number formats v with f.Decimals fixed decimals. pt-BR uses '.' for
// thousands and ',' for decimals, en-US uses ',' and '.', anything else
// prints the plain value.
func (f Formatter) Number(v float64) string {
	return f.format(v, f.Decimals)
}

// Percent formats v with one decimal.
func (f Formatter) Percent(v float64) string {
	return f.format(v, 1)
}

func (f Formatter) format(v float64, decimals int) string {
	s := decimal.NewFromFloat(v).StringFixed(int32(decimals))
	switch f.Locale {
	case normalize.LocalePtBR:
		return group(s, '.', ',')
	case normalize.LocaleEnUS:
		return group(s, ',', '.')
	default:
		return s
	}
}

// group rewrites a plain decimal string with the given separators.
func group(s string, thousands, dec byte) string {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var buf []byte
	count := 0
	for i := len(intPart) - 1; i >= 0; i-- {
		buf = append(buf, intPart[i])
		count++
		if count == 3 && i != 0 {
			buf = append(buf, thousands)
			count = 0
		}
	}
	// reverse buf
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}

	out := string(buf)
	if hasFrac {
		out += string(dec) + frac
	}
	if neg && strings.Trim(out, "0.,") != "" {
		out = "-" + out
	}
	return out
}
