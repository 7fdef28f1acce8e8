package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Locale selects the thousands and decimal separators of numeric text.
type Locale string

const (
	// LocaleAuto takes the last of '.' or ',' as the decimal separator
	// when both occur, and treats a repeated separator as grouping.
	LocaleAuto  Locale = "auto"
	LocalePtBR  Locale = "pt-BR"
	LocaleEnUS  Locale = "en-US"
	LocalePlain Locale = "plain"
)

// ParseLocale maps a configured name to a Locale. Unknown names map to
// LocaleAuto.
func ParseLocale(s string) Locale {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pt-br", "pt_br", "br":
		return LocalePtBR
	case "en-us", "en_us", "us":
		return LocaleEnUS
	case "plain":
		return LocalePlain
	default:
		return LocaleAuto
	}
}

var (
	plainNumber    = regexp.MustCompile(`^(\d+(\.\d*)?|\.\d+)([eE][-+]?\d+)?$`)
	ptThousands    = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)
	leadingDigits  = regexp.MustCompile(`^\s*(\d+)`)
	packagePattern = regexp.MustCompile(`CX\s+(?:COM\s+)?(\d+)\s+BJ\s+(?:DE\s+)?(\d+)(?:\s+UN)?`)
	currencyMarks  = []string{"R$", "US$", "$", "€"}
)

// ParseMoney converts a currency string to a decimal. Currency symbols and
// spaces are stripped, separators follow loc, and a leading minus, a
// trailing minus or surrounding parentheses mark a negative value.
// Anything left over after cleaning is a *domain.ParseError.
func ParseMoney(text string, loc Locale) (decimal.Decimal, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return decimal.Zero, &domain.ParseError{Value: text, Reason: "empty value"}
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}

	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	for _, mark := range currencyMarks {
		s = strings.ReplaceAll(s, mark, "")
	}

	switch {
	case strings.HasPrefix(s, "-"):
		neg = !neg
		s = s[1:]
	case strings.HasSuffix(s, "-"):
		neg = !neg
		s = s[:len(s)-1]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	s = canonicalNumber(s, loc)
	if !plainNumber.MatchString(s) {
		return decimal.Zero, &domain.ParseError{Value: text, Reason: "not a number"}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &domain.ParseError{Value: text, Reason: err.Error()}
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

func canonicalNumber(s string, loc Locale) string {
	switch loc {
	case LocalePtBR:
		if strings.Contains(s, ",") {
			return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		}
		if ptThousands.MatchString(s) {
			return strings.ReplaceAll(s, ".", "")
		}
		return s
	case LocaleEnUS:
		return strings.ReplaceAll(s, ",", "")
	case LocalePlain:
		return s
	}

	dot := strings.LastIndex(s, ".")
	comma := strings.LastIndex(s, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case dot >= 0 && strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

// ParseQuantity is ParseMoney returning a float64.
func ParseQuantity(text string, loc Locale) (float64, error) {
	d, err := ParseMoney(text, loc)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

// ExtractSKU returns the leading run of digits of text, so
// "2000211 - OVO BRANCO" yields 2000211.
func ExtractSKU(text string) (domain.SKU, error) {
	m := leadingDigits.FindStringSubmatch(text)
	if m == nil {
		return 0, &domain.ParseError{Value: text, Reason: "no leading item code"}
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, &domain.ParseError{Value: text, Reason: err.Error()}
	}
	return domain.SKU(n), nil
}

// ParsePackage finds a "CX <n> BJ <m> UN" descriptor in a free-text item
// description, accepting the "CX COM n BJ DE m" spelling, and returns it in
// canonical form with Units = n*m.
func ParsePackage(description string) (domain.Package, bool) {
	m := packagePattern.FindStringSubmatch(strings.ToUpper(description))
	if m == nil {
		return domain.Package{}, false
	}
	trays, _ := strconv.Atoi(m[1])
	perTray, _ := strconv.Atoi(m[2])
	return domain.Package{
		Name:  "CX " + m[1] + " BJ " + m[2] + " UN",
		Units: trays * perTray,
	}, true
}

// PackageUnits returns the unit count encoded in a package name, 0 when the
// name carries none.
func PackageUnits(name string) int {
	p, ok := ParsePackage(name)
	if !ok {
		return 0
	}
	return p.Units
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"02/01/2006",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2006/01/02",
	"02-01-2006",
	"02.01.2006",
}

// ParseDate accepts ISO dates, day-first Brazilian dates and Excel serial
// numbers. The time of day is dropped.
func ParseDate(text string) (time.Time, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, &domain.ParseError{Value: text, Reason: "empty date"}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), nil
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 && serial < 2958466 {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return truncateDay(t), nil
		}
	}
	return time.Time{}, &domain.ParseError{Value: text, Reason: "unrecognized date"}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
