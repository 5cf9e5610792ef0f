// Package parser turns raw chat alert text into validated trade signals. It
// is a pure transformation: the same input and clock always produce the same
// signal, which keeps the pipeline's entry point deterministic and testable.
package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
)

// maxYearRoll bounds the year-inference search so a nonsense month/day pair
// (e.g. Feb 30) cannot loop forever.
const maxYearRoll = 8

// optionPattern matches alerts of the form
//
//	AAPL - $250 CALLS EXPIRATION 10/10 $1.29 STOP LOSS AT $1.00 TARGET AT $2.50 2 CONTRACTS
//
// where the target and quantity suffixes are optional.
var optionPattern = regexp.MustCompile(
	`(?i)(?P<symbol>[A-Za-z]{1,6})\s*-\s*\$(?P<strike>[0-9]+(?:\.[0-9]+)?)\s*` +
		`(?P<otype>CALLS?|PUTS?)\s*` +
		`EXPIRATION\s*(?P<expiry>[0-9/\-]+)\s*` +
		`\$(?P<entry>[0-9]+(?:\.[0-9]+)?)\s*` +
		`STOP\s*LOSS\s*AT\s*\$(?P<stop>[0-9]+(?:\.[0-9]+)?)` +
		`(?:\s*TARGET\s*AT\s*\$(?P<target>[0-9]+(?:\.[0-9]+)?))?` +
		`(?:\s*(?P<qty>[0-9]+)\s*CONTRACTS?)?`)

// equityPattern matches share alerts of the form
//
//	BUY AAPL $250.00 STOP LOSS AT $240 TARGET AT $265 100 SHARES
var equityPattern = regexp.MustCompile(
	`(?i)\b(?P<dir>BUY|SELL)\s+(?P<symbol>[A-Za-z]{1,6})\s+` +
		`\$(?P<entry>[0-9]+(?:\.[0-9]+)?)\s*` +
		`STOP\s*LOSS\s*AT\s*\$(?P<stop>[0-9]+(?:\.[0-9]+)?)` +
		`(?:\s*TARGET\s*AT\s*\$(?P<target>[0-9]+(?:\.[0-9]+)?))?` +
		`(?:\s*(?P<qty>[0-9]+)\s*SHARES?)?`)

// mentionPattern strips Discord custom emoji and mention spans (<...>) that
// often decorate alert messages.
var mentionPattern = regexp.MustCompile(`<[^>]+>`)

// Parser validates raw alerts. DefaultQuantity is used when the alert does
// not state an explicit size.
type Parser struct {
	defaultQuantity int
}

// New creates a Parser. defaultQuantity must be positive.
func New(defaultQuantity int) *Parser {
	if defaultQuantity <= 0 {
		defaultQuantity = 1
	}
	return &Parser{defaultQuantity: defaultQuantity}
}

// Parse converts a raw alert into a TradeSignal or returns a
// *domain.ValidationError describing why the alert was rejected. The now
// parameter drives expiration year inference and is injected so tests can
// pin the clock.
func (p *Parser) Parse(raw string, now time.Time) (domain.TradeSignal, error) {
	cleaned := mentionPattern.ReplaceAllString(raw, "")
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if m := matchGroups(optionPattern, cleaned); m != nil {
		return p.parseOption(raw, m, now)
	}
	if m := matchGroups(equityPattern, cleaned); m != nil {
		return p.parseEquity(raw, m, now)
	}
	return domain.TradeSignal{}, domain.NewValidationError("message does not match any alert pattern: %q", raw)
}

func (p *Parser) parseOption(raw string, m map[string]string, now time.Time) (domain.TradeSignal, error) {
	strike, err := parsePrice(m["strike"], "strike")
	if err != nil {
		return domain.TradeSignal{}, err
	}

	optType := domain.OptionCall
	if strings.HasPrefix(strings.ToLower(m["otype"]), "p") {
		optType = domain.OptionPut
	}

	expiration, err := resolveExpiration(m["expiry"], now)
	if err != nil {
		return domain.TradeSignal{}, err
	}

	sig := domain.TradeSignal{
		ID:         uuid.New().String(),
		Symbol:     strings.ToUpper(m["symbol"]),
		Direction:  domain.DirectionBuy, // alert contracts are bought to open
		Instrument: domain.InstrumentOption,
		Strike:     strike,
		Expiration: expiration,
		OptionType: optType,
		RawMessage: raw,
		ReceivedAt: now,
	}
	return p.finish(sig, m)
}

func (p *Parser) parseEquity(raw string, m map[string]string, now time.Time) (domain.TradeSignal, error) {
	dir := domain.DirectionBuy
	if strings.EqualFold(m["dir"], "sell") {
		dir = domain.DirectionSell
	}

	sig := domain.TradeSignal{
		ID:         uuid.New().String(),
		Symbol:     strings.ToUpper(m["symbol"]),
		Direction:  dir,
		Instrument: domain.InstrumentEquity,
		RawMessage: raw,
		ReceivedAt: now,
	}
	return p.finish(sig, m)
}

// finish fills the price/quantity fields shared by both alert shapes and
// runs the ordering consistency checks.
func (p *Parser) finish(sig domain.TradeSignal, m map[string]string) (domain.TradeSignal, error) {
	var err error
	if sig.EntryPrice, err = parsePrice(m["entry"], "entry"); err != nil {
		return domain.TradeSignal{}, err
	}
	if sig.StopPrice, err = parsePrice(m["stop"], "stop"); err != nil {
		return domain.TradeSignal{}, err
	}
	if m["target"] != "" {
		if sig.TargetPrice, err = parsePrice(m["target"], "target"); err != nil {
			return domain.TradeSignal{}, err
		}
	}

	sig.Quantity = p.defaultQuantity
	if m["qty"] != "" {
		n, convErr := strconv.Atoi(m["qty"])
		if convErr != nil || n <= 0 {
			return domain.TradeSignal{}, domain.NewValidationError("quantity %q is not a positive integer", m["qty"])
		}
		sig.Quantity = n
	}

	if err := checkOrdering(sig); err != nil {
		return domain.TradeSignal{}, err
	}
	return sig, nil
}

// checkOrdering rejects signals whose price levels are inconsistent with the
// stated direction: a buy needs stop < entry (< target), a sell the mirror.
func checkOrdering(sig domain.TradeSignal) error {
	entry, stop, target := sig.EntryPrice, sig.StopPrice, sig.TargetPrice
	switch sig.Direction {
	case domain.DirectionBuy:
		if !stop.LessThan(entry) {
			return domain.NewValidationError("buy alert requires stop %s < entry %s", stop, entry)
		}
		if sig.HasTarget() && !target.GreaterThan(entry) {
			return domain.NewValidationError("buy alert requires target %s > entry %s", target, entry)
		}
	case domain.DirectionSell:
		if !stop.GreaterThan(entry) {
			return domain.NewValidationError("sell alert requires stop %s > entry %s", stop, entry)
		}
		if sig.HasTarget() && !target.LessThan(entry) {
			return domain.NewValidationError("sell alert requires target %s < entry %s", target, entry)
		}
	}
	return nil
}

// parsePrice parses a strictly positive decimal field.
func parsePrice(s, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, domain.NewValidationError("%s %q is not numeric", field, s)
	}
	if !d.IsPositive() {
		return decimal.Zero, domain.NewValidationError("%s must be positive, got %s", field, d)
	}
	return d, nil
}

// resolveExpiration converts an expiry token into a date strictly after now.
// Accepted forms: YYYY-MM-DD, MM/DD/YY, MM/DD. When the year is absent, the
// earliest future occurrence of the month/day is chosen; an explicit year in
// the past fails validation.
func resolveExpiration(expiry string, now time.Time) (time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if t, err := time.ParseInLocation("2006-01-02", expiry, now.Location()); err == nil {
		if !t.After(today) {
			return time.Time{}, domain.NewValidationError("expiration %s is not in the future", expiry)
		}
		return t, nil
	}

	parts := strings.Split(expiry, "/")
	if len(parts) != 2 && len(parts) != 3 {
		return time.Time{}, domain.NewValidationError("invalid expiration format: %q", expiry)
	}

	month, err1 := strconv.Atoi(parts[0])
	day, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, domain.NewValidationError("invalid expiration month/day: %q", expiry)
	}

	if len(parts) == 3 {
		year, err := strconv.Atoi(parts[2])
		if err != nil {
			return time.Time{}, domain.NewValidationError("invalid expiration year: %q", parts[2])
		}
		if year < 100 {
			year += 2000
		}
		t, ok := calendarDate(year, month, day, now.Location())
		if !ok {
			return time.Time{}, domain.NewValidationError("expiration %q is not a calendar date", expiry)
		}
		if !t.After(today) {
			return time.Time{}, domain.NewValidationError("expiration %s is not in the future", expiry)
		}
		return t, nil
	}

	// No year: roll forward to the earliest occurrence strictly after today.
	for year := now.Year(); year <= now.Year()+maxYearRoll; year++ {
		t, ok := calendarDate(year, month, day, now.Location())
		if !ok {
			continue // e.g. Feb 29 in a non-leap year
		}
		if t.After(today) {
			return t, nil
		}
	}
	return time.Time{}, domain.NewValidationError("no future occurrence of expiration %q", expiry)
}

// calendarDate builds a date and reports whether the components denote a real
// calendar day (time.Date silently normalizes overflow, e.g. Feb 30 → Mar 2).
func calendarDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// matchGroups returns named capture groups for the first match, or nil.
func matchGroups(re *regexp.Regexp, s string) map[string]string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	groups := make(map[string]string, len(m))
	for i, name := range re.SubexpNames() {
		if name != "" {
			groups[name] = m[i]
		}
	}
	return groups
}
