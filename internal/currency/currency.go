// Package currency converts amounts between the currencies farms in the
// region trade in, using a fixed rate table quoted against the CFA franc.
package currency

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var ErrUnsupportedCurrency = errors.New("unsupported currency")

// Base is the currency every rate is quoted in.
const Base = "XOF"

// Units of XOF per one unit of each currency. EUR is the fixed CFA peg; the
// others are indicative.
var xofRates = map[string]float64{
	"XOF": 1,
	"EUR": 655.957,
	"USD": 605,
	"GHS": 40,
	"NGN": 0.39,
	"MAD": 60,
}

// Supported lists the accepted ISO codes in alphabetical order.
func Supported() []string {
	codes := make([]string, 0, len(xofRates))
	for code := range xofRates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Parse normalises an ISO 4217 code and checks it is in the rate table.
func Parse(code string) (currency.Unit, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if _, ok := xofRates[code]; !ok {
		return currency.Unit{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	return currency.ParseISO(code)
}

// Rate returns how many units of to one unit of from buys.
func Rate(from, to string) (float64, error) {
	fromUnit, err := Parse(from)
	if err != nil {
		return 0, err
	}
	toUnit, err := Parse(to)
	if err != nil {
		return 0, err
	}
	return xofRates[fromUnit.String()] / xofRates[toUnit.String()], nil
}

// Convert converts amount and rounds it to the target currency's standard
// minor unit (none for XOF, cents for EUR).
func Convert(amount float64, from, to string) (float64, error) {
	rate, err := Rate(from, to)
	if err != nil {
		return 0, err
	}
	toUnit, _ := Parse(to)
	return round(amount*rate, toUnit), nil
}

func round(amount float64, unit currency.Unit) float64 {
	scale, _ := currency.Standard.Rounding(unit)
	pow := math.Pow10(scale)
	return math.Round(amount*pow) / pow
}

// Format renders amount with the currency symbol for locale.
func Format(amount float64, code, locale string) (string, error) {
	unit, err := Parse(code)
	if err != nil {
		return "", err
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		tag = language.French
	}
	return message.NewPrinter(tag).Sprint(currency.Symbol(unit.Amount(round(amount, unit)))), nil
}
