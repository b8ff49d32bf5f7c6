// Package resolution implements the stock identity resolution engine: the
// strategy pipeline that maps internal instrument records onto broker
// contracts, its validator, its result cache, and the orchestrator that runs
// a whole universe with bounded concurrency.
package resolution

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Exchange suffixes seen in internal universe tickers. Stripping one yields
// the base symbol the broker knows.
var exchangeSuffixes = []string{
	".T",  // Tokyo
	".L",  // London
	".PA", // Paris
	".AT", // Athens
	".HE", // Helsinki
	".CO", // Copenhagen
	".ST", // Stockholm
	".OL", // Oslo
	".MI", // Milan
	".MC", // Madrid
	".DE", // Xetra
	".F",  // Frankfurt
	".VI", // Vienna
	".AS", // Amsterdam
	".BR", // Brussels
	".LS", // Lisbon
	".SW", // Swiss
	".TO", // Toronto
	".US", // US composite
	".GR", // legacy Athens notation
}

// corporate-form words carry no identity signal and are subtracted before
// token-overlap scoring ("Admicom Oyj" vs "INCAP OYJ" must not overlap on
// "oyj").
var stopTokens = map[string]bool{
	"ltd":           true,
	"plc":           true,
	"inc":           true,
	"corp":          true,
	"sa":            true,
	"ab":            true,
	"as":            true,
	"asa":           true,
	"ag":            true,
	"nv":            true,
	"se":            true,
	"spa":           true,
	"oyj":           true,
	"oy":            true,
	"group":         true,
	"holding":       true,
	"holdings":      true,
	"international": true,
	"company":       true,
	"limited":       true,
	"corporation":   true,
	"incorporated":  true,
	"co":            true,
	"the":           true,
	"and":           true,
}

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldASCII strips diacritics: "Oréal" -> "Oreal".
func foldASCII(s string) string {
	folded, _, err := transform.String(accentFolder, s)
	if err != nil {
		return s
	}
	return folded
}

// namePunctuation is removed outright, not replaced with a separator, so
// "L'Oréal" becomes "loreal" rather than "l oreal".
var namePunctuation = strings.NewReplacer(
	"'", "",
	"`", "",
	"’", "",
	"-", "",
	".", "",
	",", "",
	"(", "",
	")", "",
	"/", "",
	"&", "",
)

// CleanName lower-cases a display name, folds accents to ASCII and removes
// punctuation. This is the form both similarity inputs are computed on.
func CleanName(name string) string {
	cleaned := namePunctuation.Replace(foldASCII(name))
	return strings.ToLower(strings.TrimSpace(cleaned))
}

// NameTokens returns the lower-cased alphabetic tokens of length >= 3 from a
// display name, accents folded, punctuation removed. Order follows the name;
// duplicates are dropped.
func NameTokens(name string) []string {
	cleaned := CleanName(name)

	var tokens []string
	seen := make(map[string]bool)
	for _, field := range strings.Fields(cleaned) {
		if len(field) < 3 || seen[field] {
			continue
		}
		if !isAlphabetic(field) {
			continue
		}
		seen[field] = true
		tokens = append(tokens, field)
	}
	return tokens
}

// SignificantTokens subtracts the corporate-form stoplist from NameTokens.
// Used for overlap scoring; the full token set is still used for search-term
// derivation.
func SignificantTokens(name string) []string {
	var tokens []string
	for _, token := range NameTokens(name) {
		if !stopTokens[token] {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

func isAlphabetic(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// TickerVariations generates the ordered, de-duplicated symbol variants to
// try against the broker. The input ticker always comes first; order matters
// because the first variation that yields a broker match wins, so likelier
// forms precede generic ones.
func TickerVariations(ticker string) []string {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil
	}

	variations := []string{ticker}

	base, suffix := splitExchangeSuffix(ticker)
	if suffix != "" {
		variations = append(variations, base)
	}

	// Share-class notation: ROCK-A -> ROCKA, ROCK.A, ROCK
	if class, stem, ok := splitShareClass(base); ok {
		variations = append(variations,
			stem+class,
			stem+"."+class,
			stem,
		)
	}

	// Athens listings often trade under an A-suffixed symbol when the base is
	// short (e.g. ΟΠΑΠ-style common share classes).
	if (suffix == ".AT" || suffix == ".GR") && len(base) <= 4 && !strings.Contains(base, "-") {
		variations = append(variations, base+"A")
	}

	// Tokyo tickers are numeric codes; the broker expects the bare number
	// without the exchange suffix.
	if suffix == ".T" && isNumeric(base) {
		variations = append(variations, base)
	}

	return dedupe(variations)
}

// splitExchangeSuffix splits "ROCK-A.CO" into ("ROCK-A", ".CO").
// Returns the input unchanged with an empty suffix when no known exchange
// suffix is present.
func splitExchangeSuffix(ticker string) (base, suffix string) {
	for _, s := range exchangeSuffixes {
		if strings.HasSuffix(ticker, s) && len(ticker) > len(s) {
			return ticker[:len(ticker)-len(s)], s
		}
	}
	return ticker, ""
}

// splitShareClass detects a trailing share-class marker: "ROCK-A" ->
// ("A", "ROCK", true). Only single-letter classes count.
func splitShareClass(base string) (class, stem string, ok bool) {
	idx := strings.LastIndex(base, "-")
	if idx <= 0 || idx != len(base)-2 {
		return "", "", false
	}
	class = base[idx+1:]
	if !isAlphabetic(strings.ToLower(class)) {
		return "", "", false
	}
	return class, base[:idx], true
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		result = append(result, v)
	}
	return result
}
