package resolution

import "strings"

// searchAliases maps cleaned universe names to broker search terms that the
// generic name tokenization would never derive. Grown from instruments that
// repeatedly failed name search in production runs.
var searchAliases = map[string][]string{
	"viohalco":             {"VIO"},
	"hellenic telecom":     {"OTE"},
	"titan cement":         {"TITC"},
	"coca cola hbc":        {"CCH"},
	"jumbo":                {"BELA"},
	"public power corp":    {"PPC"},
	"ab inbev":             {"ABI"},
	"lvmh":                 {"MC"},
	"a p moller maersk":    {"MAERSK B"},
	"kone":                 {"KNEBV"},
	"sampo":                {"SAMPO"},
	"wartsila":             {"WRT1V"},
	"stora enso":           {"STERV"},
	"nippon telegraph":     {"NTT"},
	"sumitomo mitsui":      {"SMFG"},
	"banco santander":      {"SAN"},
	"assa abloy":           {"ASSA B"},
	"atlas copco":          {"ATCO A"},
	"schindler":            {"SCHP"},
	"compagnie de saint gobain": {"SGO"},
}

// aliasTerms returns extra search terms for a display name, matched on the
// cleaned form so accents and punctuation in the universe record don't hide
// an alias.
func aliasTerms(name string) []string {
	cleaned := CleanName(name)
	if cleaned == "" {
		return nil
	}

	var terms []string
	for key, aliases := range searchAliases {
		if strings.Contains(cleaned, key) {
			terms = append(terms, aliases...)
		}
	}
	return terms
}
