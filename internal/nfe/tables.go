package nfe

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stateCodes maps UF abbreviations to IBGE state codes (cUF).
var stateCodes = map[string]string{
	"AC": "12", "AL": "27", "AP": "16", "AM": "13", "BA": "29",
	"CE": "23", "DF": "53", "ES": "32", "GO": "52", "MA": "21",
	"MT": "51", "MS": "50", "MG": "31", "PA": "15", "PB": "25",
	"PR": "41", "PE": "26", "PI": "22", "RJ": "33", "RN": "24",
	"RS": "43", "RO": "11", "RR": "14", "SC": "42", "SP": "35",
	"SE": "28", "TO": "17",
}

// StateCode returns the IBGE code for a UF and whether it is known.
func StateCode(uf string) (string, bool) {
	code, ok := stateCodes[strings.ToUpper(strings.TrimSpace(uf))]
	return code, ok
}

// StateFromCode is the inverse of StateCode.
func StateFromCode(code string) (string, bool) {
	for uf, c := range stateCodes {
		if c == code {
			return uf, true
		}
	}
	return "", false
}

// DefaultMunicipalityCode is used when a city is not in the table (São Paulo).
const DefaultMunicipalityCode = "3550308"

var municipalityCodes = map[string]string{
	"SAO PAULO-SP":      "3550308",
	"CURITIBA-PR":       "4106902",
	"RIO DE JANEIRO-RJ": "3304557",
	"BELO HORIZONTE-MG": "3106200",
	"BRASILIA-DF":       "5300108",
	"SALVADOR-BA":       "2927408",
	"FORTALEZA-CE":      "2304400",
	"RECIFE-PE":         "2611606",
	"PORTO ALEGRE-RS":   "4314902",
}

// MunicipalityCode resolves the IBGE municipality code for a recipient
// city. Matching ignores case and accents.
func MunicipalityCode(city, uf string) string {
	key := foldName(city) + "-" + strings.ToUpper(strings.TrimSpace(uf))
	if code, ok := municipalityCodes[key]; ok {
		return code
	}
	return DefaultMunicipalityCode
}

// foldName uppercases and strips diacritics: "São Paulo" -> "SAO PAULO".
func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToUpper(strings.Join(strings.Fields(out), " "))
}
