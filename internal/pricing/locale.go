package pricing

import (
	"net/http"
	"strings"

	"korean-tutor-billing/internal/domain/model"
)

var countryCurrency = map[string]string{
	"IN": "INR",
	"US": "USD",
	"KR": "KRW",
	"GB": "GBP",
	"JP": "JPY",
	"DE": "EUR", "FR": "EUR", "ES": "EUR", "IT": "EUR", "NL": "EUR",
	"IE": "EUR", "PT": "EUR", "AT": "EUR", "BE": "EUR", "FI": "EUR",
}

// languages without a region tag that still pin a country.
var languageCountry = map[string]string{
	"ko": "KR",
	"ja": "JP",
	"hi": "IN",
}

// DetectLocale reads the CDN country header first, then X-Country-Code, then
// the first Accept-Language tag that names a region.
func DetectLocale(h http.Header) model.LocaleSignal {
	sig := model.LocaleSignal{}
	for _, k := range []string{"CF-IPCountry", "X-Country-Code"} {
		if c := normCountry(h.Get(k)); c != "" {
			sig.Country = c
			break
		}
	}
	lang, region := parseAcceptLanguage(h.Get("Accept-Language"))
	sig.Language = lang
	if sig.Country == "" {
		sig.Country = region
	}
	if sig.Country == "" && lang != "" {
		sig.Country = languageCountry[lang]
	}
	return sig
}

// CurrencyForCountry maps an ISO country code to its billing currency.
func CurrencyForCountry(country string) (string, bool) {
	c, ok := countryCurrency[strings.ToUpper(country)]
	return c, ok
}

func normCountry(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	// XX unknown, T1 Tor
	if len(v) != 2 || v == "XX" || v == "T1" {
		return ""
	}
	return v
}

func parseAcceptLanguage(v string) (lang, region string) {
	for _, part := range strings.Split(v, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if tag == "" || tag == "*" {
			continue
		}
		sub := strings.Split(strings.ReplaceAll(tag, "_", "-"), "-")
		if lang == "" {
			lang = strings.ToLower(sub[0])
		}
		for _, s := range sub[1:] {
			if len(s) == 2 {
				return lang, strings.ToUpper(s)
			}
		}
	}
	return lang, ""
}
