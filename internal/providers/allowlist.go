package providers

import (
	"bufio"
	"errors"
	"os"
	"sort"
	"strings"

	"econpanel/internal/model"
)

// LoadAllowlist reads ISO3 codes separated by commas, semicolons, tabs or
// newlines. Lines starting with # and an ISO3 header are ignored.
func LoadAllowlist(path string) (map[string]struct{}, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	allowed := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		for _, token := range splitTokens(line) {
			iso3 := strings.ToUpper(strings.TrimSpace(token))
			if iso3 == "" || iso3 == "ISO3" {
				continue
			}
			allowed[iso3] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(allowed) == 0 {
		return nil, errors.New("providers: allowlist is empty")
	}
	return allowed, nil
}

func splitTokens(line string) []string {
	replacer := strings.NewReplacer(";", ",", "\t", ",")
	line = replacer.Replace(line)
	parts := strings.Split(line, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// FilterCountries keeps sovereign entries and, when allowed is non-empty,
// only those listed. Kept entries are marked as UN members when the
// allowlist names them.
func FilterCountries(countries []model.Country, allowed map[string]struct{}) []model.Country {
	filtered := make([]model.Country, 0, len(countries))
	for _, country := range countries {
		if country.IsAggregate {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[strings.ToUpper(country.ISO3)]; !ok {
				continue
			}
			country.IsUNMember = true
		}
		filtered = append(filtered, country)
	}
	return filtered
}

// CountriesFromAllowlist is the reference used when the live list cannot be
// fetched.
func CountriesFromAllowlist(allowed map[string]struct{}) []model.Country {
	countries := make([]model.Country, 0, len(allowed))
	for iso3 := range allowed {
		trimmed := strings.TrimSpace(strings.ToUpper(iso3))
		if trimmed == "" || trimmed == "ISO3" {
			continue
		}
		countries = append(countries, model.Country{
			Name:       trimmed,
			ISO3:       trimmed,
			IsUNMember: true,
		})
	}
	sort.Slice(countries, func(i, j int) bool { return countries[i].ISO3 < countries[j].ISO3 })
	return countries
}

// ParseList splits a comma-separated flag value into upper-cased items.
func ParseList(value string) []string {
	raw := strings.Split(value, ",")
	items := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		items = append(items, strings.ToUpper(trimmed))
	}
	return items
}
