package unifi

import (
	"fmt"
	"strings"
)

// ResolveDoorID picks the door matching query. Matching is case-insensitive
// on trimmed strings and tiered: exact name, then exact full name, then
// substring of either. The first non-empty tier wins and must hold exactly
// one door.
func ResolveDoorID(query string, doors []Door) (string, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return "", ErrDoorNameRequired
	}

	var exactName, exactFull, contains []Door
	for _, d := range doors {
		name := strings.ToLower(d.Name)
		full := strings.ToLower(d.FullName)
		switch {
		case name == needle:
			exactName = append(exactName, d)
		case full == needle:
			exactFull = append(exactFull, d)
		case strings.Contains(name, needle) || strings.Contains(full, needle):
			contains = append(contains, d)
		}
	}

	matches := exactName
	if len(matches) == 0 {
		matches = exactFull
	}
	if len(matches) == 0 {
		matches = contains
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w '%s'", ErrDoorNotFound, query)
	case 1:
	default:
		names := make([]string, 0, len(matches))
		for _, d := range matches {
			if d.FullName != "" {
				names = append(names, d.FullName)
			} else {
				names = append(names, d.Name)
			}
		}
		return "", &AmbiguousDoorError{Query: query, Matches: names}
	}

	id := strings.TrimSpace(matches[0].ID)
	if id == "" {
		return "", responseError("Matched door is missing a valid id")
	}
	return id, nil
}
