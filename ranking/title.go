package ranking

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TitleBonus rates how presentable a title is and returns a multiplier in
// [1, ceiling]. Source platforms default a clip's title to the stream title, so a
// short, specific, not-shouting title is worth a small boost.
func TitleBonus(title string, ceiling float64) float64 {
	if ceiling <= 1 {
		return 1
	}
	title = strings.TrimSpace(title)
	n := utf8.RuneCountInString(title)
	if n == 0 {
		return 1
	}

	points := 0.0
	if n >= 10 && n <= 70 {
		points++
	}
	if !shouting(title) {
		points++
	}
	if words := len(strings.Fields(title)); words >= 3 && words <= 12 {
		points++
	}
	if !strings.ContainsAny(title, "|[]") {
		points++
	}
	return 1 + (ceiling-1)*points/4
}

func shouting(s string) bool {
	letters, upper := 0, 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters >= 6 && float64(upper)/float64(letters) > 0.7
}
