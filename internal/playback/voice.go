package playback

import "strings"

// Matcher reports whether a voice is acceptable.
type Matcher func(Voice) bool

// Selector picks one voice from a catalog. ok is false for an empty catalog.
type Selector func(voices []Voice) (v Voice, ok bool)

// English matches voices whose language tag mentions "en".
func English(v Voice) bool {
	return strings.Contains(strings.ToLower(v.Lang), "en")
}

// NameContainsAny matches voices whose name contains any token, ignoring case.
func NameContainsAny(tokens ...string) Matcher {
	return func(v Voice) bool {
		name := strings.ToLower(v.Name)
		for _, t := range tokens {
			if t != "" && strings.Contains(name, strings.ToLower(t)) {
				return true
			}
		}
		return false
	}
}

// Provider matches voices published by provider (case sensitive, as vendors
// brand them) whose name also carries the region token in any case.
func Provider(provider, region string) Matcher {
	return func(v Voice) bool {
		if provider == "" || !strings.Contains(v.Name, provider) {
			return false
		}
		return region == "" || strings.Contains(strings.ToLower(v.Name), strings.ToLower(region))
	}
}

// All matches when every matcher does.
func All(ms ...Matcher) Matcher {
	return func(v Voice) bool {
		for _, m := range ms {
			if !m(v) {
				return false
			}
		}
		return true
	}
}

// Prefer tries each matcher in order and returns the first voice satisfying
// it. When none match the first voice of the catalog is used.
func Prefer(ms ...Matcher) Selector {
	return func(voices []Voice) (Voice, bool) {
		if len(voices) == 0 {
			return Voice{}, false
		}
		for _, m := range ms {
			for _, v := range voices {
				if m(v) {
					return v, true
				}
			}
		}
		return voices[0], true
	}
}

// Preferences describes the voice a deployment would like to hear.
type Preferences struct {
	// Persona tokens are matched against English voice names. "male" also
	// matches "female" names.
	Persona  []string
	Provider string
	Region   string
}

func DefaultPreferences() Preferences {
	return Preferences{
		Persona:  []string{"male", "david", "mark", "daniel"},
		Provider: "Google",
		Region:   "us",
	}
}

// Selector orders persona, then provider, then any English voice, then the
// first voice.
func (p Preferences) Selector() Selector {
	return Prefer(
		All(English, NameContainsAny(p.Persona...)),
		All(English, Provider(p.Provider, p.Region)),
		English,
	)
}
