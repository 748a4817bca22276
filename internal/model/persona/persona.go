package persona

// Gender selects synthesized-voice characteristics and the default avatar
// placeholder. It can change via explicit user action, a detected-face
// inference, or an AI tool call.
type Gender string

const (
	Female Gender = "female"
	Male   Gender = "male"
)

// ParseGender normalizes a detected or requested gender string. Anything
// other than the two known values reports ok=false so callers keep their
// current setting.
func ParseGender(raw string) (Gender, bool) {
	switch Gender(raw) {
	case Female:
		return Female, true
	case Male:
		return Male, true
	default:
		return "", false
	}
}

// DefaultLanguage is the language replies are spoken in unless the user or
// an AI tool call picks another one. Submissions in the default language
// skip the translation step entirely.
const DefaultLanguage = "English"

// Persona captures the companion's presentation: how it sounds, which
// language it answers in, and the avatar it animates.
type Persona struct {
	Gender        Gender `json:"gender"`
	Language      string `json:"language"`
	AvatarDataURI string `json:"avatarDataUri,omitempty"`
	StyleSample   string `json:"styleSample,omitempty"`
}

// Default returns the persona a fresh session starts with.
func Default() Persona {
	return Persona{
		Gender:   Female,
		Language: DefaultLanguage,
	}
}
