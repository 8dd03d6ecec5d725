package types

// Category is the closed tag set for behavioral memory items. It is a typed
// enum with associated-data tables (base importance, display label) so that
// producers and consumers cannot drift on ad-hoc string keys.
type Category string

const (
	// CategoryPref captures AI-interaction preferences
	// (e.g. "User prefers short, direct answers").
	CategoryPref Category = "PREF"

	// CategoryProc captures procrastination triggers.
	CategoryProc Category = "PROC"

	// CategorySoma captures psychosomatic patterns.
	CategorySoma Category = "SOMA"

	// CategoryEmo captures emotional triggers.
	CategoryEmo Category = "EMO"

	// CategorySab captures self-sabotage patterns.
	CategorySab Category = "SAB"

	// CategoryEffective captures encouragement techniques that worked.
	CategoryEffective Category = "EFFECTIVE"
)

// categoryBaseImportance maps each category to its base importance weight.
// Techniques that demonstrably worked rank highest; psychosomatic
// observations are the noisiest signal and rank lowest.
var categoryBaseImportance = map[Category]float64{
	CategoryEffective: 0.8,
	CategoryPref:      0.7,
	CategoryProc:      0.5,
	CategoryEmo:       0.5,
	CategorySab:       0.5,
	CategorySoma:      0.4,
}

// categoryLabels maps each category to its human-readable display label,
// used when formatting retrieved memories for the assistant.
var categoryLabels = map[Category]string{
	CategoryPref:      "AI interaction preference",
	CategoryProc:      "Procrastination trigger",
	CategorySoma:      "Psychosomatic pattern",
	CategoryEmo:       "Emotional trigger",
	CategorySab:       "Self-sabotage pattern",
	CategoryEffective: "Effective encouragement",
}

// AllCategories returns the closed category set in a stable order.
func AllCategories() []Category {
	return []Category{
		CategoryPref,
		CategoryProc,
		CategorySoma,
		CategoryEmo,
		CategorySab,
		CategoryEffective,
	}
}

// IsValidCategory reports whether c is a member of the closed tag set.
func IsValidCategory(c Category) bool {
	_, ok := categoryBaseImportance[c]
	return ok
}

// BaseImportance returns the category's base importance weight.
// Unknown categories get 0.5, the neutral midpoint.
func (c Category) BaseImportance() float64 {
	if w, ok := categoryBaseImportance[c]; ok {
		return w
	}
	return 0.5
}

// Label returns the category's display label, or the raw value for
// unknown categories.
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return string(c)
}
