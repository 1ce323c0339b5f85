package config

const (
	CategoryInformation = "🕯️ Information"
	CategoryModeration  = "🛡️ Moderation"
	CategorySettings    = "⚙️ Settings"
)

// CategoryWeights orders command categories in help output.
var CategoryWeights = map[string]int{
	CategoryInformation: 0,
	CategoryModeration:  10,
	CategorySettings:    50,
}
