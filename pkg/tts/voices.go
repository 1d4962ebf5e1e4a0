package tts

// ElevenLabsVoices maps friendly preset names to ElevenLabs voice IDs.
var ElevenLabsVoices = map[string]string{
	"sarah":   "EXAVITQu4vr4xnSDxMaL", // American female, soft
	"rachel":  "21m00Tcm4TlvDq8ikWAM", // American female, calm
	"aria":    "9BWtsMINqrJLrRacOk9x", // American female, expressive
	"charlie": "IKne3meq5aSn9XLyUdCD", // Australian male, casual
	"josh":    "TxGEqnHWrfWFTfGW9XjX", // American male, deep
	"adam":    "pNInz6obpgDQGcFmaJgB", // American male, deep
}

// DefaultElevenLabsVoice is the preset used when no voice is configured.
const DefaultElevenLabsVoice = "sarah"

// AuraModels lists Deepgram Aura voices accepted by NewDeepgram's WithModel.
var AuraModels = []string{
	"aura-asteria-en",
	"aura-luna-en",
	"aura-stella-en",
	"aura-athena-en",
	"aura-hera-en",
	"aura-orion-en",
	"aura-arcas-en",
	"aura-perseus-en",
	"aura-angus-en",
	"aura-orpheus-en",
	"aura-helios-en",
	"aura-zeus-en",
}

// ResolveElevenLabsVoice returns the voice ID for a preset name, or the
// input unchanged if it is already an ID.
func ResolveElevenLabsVoice(name string) string {
	if id, ok := ElevenLabsVoices[name]; ok {
		return id
	}
	return name
}

// IsAuraModel reports whether model is a known Aura voice.
func IsAuraModel(model string) bool {
	for _, m := range AuraModels {
		if m == model {
			return true
		}
	}
	return false
}
