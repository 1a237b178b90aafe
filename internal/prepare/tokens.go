package prepare

// ImageTokenEstimate is the fixed cost assumed for one image payload.
const ImageTokenEstimate = 1600

// EstimateTokens approximates token count from text length. Four characters
// per token is coarse but stable, which is what batch planning needs.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
