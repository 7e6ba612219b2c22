package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePlainJSON(t *testing.T) {
	in := `{"files":[]}`
	assert.Equal(t, in, Normalize(in))
}

func TestNormalizeFence(t *testing.T) {
	assert.Equal(t, `{"files":[]}`, Normalize("```json\n{\"files\":[]}\n```"))
	assert.Equal(t, `{"files":[]}`, Normalize("```\n{\"files\":[]}\n```"))
}

func TestNormalizeUnterminatedFence(t *testing.T) {
	assert.Equal(t, `{"files":[`, Normalize("```json\n{\"files\":["))
}

func TestNormalizeSurroundingProse(t *testing.T) {
	in := "Sure! Here is the project:\n{\"files\":[]}\nHope that helps."
	assert.Equal(t, `{"files":[]}`, Normalize(in))
}

func TestNormalizeKeepsTruncatedTail(t *testing.T) {
	// The last closing brace belongs to an inner object; the tail after
	// it is payload from a string cut mid-flight and must survive.
	in := `{"files":[{"path":"a.js","content":"x = {}; more \"quoted`
	assert.Equal(t, in, Normalize(in))
}

func TestNormalizeDropsQuotedCommentary(t *testing.T) {
	// A complete payload followed by prose that itself carries quotes:
	// the bounded slice parses, so the tail is commentary and goes.
	payload := `{"files":[{"path":"a.js","content":"x"}],"dependencies":{}}`
	in := payload + "\nDone! The app greets users with \"hello\" on load."
	assert.Equal(t, payload, Normalize(in))
}

func TestNormalizeWhitespaceAndEmpty(t *testing.T) {
	assert.Equal(t, "", Normalize("   \n\t "))
	assert.Equal(t, "no json here", Normalize("no json here"))
}
