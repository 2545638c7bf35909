package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_Empty(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
}

func TestNormalize_Lowercases(t *testing.T) {
	assert.Equal(t, "union select", Normalize("UNION SELECT"))
}

func TestNormalize_URLDecodes(t *testing.T) {
	assert.Equal(t, "1 or 1=1", Normalize("1%20or%201=1"))
}

func TestNormalize_DoubleURLDecodes(t *testing.T) {
	// %2520 -> %20 -> " "
	assert.Equal(t, "a b", Normalize("a%2520b"))
}

func TestNormalize_HTMLEntityDecodes(t *testing.T) {
	assert.Equal(t, "<script>", Normalize("&lt;script&gt;"))
}

func TestNormalize_StripsNullBytes(t *testing.T) {
	assert.Equal(t, "abc", Normalize("a\x00b\x00c"))
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"UNION%20SELECT",
		"&amp;lt;script&amp;gt;",
		"a%2520b",
		"plain text",
		"%3Cscript%3Ealert(1)%3C/script%3E",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		assert.Equal(t, once, twice, "Normalize not idempotent for %q", in)
	}
}
