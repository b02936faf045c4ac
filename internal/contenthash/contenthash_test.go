package contenthash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"only whitespace", " \n\t\n  ", ""},
		{"adds trailing newline", "hello", "hello\n"},
		{"keeps single trailing newline", "hello\n", "hello\n"},
		{"drops extra trailing newlines", "hello\n\n\n", "hello\n"},
		{"crlf", "a\r\nb\r\n", "a\nb\n"},
		{"lone cr", "a\rb", "a\nb\n"},
		{"trailing spaces per line", "a  \nb\t\n", "a\nb\n"},
		{"keeps one blank line", "a\n\nb", "a\n\nb\n"},
		{"collapses two blank lines", "a\n\n\nb", "a\n\nb\n"},
		{"collapses many blank lines", "a\n\n\n\n\n\nb", "a\n\nb\n"},
		{"whitespace-only lines count as blank", "a\n  \n\t\n \nb", "a\n\nb\n"},
		{"leading document whitespace", "\n\n  a\nb", "a\nb\n"},
		{"keeps inner indentation", "a\n    code\nb", "a\n    code\nb\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"x",
		"  leading\r\n\r\n\r\n\r\ntrailing   \r\n",
		"# Title\n\n\n\nbody  \n\n- item\n- item\n\n\n",
		"\t\tindented first line\nnext",
		"a\r\rb\r\r\r\rc",
		"\u00a0nbsp\u00a0\n",
	}

	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestHash_Deterministic(t *testing.T) {
	a := Hash([]byte("content"))
	b := Hash([]byte("content"))
	assert.Equal(t, a, b)
	assert.Len(t, a, Size)
}

func TestHash_CaseAndOrderSensitive(t *testing.T) {
	assert.NotEqual(t, Hash([]byte("abc")), Hash([]byte("ABC")))
	assert.NotEqual(t, Hash([]byte("ab")), Hash([]byte("ba")))
}

func TestHash_KnownVector(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Hash(nil))
}

func TestHashText_IgnoresFormattingNoise(t *testing.T) {
	require.Equal(t, HashText("a\nb\n"), HashText("a\r\nb   \r\n\r\n"))
	assert.NotEqual(t, HashText("a\nb\n"), HashText("a\nc\n"))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("x\n", "x"))
	assert.False(t, Equal("x", "y"))
}
