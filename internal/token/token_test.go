package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundtrip(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "plain words", text: "hello retrieval engine", want: "hello retrieval engine"},
		{name: "extra whitespace normalized", text: "  hello \t world\n", want: "hello world"},
		{name: "cjk runes", text: "你好world", want: "你好world"},
		{name: "empty", text: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Decode(Encode(tt.text)))
		})
	}
}

func TestCount(t *testing.T) {
	require.Equal(t, 0, Count(""))
	require.Equal(t, 3, Count("one two three"))
	// wide runes count one token each
	require.Equal(t, 5, Count("语义检索 go"), "4 runes + 1 word")
}

func TestTailAndHead(t *testing.T) {
	text := "a b c d e"
	require.Equal(t, "d e", Tail(text, 2))
	require.Equal(t, "a b", Head(text, 2))
	require.Equal(t, text, Tail(text, 10))
	require.Equal(t, text, Head(text, 10))
	require.Equal(t, "", Tail(text, 0))
	require.Equal(t, "", Head(text, 0))
}
