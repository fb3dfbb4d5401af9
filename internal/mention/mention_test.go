package mention_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"taskroom/internal/mention"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    []string
	}{
		{"none", "hello world", nil},
		{"single", "hello @alice", []string{"alice"}},
		{"several", "@alice @bob @carol", []string{"alice", "bob", "carol"}},
		{"longest match", "ping @bob_2024!", []string{"bob_2024"}},
		{"punctuation ends token", "@alice, @bob.", []string{"alice", "bob"}},
		{"dedupe keeps first order", "@bob @alice @bob", []string{"bob", "alice"}},
		{"case preserved", "@Alice @alice", []string{"Alice", "alice"}},
		{"bare at", "@ alone @", nil},
		{"email is not a mention", "mail bob@example.com", nil},
		{"double at", "@@alice", []string{"alice"}},
		{"unicode letters", "merci @zoé", []string{"zoé"}},
		{"start of line after newline", "ok\n@dev", []string{"dev"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, mention.Parse(tc.content))
		})
	}
}

func TestParseDeterministic(t *testing.T) {
	content := "@a @b @c @a @d"
	first := mention.Parse(content)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, mention.Parse(content))
	}
}

func TestValidHandle(t *testing.T) {
	require.True(t, mention.ValidHandle("alice_01"))
	require.True(t, mention.ValidHandle("Zoé"))
	require.False(t, mention.ValidHandle(""))
	require.False(t, mention.ValidHandle("bob.smith"))
	require.False(t, mention.ValidHandle("@bob"))
}
