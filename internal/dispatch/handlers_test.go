package dispatch

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "corpus", 30, "corpus"},
		{"exact", "abcdefghij", 10, "abcdefghij"},
		{"ascii", "abcdefghijkl", 10, "abcdefg..."},
		{"multibyte", "données-météo-été-2024", 10, "données..."},
		{"cjk", "数据集数据集数据集数据集", 8, "数据集数据..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, utf8.RuneCountInString(got), tt.n)
		})
	}
}
