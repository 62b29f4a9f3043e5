package compound

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackager_Decide(t *testing.T) {
	tests := []struct {
		name      string
		p         Packager
		candidate int64
		total     int64
		want      bool
	}{
		{"ratio zero never packs", Packager{NoCFSRatio: 0}, 1, 1000, false},
		{"ratio one always packs", Packager{NoCFSRatio: 1}, 1000, 1000, true},
		{"small share packs", Packager{NoCFSRatio: 0.1}, 50, 1000, true},
		{"boundary packs", Packager{NoCFSRatio: 0.1}, 100, 1000, true},
		{"large share stays loose", Packager{NoCFSRatio: 0.1}, 101, 1000, false},
		{"single dominant segment stays loose", Packager{NoCFSRatio: 0.1}, 500, 500, false},
		{"size cap wins over ratio one", Packager{NoCFSRatio: 1, MaxCompoundBytes: 100}, 101, 1000, false},
		{"under size cap", Packager{NoCFSRatio: 1, MaxCompoundBytes: 100}, 100, 1000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Decide(tt.candidate, tt.total))
		})
	}
}
