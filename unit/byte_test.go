package unit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xeptore/tunedl/unit"
)

func TestFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   int64
		want string
	}{
		{name: "zero", in: 0, want: "0 B"},
		{name: "bytes", in: 1023, want: "1023 B"},
		{name: "kibibyte", in: unit.Kibibyte, want: "1.0 KiB"},
		{name: "fractional mebibytes", in: 3*unit.Mebibyte + unit.Mebibyte/2, want: "3.5 MiB"},
		{name: "gibibytes", in: 2 * unit.Gibibyte, want: "2.0 GiB"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, unit.Format(tc.in))
		})
	}
}
