package media

import "testing"

func TestRound3(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   float64
		want float64
	}{
		{"exact", 1.5, 1.5},
		{"truncates jitter", 10.000100002, 10.0},
		{"rounds up", 2.99949999, 2.999},
		{"rounds half up", 0.0005, 0.001},
		{"zero", 0, 0},
		{"negative", -1.23456, -1.235},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Round3(tc.in); got != tc.want {
				t.Errorf("Round3(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
