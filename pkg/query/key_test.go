package query

import (
	"errors"
	"testing"
)

func TestKey(t *testing.T) {
	k := Key{"chart-data", "30d"}
	if k.String() != "chart-data:30d" {
		t.Errorf("String() = %q", k.String())
	}
	if k.Resource() != "chart-data" {
		t.Errorf("Resource() = %q", k.Resource())
	}
	if !ParseKey("chart-data:30d").Equal(k) {
		t.Error("ParseKey should invert String")
	}

	tests := []struct {
		prefix Key
		want   bool
	}{
		{Key{"chart-data"}, true},
		{Key{"chart-data", "30d"}, true},
		{Key{"chart-data", "7d"}, false},
		{Key{"chart"}, false},
		{Key{"chart-data", "30d", "x"}, false},
	}
	for _, tt := range tests {
		if got := k.HasPrefix(tt.prefix); got != tt.want {
			t.Errorf("HasPrefix(%v) = %v, want %v", tt.prefix, got, tt.want)
		}
	}
}

func TestKey_Validate(t *testing.T) {
	tests := []struct {
		key   Key
		valid bool
	}{
		{Key{"transactions"}, true},
		{Key{"transaction", "42"}, true},
		{nil, false},
		{Key{"transaction", ""}, false},
		{Key{"a:b"}, false},
		{Key{" padded "}, false},
	}
	for _, tt := range tests {
		err := tt.key.Validate()
		if tt.valid && err != nil {
			t.Errorf("%v: unexpected error %v", tt.key, err)
		}
		if !tt.valid && !errors.Is(err, ErrInvalidKey) {
			t.Errorf("%v: expected ErrInvalidKey, got %v", tt.key, err)
		}
	}
}
