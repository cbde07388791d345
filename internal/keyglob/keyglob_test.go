package keyglob

import (
	"regexp"
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		Pattern string
		Key     string
		Want    bool
	}{
		{"*", "", true},
		{"*", "resque:status:abc", true},
		{"resque:*abc", "resque:status:abc", true},
		{"resque:*abc", "resque:processed:abc", true},
		{"resque:*abc", "resque:status:abcd", false},
		{"resque:worker:*", "resque:worker:host(1.2.3.4):12:t1:/var/app:*", true},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"a*b*c", "a-x-b-y-c", true},
		{"a*b*c", "a-x-c", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
	}
	for _, tt := range tests {
		if have, want := Match(tt.Pattern, tt.Key), tt.Want; have != want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.Pattern, tt.Key, have, want)
		}
		re := regexp.MustCompile(Regexp(tt.Pattern))
		if have, want := re.MatchString(tt.Key), tt.Want; have != want {
			t.Errorf("Regexp(%q) matching %q = %v, want %v", tt.Pattern, tt.Key, have, want)
		}
	}
}

func TestLike(t *testing.T) {
	if have, want := Like("resque:*a_b%?", '!'), "resque:%a!_b!%_"; have != want {
		t.Fatalf("Like = %q, want %q", have, want)
	}
	if have, want := Like("x!y", '!'), "x!!y"; have != want {
		t.Fatalf("Like = %q, want %q", have, want)
	}
}
