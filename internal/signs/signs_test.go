package signs

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestMap_Keywords(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"exit", "EXIT", ExitAlert},
		{"exit wins over platform", "Exit -> Platform", ExitAlert},
		{"exit wins regardless of position", "Platform 3 / Emergency exit", ExitAlert},
		{"exit wins over stairs", "stairs to exit", ExitAlert},
		{"stairs", "Stairway to level 2", StairsAlert},
		{"stair wins over platform", "Platform stairs", StairsAlert},
		{"platform", "  PLATFORM 9  ", PlatformAlert},
		{"substring match", "Exiting traffic", ExitAlert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Map(tt.raw)
			if got.Spoken != tt.want {
				t.Errorf("Map(%q).Spoken = %q, want %q", tt.raw, got.Spoken, tt.want)
			}
			if !got.HasStatus || got.Status != tt.want {
				t.Errorf("Map(%q) status = %q (has=%v), want %q", tt.raw, got.Status, got.HasStatus, tt.want)
			}
		})
	}
}

func TestMap_Empty(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n\t "} {
		got := Map(raw)
		if got.Spoken != NoTextSpoken {
			t.Errorf("Map(%q).Spoken = %q, want %q", raw, got.Spoken, NoTextSpoken)
		}
		if got.HasStatus {
			t.Errorf("Map(%q) should not update the status line", raw)
		}
	}
}

func TestMap_Generic(t *testing.T) {
	got := Map("  Ticket Office  ")
	if got.Spoken != "Sign reads: Ticket Office" {
		t.Errorf("Spoken = %q", got.Spoken)
	}
	if got.Status != "Sign: Ticket Office" {
		t.Errorf("Status = %q", got.Status)
	}
}

func TestMap_Truncation(t *testing.T) {
	raw := strings.Repeat("abcdefghij", 10) // 100 chars, no keywords
	got := Map(raw)

	if want := "Sign reads: " + raw[:60]; got.Spoken != want {
		t.Errorf("Spoken = %q, want %q", got.Spoken, want)
	}
	if want := "Sign: " + raw[:40]; got.Status != want {
		t.Errorf("Status = %q, want %q", got.Status, want)
	}
}

func TestMap_TruncationIsRuneSafe(t *testing.T) {
	raw := strings.Repeat("ü", 70)
	got := Map(raw)

	if !utf8.ValidString(got.Spoken) || !utf8.ValidString(got.Status) {
		t.Fatal("truncation produced invalid UTF-8")
	}
	if n := utf8.RuneCountInString(strings.TrimPrefix(got.Spoken, "Sign reads: ")); n != 60 {
		t.Errorf("spoken text has %d runes, want 60", n)
	}
}

func TestMap_PreservesCase(t *testing.T) {
	got := Map("Ticket HALL B")
	if got.Spoken != "Sign reads: Ticket HALL B" {
		t.Errorf("Spoken = %q", got.Spoken)
	}
}

func TestDisplay(t *testing.T) {
	if got := Display("  Gate 4 \n"); got != "Gate 4" {
		t.Errorf("Display = %q", got)
	}
	if got := Display(" "); got != NoTextDisplay {
		t.Errorf("Display(blank) = %q", got)
	}
}
