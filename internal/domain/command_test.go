package domain

import "testing"

func TestParseSlashCommand(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   ParsedCommand
		wantOK bool
	}{
		{"bare", "/help", ParsedCommand{Name: "help"}, true},
		{"args", "/review  main.go  ", ParsedCommand{Name: "review", Args: "main.go"}, true},
		{"multiline args", "/plan first line\nsecond line", ParsedCommand{Name: "plan", Args: "first line\nsecond line"}, true},
		{"newline separator", "/plan\nbody", ParsedCommand{Name: "plan", Args: "body"}, true},
		{"dashes and underscores", "/fix-bug_2 now", ParsedCommand{Name: "fix-bug_2", Args: "now"}, true},
		{"no slash", "help", ParsedCommand{}, false},
		{"leading space", " /help", ParsedCommand{}, false},
		{"empty name", "/", ParsedCommand{}, false},
		{"invalid char", "/he.lp", ParsedCommand{}, false},
		{"path-like", "/usr/bin", ParsedCommand{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSlashCommand(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
