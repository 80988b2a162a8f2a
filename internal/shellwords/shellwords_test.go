package shellwords

import (
	"errors"
	"reflect"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"whitespace only", "   \t ", nil},
		{"single word", "pwd", []string{"pwd"}},
		{"multiple words", "mkdir -p a/b", []string{"mkdir", "-p", "a/b"}},
		{"collapsed whitespace", "ls   \t -l", []string{"ls", "-l"}},
		{"single quotes", "echo 'hello world'", []string{"echo", "hello world"}},
		{"double quotes", `echo "hello world"`, []string{"echo", "hello world"}},
		{"empty quoted word", "echo ''", []string{"echo", ""}},
		{"adjacent quoted parts", `echo 'a'"b"c`, []string{"echo", "abc"}},
		{"escaped space", `echo hello\ world`, []string{"echo", "hello world"}},
		{"escaped quote", `echo \'`, []string{"echo", "'"}},
		{"double quote inside single", `echo 'say "hi"'`, []string{"echo", `say "hi"`}},
		{"single quote inside double", `echo "don't"`, []string{"echo", "don't"}},
		{"escaped dquote in dquotes", `echo "a\"b"`, []string{"echo", `a"b`}},
		{"backslash literal in dquotes", `echo "a\nb"`, []string{"echo", `a\nb`}},
		{"no expansion", `echo $HOME`, []string{"echo", "$HOME"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Split(tc.in)
			if err != nil {
				t.Fatalf("Split(%q): %v", tc.in, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Split(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

func TestSplitErrors(t *testing.T) {
	for _, in := range []string{
		"echo 'open",
		`echo "open`,
		`echo trailing\`,
	} {
		if _, err := Split(in); !errors.Is(err, ErrUnterminatedQuote) {
			t.Errorf("Split(%q): got %v, want ErrUnterminatedQuote", in, err)
		}
	}
}
