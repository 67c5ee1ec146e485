package console

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
)

type fakeAsker struct {
	answers  map[string][]string
	asked    []string
	resets   int
	failWith error
}

func (f *fakeAsker) Ask(_ context.Context, prompt string) iter.Seq[string] {
	return func(yield func(string) bool) {
		f.asked = append(f.asked, prompt)
		for _, fragment := range f.answers[prompt] {
			if !yield(fragment) {
				return
			}
		}
	}
}

func (f *fakeAsker) Reset() {
	f.resets++
}

func (f *fakeAsker) Err() error {
	return f.failWith
}

func TestRunAnswersUntilExit(t *testing.T) {
	asker := &fakeAsker{answers: map[string][]string{
		"how many users?": {"There are ", "2 users."},
	}}
	var out bytes.Buffer
	in := strings.NewReader("how many users?\n\n/reset\nexit\nnever asked\n")

	if err := Run(context.Background(), asker, Options{In: in, Out: &out, Banner: "sqlchat"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(asker.asked) != 1 || asker.asked[0] != "how many users?" {
		t.Fatalf("asked = %v", asker.asked)
	}
	if asker.resets != 1 {
		t.Fatalf("resets = %d", asker.resets)
	}
	text := out.String()
	for _, want := range []string{"sqlchat\n", "There are 2 users.\n", "Conversation cleared."} {
		if !strings.Contains(text, want) {
			t.Fatalf("output %q missing %q", text, want)
		}
	}
}

func TestRunStopsAtEOF(t *testing.T) {
	asker := &fakeAsker{}
	if err := Run(context.Background(), asker, Options{In: strings.NewReader("QUIT")}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := Run(context.Background(), asker, Options{In: strings.NewReader("first\nsecond")}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(asker.asked) != 2 {
		t.Fatalf("asked = %v", asker.asked)
	}
}

func TestRunReportsAskerFailure(t *testing.T) {
	asker := &fakeAsker{failWith: errors.New("http 409: SESSION_BUSY")}
	var errOut bytes.Buffer
	if err := Run(context.Background(), asker, Options{In: strings.NewReader("hi\n"), Err: &errOut}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.Contains(errOut.String(), "SESSION_BUSY") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func TestRunRequiresAsker(t *testing.T) {
	if err := Run(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestAskWritesNewlineOnlyAfterAnswer(t *testing.T) {
	var out bytes.Buffer
	asker := &fakeAsker{answers: map[string][]string{"q": {"a"}}}
	if err := Ask(context.Background(), asker, "q", &out); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if err := Ask(context.Background(), asker, "silent", &out); err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if out.String() != "a\n" {
		t.Fatalf("output = %q", out.String())
	}
}
