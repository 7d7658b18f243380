package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// slowReader hands out its input only after a delay, like a user at a prompt.
type slowReader struct {
	delay time.Duration
	r     *strings.Reader
}

func (s *slowReader) Read(p []byte) (int, error) {
	time.Sleep(s.delay)
	return s.r.Read(p)
}

func TestSendAfterConfirmation_DeadlineStartsAfterPrompt(t *testing.T) {
	in := &slowReader{delay: 80 * time.Millisecond, r: strings.NewReader("yes\n")}

	var sendErr error
	confirmed, err := sendAfterConfirmation(in, 50*time.Millisecond, func(ctx context.Context) error {
		sendErr = ctx.Err()
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !confirmed {
		t.Fatal("expected the send to be confirmed")
	}
	if sendErr != nil {
		t.Fatalf("send context already done after a slow prompt: %v", sendErr)
	}
}

func TestSendAfterConfirmation_Declined(t *testing.T) {
	called := false
	confirmed, err := sendAfterConfirmation(strings.NewReader("no\n"), time.Second, func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil || confirmed || called {
		t.Fatalf("confirmed=%v called=%v err=%v, want a declined prompt to skip the send", confirmed, called, err)
	}
}

func TestSendAfterConfirmation_ReturnsSendError(t *testing.T) {
	want := errors.New("smtp: 535 authentication failed")
	_, err := sendAfterConfirmation(strings.NewReader("yes\n"), time.Second, func(ctx context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
}
