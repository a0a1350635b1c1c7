package telegram

import (
	"testing"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	gone := []error{
		errors.New("Bad Request: message to delete not found"),
		errors.New("Bad Request: message can't be deleted"),
	}
	for _, err := range gone {
		if !isGoneError(err) {
			t.Errorf("isGoneError(%v) = false", err)
		}
		if isPermissionError(err) {
			t.Errorf("isPermissionError(%v) = true", err)
		}
	}

	denied := []error{
		errors.New("Bad Request: not enough rights to manage chat"),
		errors.New("Forbidden: bot was kicked from the supergroup chat"),
	}
	for _, err := range denied {
		if !isPermissionError(err) {
			t.Errorf("isPermissionError(%v) = false", err)
		}
	}

	if isGoneError(errors.New("Too Many Requests: retry after 5")) {
		t.Error("transient error classified as gone")
	}
}

func TestGetUN(t *testing.T) {
	t.Parallel()

	if got := GetUN(&api.User{UserName: "handle", FirstName: "A"}); got != "handle" {
		t.Fatalf("GetUN() = %q, want handle", got)
	}
	if got := GetUN(&api.User{FirstName: "Ada", LastName: "L"}); got != "Ada L" {
		t.Fatalf("GetUN() = %q, want full name fallback", got)
	}
	if got := GetUN(nil); got != "" {
		t.Fatalf("GetUN(nil) = %q", got)
	}
}

func TestExtractContent(t *testing.T) {
	t.Parallel()

	url := "https://x.example"
	msg := &api.Message{
		Caption: "look",
		ReplyMarkup: &api.InlineKeyboardMarkup{InlineKeyboard: [][]api.InlineKeyboardButton{{
			{Text: "Claim prize", URL: &url},
		}}},
	}
	if got := ExtractContent(msg); got != "look Claim prize" {
		t.Fatalf("ExtractContent() = %q", got)
	}
}
