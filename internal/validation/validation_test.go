package validation

import (
	"strings"
	"testing"

	"mazl/internal/models"
)

func TestSwipe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		actor  uint
		target uint
		action string
		want   models.SwipeAction
		ok     bool
	}{
		{name: "like", actor: 1, target: 2, action: "like", want: models.SwipeLike, ok: true},
		{name: "super like mixed case", actor: 1, target: 2, action: " Super_Like ", want: models.SwipeSuperLike, ok: true},
		{name: "pass", actor: 2, target: 1, action: "pass", want: models.SwipePass, ok: true},
		{name: "self swipe", actor: 3, target: 3, action: "like"},
		{name: "missing target", actor: 3, target: 0, action: "like"},
		{name: "unknown action", actor: 1, target: 2, action: "maybe"},
		{name: "empty action", actor: 1, target: 2, action: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Swipe(tc.actor, tc.target, tc.action)
			if tc.ok && err != nil {
				t.Fatalf("expected valid swipe, got error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected invalid swipe, got nil error")
			}
			if tc.ok && got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestMessageContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
		ok      bool
	}{
		{name: "plain", content: "hi", want: "hi", ok: true},
		{name: "trimmed", content: "  hey there \n", want: "hey there", ok: true},
		{name: "empty", content: ""},
		{name: "whitespace only", content: " \t\n "},
		{name: "at limit", content: strings.Repeat("é", models.MaxMessageLength), want: strings.Repeat("é", models.MaxMessageLength), ok: true},
		{name: "over limit", content: strings.Repeat("a", models.MaxMessageLength+1)},
		{name: "invalid utf8", content: "\xff\xfe"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MessageContent(tc.content)
			if tc.ok && err != nil {
				t.Fatalf("expected valid content, got error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected invalid content, got nil error")
			}
			if tc.ok && got != tc.want {
				t.Fatalf("unexpected normalized content %q", got)
			}
		})
	}
}

func TestMessagePage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
		ok                    bool
	}{
		{0, 0, DefaultMessageLimit, 0, true},
		{-5, 10, DefaultMessageLimit, 10, true},
		{20, 40, 20, 40, true},
		{500, 0, MaxMessageLimit, 0, true},
		{10, -1, 0, 0, false},
	}

	for _, tc := range tests {
		limit, offset, err := MessagePage(tc.limit, tc.offset)
		if tc.ok != (err == nil) {
			t.Fatalf("MessagePage(%d, %d) error = %v", tc.limit, tc.offset, err)
		}
		if tc.ok && (limit != tc.wantLimit || offset != tc.wantOffset) {
			t.Fatalf("MessagePage(%d, %d) = %d, %d", tc.limit, tc.offset, limit, offset)
		}
	}
}
