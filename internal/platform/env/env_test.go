package env

import (
	"testing"
	"time"
)

func TestString_Default(t *testing.T) {
	got := String("RELEASES_ENV_STRING_DOES_NOT_EXIST", "fallback")
	if got != "fallback" {
		t.Fatalf("String()=%q, want fallback", got)
	}
}

func TestString_Override(t *testing.T) {
	t.Setenv("RELEASES_ENV_STRING_KEY", "value")
	got := String("RELEASES_ENV_STRING_KEY", "fallback")
	if got != "value" {
		t.Fatalf("String()=%q, want value", got)
	}
}

func TestDuration(t *testing.T) {
	got, err := Duration("RELEASES_ENV_DURATION_DOES_NOT_EXIST", 5*time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 5*time.Second {
		t.Fatalf("Duration()=%v, want 5s", got)
	}

	t.Setenv("RELEASES_ENV_DURATION_KEY", "24h")
	got, err = Duration("RELEASES_ENV_DURATION_KEY", 5*time.Second)
	if err != nil {
		t.Fatalf("Duration() err=%v", err)
	}
	if got != 24*time.Hour {
		t.Fatalf("Duration()=%v, want 24h", got)
	}

	t.Setenv("RELEASES_ENV_DURATION_INVALID", "tomorrow")
	if _, err := Duration("RELEASES_ENV_DURATION_INVALID", time.Second); err == nil {
		t.Fatalf("Duration() expected error")
	}
}

func TestBool(t *testing.T) {
	t.Setenv("RELEASES_ENV_BOOL_KEY", "false")
	got, err := Bool("RELEASES_ENV_BOOL_KEY", true)
	if err != nil {
		t.Fatalf("Bool() err=%v", err)
	}
	if got {
		t.Fatalf("Bool()=%v, want false", got)
	}

	t.Setenv("RELEASES_ENV_BOOL_INVALID", "nope")
	if _, err := Bool("RELEASES_ENV_BOOL_INVALID", false); err == nil {
		t.Fatalf("Bool() expected error")
	}
}

func TestBlankValueUsesDefault(t *testing.T) {
	t.Setenv("RELEASES_ENV_INT_BLANK", "   ")
	got, err := Int("RELEASES_ENV_INT_BLANK", 42)
	if err != nil {
		t.Fatalf("Int() err=%v", err)
	}
	if got != 42 {
		t.Fatalf("Int()=%v, want 42", got)
	}
}

func TestInt64(t *testing.T) {
	t.Setenv("RELEASES_ENV_INT64_KEY", "-1001234567890")
	got, err := Int64("RELEASES_ENV_INT64_KEY", 0)
	if err != nil {
		t.Fatalf("Int64() err=%v", err)
	}
	if got != -1001234567890 {
		t.Fatalf("Int64()=%v", got)
	}

	t.Setenv("RELEASES_ENV_INT64_INVALID", "chat")
	if _, err := Int64("RELEASES_ENV_INT64_INVALID", 0); err == nil {
		t.Fatalf("Int64() expected error")
	}
}

func TestList(t *testing.T) {
	t.Setenv("RELEASES_ENV_LIST_KEY", " openid, ,releases:write ")
	got := List("RELEASES_ENV_LIST_KEY", nil)
	if len(got) != 2 || got[0] != "openid" || got[1] != "releases:write" {
		t.Fatalf("List()=%v", got)
	}

	def := []string{"a"}
	if got := List("RELEASES_ENV_LIST_DOES_NOT_EXIST", def); len(got) != 1 || got[0] != "a" {
		t.Fatalf("List() default=%v", got)
	}
}
