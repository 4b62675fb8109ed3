package form

import (
	"testing"
	"time"
)

func TestApplyRulesNumberWheel(t *testing.T) {
	c := &Component{Kind: KindNumberWheel, Label: "Count", WheelMin: 0, WheelMax: 100, WheelStep: 5}

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"25", "25", false},
		{" 25 ", "25", false},
		{"0", "0", false},
		{"100", "100", false},
		{"", "", false},
		{"23", "", true},  // off-step
		{"105", "", true}, // above max
		{"-5", "", true},  // below min
		{"2.5", "", true},
		{"abc", "", true},
	}
	for _, tt := range tests {
		got, err := ApplyRules(c, tt.in)
		if tt.wantErr != (err != nil) {
			t.Errorf("ApplyRules(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ApplyRules(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestApplyRulesWheelNegativeRange(t *testing.T) {
	c := &Component{Kind: KindNumberWheel, Label: "Offset", WheelMin: -10, WheelMax: 10, WheelStep: 2}
	if got, err := ApplyRules(c, "-4"); err != nil || got != "-4" {
		t.Fatalf("ApplyRules(-4) = %q, %v", got, err)
	}
	if _, err := ApplyRules(c, "-5"); err == nil {
		t.Fatal("expected off-step error for -5 with min -10 step 2")
	}
}

func TestApplyRulesEmail(t *testing.T) {
	c := &Component{Kind: KindEmail, Label: "Email"}
	if got, err := ApplyRules(c, "a.b@example.co"); err != nil || got != "a.b@example.co" {
		t.Fatalf("valid email rejected: %q, %v", got, err)
	}
	for _, bad := range []string{"nope", "a@b", "a b@example.com", "@example.com"} {
		if _, err := ApplyRules(c, bad); err == nil {
			t.Errorf("ApplyRules(%q) accepted invalid email", bad)
		}
	}
	if got, err := ApplyRules(c, ""); err != nil || got != "" {
		t.Fatalf("empty email must pass through, got %q, %v", got, err)
	}
}

func TestApplyRulesFormattedNumber(t *testing.T) {
	c := &Component{Kind: KindFormattedNumber, Label: "ID", NumberPattern: "000-00"}
	got, err := ApplyRules(c, "12 34.5")
	if err != nil {
		t.Fatal(err)
	}
	if got != "123-45" {
		t.Fatalf("got %q, want 123-45", got)
	}
	if _, err := ApplyRules(c, "1234"); err == nil {
		t.Fatal("expected digit-count error")
	}
	if _, err := ApplyRules(c, "123456"); err == nil {
		t.Fatal("expected digit-count error")
	}
}

func TestApplyRulesText(t *testing.T) {
	tests := []struct {
		name    string
		c       Component
		in      string
		want    string
		wantErr bool
	}{
		{"upper", Component{Kind: KindInput, CaseMode: CaseUpper}, "abc", "ABC", false},
		{"lower", Component{Kind: KindInput, CaseMode: CaseLower}, "AbC", "abc", false},
		{"only digits ok", Component{Kind: KindInput, OnlyDigits: true}, "0123", "0123", false},
		{"only digits bad", Component{Kind: KindInput, OnlyDigits: true}, "12a", "", true},
		{"alpha ok", Component{Kind: KindInput, ValidationMode: ModeAlpha}, "abc", "abc", false},
		{"alpha bad", Component{Kind: KindInput, ValidationMode: ModeAlpha}, "ab1", "", true},
		{"alnum ok", Component{Kind: KindInput, ValidationMode: ModeAlnum}, "ab1", "ab1", false},
		{"alnum bad", Component{Kind: KindInput, ValidationMode: ModeAlnum}, "ab_1", "", true},
		{"phone ok", Component{Kind: KindInput, ValidationMode: ModePhone}, "13812345678", "13812345678", false},
		{"phone bad prefix", Component{Kind: KindInput, ValidationMode: ModePhone}, "12812345678", "", true},
		{"phone bad length", Component{Kind: KindInput, ValidationMode: ModePhone}, "1381234567", "", true},
		{"custom ok", Component{Kind: KindInput, ValidationMode: ModeCustomRegex, CustomRegex: `[A-Z]{2}\d{3}`}, "AB123", "AB123", false},
		{"custom partial rejected", Component{Kind: KindInput, ValidationMode: ModeCustomRegex, CustomRegex: `\d{3}`}, "x123y", "", true},
		{"custom empty skipped", Component{Kind: KindInput, ValidationMode: ModeCustomRegex}, "anything", "anything", false},
		{"min length", Component{Kind: KindInput, MinLength: 3}, "ab", "", true},
		{"max length", Component{Kind: KindInput, MaxLength: 3}, "abcd", "", true},
		{"case before digits", Component{Kind: KindInput, CaseMode: CaseUpper, OnlyDigits: true}, "12", "12", false},
		{"barcode passes through", Component{Kind: KindBarcodeScan, MaxLength: 4, CaseMode: CaseLower}, "AB-12345", "AB-12345", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.c.Label = "Field"
			got, err := ApplyRules(&tt.c, tt.in)
			if tt.wantErr != (err != nil) {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationErrorCarriesField(t *testing.T) {
	c := &Component{Kind: KindInput, Key: "phone", Label: "Phone", ValidationMode: ModePhone}
	_, err := ApplyRules(c, "nope")
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Key != "phone" || verr.Label != "Phone" {
		t.Fatalf("error missing field identity: %+v", verr)
	}
}

func TestFormatDateValue(t *testing.T) {
	tests := []struct {
		value, format, want string
	}{
		{"2024-03-07", DateMMDDYYYY, "03072024"},
		{"2024-03-07", DateDDMMYYYY, "07032024"},
		{"2024-03-07", DateYYYYMMDD, "20240307"},
		{"2024-03-07", "", "2024-03-07"},
		{"not-a-date", DateMMDDYYYY, "not-a-date"},
		{"", DateMMDDYYYY, ""},
	}
	for _, tt := range tests {
		if got := FormatDateValue(tt.value, tt.format); got != tt.want {
			t.Errorf("FormatDateValue(%q, %q) = %q, want %q", tt.value, tt.format, got, tt.want)
		}
	}
}

func TestComputeAgeFromDate(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		value, want string
	}{
		{"1990-06-15", "34"}, // birthday today
		{"1990-06-16", "33"}, // birthday tomorrow
		{"1990-06-14", "34"},
		{"2024-06-15", "0"},
		{"2030-01-01", "0"}, // future date clamps
		{"", "0"},
		{"garbage", "0"},
	}
	for _, tt := range tests {
		if got := ComputeAgeFromDate(now, tt.value); got != tt.want {
			t.Errorf("ComputeAgeFromDate(%q) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestEvaluateAgePolicy(t *testing.T) {
	min, max := 18, 65
	c := &Component{AgeMin: &min, AgeMax: &max}

	if r := EvaluateAgePolicy(c, 30); r != nil {
		t.Fatalf("age in range should pass, got %+v", r)
	}
	r := EvaluateAgePolicy(c, 10)
	if r == nil || r.Action != AgeActionBlock || r.Message != DefaultAgeMinMessage {
		t.Fatalf("below-min default: %+v", r)
	}
	r = EvaluateAgePolicy(c, 70)
	if r == nil || r.Message != DefaultAgeMaxMessage {
		t.Fatalf("above-max default: %+v", r)
	}

	c.AgeMinAction = AgeActionWarn
	c.AgeMinMessage = "too young"
	r = EvaluateAgePolicy(c, 10)
	if r == nil || r.Action != AgeActionWarn || r.Message != "too young" {
		t.Fatalf("custom min policy: %+v", r)
	}

	// Min is checked first even when both bounds are violated by a
	// degenerate configuration.
	lo, hi := 30, 20
	both := &Component{AgeMin: &lo, AgeMax: &hi}
	if r := EvaluateAgePolicy(both, 25); r == nil || r.Message != DefaultAgeMinMessage {
		t.Fatalf("min must win: %+v", r)
	}
}

func TestParseOptionsText(t *testing.T) {
	got := ParseOptionsText("a, b; c|d\ne，f；g,,a")
	want := []string{"a", "b", "c", "d", "e", "f", "g"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if out := ParseOptionsText("  "); out != nil {
		t.Fatalf("blank input should yield nothing, got %v", out)
	}
}

func TestValidKey(t *testing.T) {
	for _, ok := range []string{"a", "field_1", "Zx9"} {
		if !ValidKey(ok) {
			t.Errorf("ValidKey(%q) = false", ok)
		}
	}
	for _, bad := range []string{"", "1abc", "_x", "a-b", "a b", "名前"} {
		if ValidKey(bad) {
			t.Errorf("ValidKey(%q) = true", bad)
		}
	}
}
