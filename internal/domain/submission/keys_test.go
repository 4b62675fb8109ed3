package submission

import "testing"

func TestNormalizeKeyValue(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  string
	}{
		{"nil", nil, ""},
		{"plain string", "  A123  ", "A123"},
		{"number", float64(42), "42"},
		{"map prefers text", map[string]interface{}{"text": "shown", "value": "v1"}, "shown"},
		{"map skips empty text", map[string]interface{}{"text": "  ", "value": "v1"}, "v1"},
		{"map code fallback", map[string]interface{}{"code": "C9"}, "C9"},
		{"map numeric value", map[string]interface{}{"value": float64(7)}, "7"},
		{"map without preferred keys", map[string]interface{}{"other": "x"}, ""},
		{"list joins", []interface{}{"a", " b ", ""}, "a,b"},
		{"string list joins", []string{"x", "", "y"}, "x,y"},
		{"empty list", []interface{}{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeKeyValue(tt.value); got != tt.want {
				t.Errorf("NormalizeKeyValue(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestDeriveKey(t *testing.T) {
	answers := map[string]interface{}{
		"phone": " 13800000000 ",
		"name":  map[string]interface{}{"text": "Zhang"},
	}
	if got := DeriveKey(answers, "phone"); got != "13800000000" {
		t.Errorf("DeriveKey(phone) = %q", got)
	}
	if got := DeriveKey(answers, "name"); got != "Zhang" {
		t.Errorf("DeriveKey(name) = %q", got)
	}
	if got := DeriveKey(answers, "missing"); got != "" {
		t.Errorf("DeriveKey(missing) = %q, want empty", got)
	}
	if got := DeriveKey(answers, ""); got != "" {
		t.Errorf("DeriveKey with empty key = %q, want empty", got)
	}
}
