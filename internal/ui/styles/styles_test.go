package styles

import "testing"

func TestGetQuotaStyle(t *testing.T) {
	tests := []struct {
		percent   float64
		exhausted bool
		want      string
	}{
		{80, false, "high"},
		{35, false, "medium"},
		{10, false, "low"},
		{0, true, "exhausted"},
	}
	byName := map[string]any{
		"high":      QuotaHighStyle.GetForeground(),
		"medium":    QuotaMediumStyle.GetForeground(),
		"low":       QuotaLowStyle.GetForeground(),
		"exhausted": QuotaExhaustedStyle.GetForeground(),
	}
	for _, tt := range tests {
		got := GetQuotaStyle(tt.percent, tt.exhausted)
		if got.GetForeground() != byName[tt.want] {
			t.Errorf("GetQuotaStyle(%v, %v) is not the %s style", tt.percent, tt.exhausted, tt.want)
		}
		if tt.exhausted && !got.GetItalic() {
			t.Error("exhausted style should be italic")
		}
	}
}

func TestFamilyColor(t *testing.T) {
	if FamilyColor("claude") != Claude || FamilyColor("codex") != Codex {
		t.Error("family colors mismatch")
	}
	if FamilyColor("vertex") != Primary {
		t.Error("unknown families should use the primary color")
	}
}
