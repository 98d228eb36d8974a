package ldx

import "testing"

func TestParseParameterName(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		id    string
		field string
	}{
		{name: "ldx_details_Fastest_Time", kind: KindDetails, id: "Fastest_Time"},
		{name: "ldx_math_Wheel_Speed_scale", kind: KindMathScale, id: "Wheel_Speed", field: FieldScale},
		{name: "ldx_math_Wheel_Speed_offset", kind: KindMathOffset, id: "Wheel_Speed", field: FieldOffset},
		{name: "ldx_math_Wheel_Speed_Scale", kind: KindMathScale, id: "Wheel_Speed", field: FieldScale},
		{name: "ldx_desc_Engine_RPM_dps", kind: KindDescriptorDPS, id: "Engine_RPM", field: FieldDPS},
		{name: "ldx_desc_Engine_RPM_unit", kind: KindDescriptorUnit, id: "Engine_RPM", field: FieldUnit},
		{name: "ldx_math_scale", kind: KindGeneric, id: "ldx_math_scale"},
		{name: "ldx_math_Wheel_Speed_gain", kind: KindGeneric, id: "ldx_math_Wheel_Speed_gain"},
		{name: "ldx_details_", kind: KindGeneric, id: "ldx_details_"},
		{name: "brake_bias", kind: KindGeneric, id: "brake_bias"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseParameterName(tc.name)
			if got.Kind != tc.kind || got.ID != tc.id || got.Field != tc.field {
				t.Fatalf("ParseParameterName(%q) = %+v, want kind=%s id=%s field=%s", tc.name, got, tc.kind, tc.id, tc.field)
			}
		})
	}
}

func TestParameterNameEncoding(t *testing.T) {
	if got := DetailsParameterName("Fastest Time"); got != "ldx_details_Fastest_Time" {
		t.Fatalf("DetailsParameterName = %q", got)
	}
	if got := DetailsParameterName("Lap/Sector"); got != "ldx_details_Lap_Sector" {
		t.Fatalf("DetailsParameterName = %q", got)
	}
	if got := MathParameterName("Wheel Speed", FieldOffset); got != "ldx_math_Wheel_Speed_offset" {
		t.Fatalf("MathParameterName = %q", got)
	}
	if got := DescriptorParameterName("Engine RPM"); got != "ldx_desc_Engine_RPM_dps" {
		t.Fatalf("DescriptorParameterName = %q", got)
	}
}

func TestBothForms(t *testing.T) {
	forms := BothForms("Fastest_Time")
	if forms.Underscored != "Fastest_Time" || forms.Spaced != "Fastest Time" {
		t.Fatalf("BothForms = %+v", forms)
	}
	if !forms.Match("Fastest Time") || !forms.Match("Fastest_Time") || forms.Match("FastestTime") {
		t.Fatalf("Match misbehaves for %+v", forms)
	}
	if got := BothForms("Track").Candidates(); len(got) != 1 {
		t.Fatalf("Candidates = %v, want single form", got)
	}
	if got := BothForms("Fastest Time").Candidates(); len(got) != 2 || got[0] != "Fastest_Time" {
		t.Fatalf("Candidates = %v", got)
	}
}

func TestMatchEncoded(t *testing.T) {
	forms := BothForms(ParseParameterName(DetailsParameterName("Wing F/R")).ID)
	if forms.Match("Wing F/R") {
		t.Fatalf("exact match should not see through the slash")
	}
	if !forms.MatchEncoded("Wing F/R") || !forms.MatchEncoded("Wing_F/R") {
		t.Fatalf("MatchEncoded misses ids encoding to %q", forms.Underscored)
	}
	if forms.MatchEncoded("Wing FR") {
		t.Fatalf("MatchEncoded(%q) = true", "Wing FR")
	}
}

func TestTitleCase(t *testing.T) {
	tests := map[string]string{
		"brake_bias":       "Brake Bias",
		"tire_pressure_fl": "Tire Pressure Fl",
		"RIDE_HEIGHT":      "Ride Height",
		"":                 "",
	}
	for in, want := range tests {
		if got := TitleCase(in); got != want {
			t.Fatalf("TitleCase(%q) = %q, want %q", in, got, want)
		}
	}
}
