package remote

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTestGroupDecodeIsLenient(t *testing.T) {
	tests := []struct {
		raw  string
		want TestGroup
	}{
		{`"baseline"`, TestGroupBaseline},
		{`"monetai"`, TestGroupMonetai},
		{`"unknown"`, TestGroupUnknown},
		{`"control-b"`, TestGroupUnknown},
		{`1`, TestGroupMonetai},
		{`42`, TestGroupUnknown},
		{`true`, TestGroupUnknown},
	}

	for _, tt := range tests {
		var g TestGroup
		if err := json.Unmarshal([]byte(tt.raw), &g); err != nil {
			t.Errorf("%s: unexpected error %v", tt.raw, err)
			continue
		}
		if g != tt.want {
			t.Errorf("%s: got %v, want %v", tt.raw, g, tt.want)
		}
	}
}

func TestPredictionDecodeIsStrict(t *testing.T) {
	valid := map[string]Prediction{
		`"non-purchaser"`: PredictionNonPurchaser,
		`"purchaser"`:     PredictionPurchaser,
		`0`:               PredictionNonPurchaser,
		`1`:               PredictionPurchaser,
	}
	for raw, want := range valid {
		var p Prediction
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			t.Errorf("%s: unexpected error %v", raw, err)
			continue
		}
		if p != want {
			t.Errorf("%s: got %v, want %v", raw, p, want)
		}
	}

	for _, raw := range []string{`"nonpurchaser"`, `2`, `{}`} {
		var p Prediction
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			t.Errorf("%s: expected decode error", raw)
		}
	}
}

func TestEnumsRoundTripAsWireStrings(t *testing.T) {
	data, _ := json.Marshal(PredictResponse{
		Prediction: ptr(PredictionNonPurchaser),
		TestGroup:  ptr(TestGroupBaseline),
	})
	if string(data) != `{"prediction":"non-purchaser","testGroup":"baseline"}` {
		t.Fatalf("encoded = %s", data)
	}

	var back PredictResponse
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *back.Prediction != PredictionNonPurchaser || *back.TestGroup != TestGroupBaseline {
		t.Errorf("round trip = %v %v", *back.Prediction, *back.TestGroup)
	}
}

func TestNullPredictionDecodesToNil(t *testing.T) {
	var resp PredictResponse
	if err := json.Unmarshal([]byte(`{"prediction":null,"testGroup":null}`), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Prediction != nil || resp.TestGroup != nil {
		t.Errorf("expected nil fields, got %+v", resp)
	}
}

func TestTimestampAcceptsWholeSeconds(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`"2025-05-01T10:00:00Z"`), &ts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ts.Equal(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("got %v", ts.Time)
	}
	if FormatTimestamp(ts.Time) != "2025-05-01T10:00:00.000Z" {
		t.Errorf("format = %s", FormatTimestamp(ts.Time))
	}
}

func TestDiscountActiveBoundary(t *testing.T) {
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	d := &Discount{
		StartedAt: Timestamp{start},
		EndedAt:   Timestamp{start.Add(3600 * time.Second)},
		AppUserID: "u1",
	}

	if !d.ActiveAt(start) {
		t.Error("should be active at start")
	}
	if !d.ActiveAt(d.EndedAt.Add(-time.Millisecond)) {
		t.Error("should be active just before end")
	}
	if d.ActiveAt(d.EndedAt.Time) {
		t.Error("should be inactive exactly at end")
	}

	var none *Discount
	if none.ActiveAt(start) {
		t.Error("nil discount is never active")
	}
}

func ptr[T any](v T) *T {
	return &v
}
