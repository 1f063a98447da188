package redis

import (
	"testing"

	"exit-systemv1/internal/model"
)

func testWatchable() model.Watchable {
	return model.Watchable{
		Kind:       model.KindIndex,
		SecurityID: "13",
		Segment:    "IDX_I",
		Symbol:     "NIFTY",
	}
}

func TestDecodeStructureTailExtremes(t *testing.T) {
	doc, err := decodeStructure([]byte(`{
		"closes": ["101.5", "104", "99.25", "107.8", "103"],
		"coc": "DOWN",
		"coc_age": 3,
		"trend_score": "42.5",
		"atr_state": "EXPANDING"
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	// Last 3 closes: 99.25, 107.8, 103
	high, low, err := doc.tailExtremes(3)
	if err != nil {
		t.Fatalf("tailExtremes: %v", err)
	}
	if high.String() != "107.8" {
		t.Errorf("expected high 107.8, got %s", high)
	}
	if low.String() != "99.25" {
		t.Errorf("expected low 99.25, got %s", low)
	}
}

func TestTailExtremesWindowLargerThanHistory(t *testing.T) {
	doc := &structureDoc{Closes: []string{"100", "110"}}

	high, low, err := doc.tailExtremes(50)
	if err != nil {
		t.Fatalf("tailExtremes: %v", err)
	}
	if high.String() != "110" || low.String() != "100" {
		t.Errorf("expected 110/100 over full history, got %s/%s", high, low)
	}
}

func TestTailExtremesEmptyDoc(t *testing.T) {
	doc := &structureDoc{}
	if _, _, err := doc.tailExtremes(5); err != ErrStructureUnavailable {
		t.Errorf("expected ErrStructureUnavailable, got %v", err)
	}
}

func TestTailExtremesBadClose(t *testing.T) {
	doc := &structureDoc{Closes: []string{"100", "not-a-number"}}
	if _, _, err := doc.tailExtremes(2); err == nil {
		t.Error("expected parse error")
	}
}

func TestStructureKeyFormat(t *testing.T) {
	w := testWatchable()
	got := structureKey(w, 300)
	want := "ind:structure:300s:latest:IDX_I:13"
	if got != want {
		t.Errorf("expected key %q, got %q", want, got)
	}
}
