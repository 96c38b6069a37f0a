package news

import "testing"

func TestExtractSymbolsAndAliases(t *testing.T) {
	tg := NewTagger()

	matches, _ := tg.Extract("Apple beats estimates while AAPL rallies and Bitcoin holds steady")
	bySym := map[string]float64{}
	for _, m := range matches {
		bySym[m.Symbol] = m.Confidence
	}
	// AAPL matched both literally and through the alias: the literal
	// match's confidence wins.
	if bySym["AAPL"] != symbolConfidence {
		t.Errorf("AAPL confidence = %v", bySym["AAPL"])
	}
	if bySym["BTC"] != aliasConfidence {
		t.Errorf("BTC confidence = %v", bySym["BTC"])
	}
}

func TestExtractIsCaseInsensitiveForAliases(t *testing.T) {
	tg := NewTagger()
	matches, _ := tg.Extract("TESLA and tesla and Tesla")
	if len(matches) != 1 || matches[0].Symbol != "TSLA" {
		t.Errorf("matches = %+v", matches)
	}
}

func TestExtractTurkishAliases(t *testing.T) {
	tg := NewTagger()
	matches, tags := tg.Extract("Türk Hava Yolları bilanço açıkladı, temettü bekleniyor")
	bySym := map[string]bool{}
	for _, m := range matches {
		bySym[m.Symbol] = true
	}
	if !bySym["THYAO"] {
		t.Errorf("THYAO not extracted: %+v", matches)
	}
	byTag := map[string]bool{}
	for _, tag := range tags {
		byTag[tag] = true
	}
	if !byTag["earnings"] || !byTag["dividend"] {
		t.Errorf("tags = %v", tags)
	}
}

func TestExtractNoPartialWordMatches(t *testing.T) {
	tg := NewTagger()
	// "pineapple" must not match the apple alias, "METAL" must not match META.
	matches, _ := tg.Extract("pineapple METAL futures")
	if len(matches) != 0 {
		t.Errorf("unexpected matches %+v", matches)
	}
}

func TestExtractSymbolFilter(t *testing.T) {
	tg := NewTagger()
	tg.SetSymbolFilter([]string{"AAPL"})

	matches, _ := tg.Extract("AAPL and TSLA both moved")
	if len(matches) != 1 || matches[0].Symbol != "AAPL" {
		t.Errorf("filter leak: %+v", matches)
	}

	tg.SetSymbolFilter(nil)
	matches, _ = tg.Extract("AAPL and TSLA both moved")
	if len(matches) != 2 {
		t.Errorf("cleared filter should accept all, got %+v", matches)
	}
}

func TestExtractDeterministicOrder(t *testing.T) {
	tg := NewTagger()
	text := "TSLA AAPL MSFT earnings inflation"
	m1, t1 := tg.Extract(text)
	m2, t2 := tg.Extract(text)
	if len(m1) != 3 || len(m1) != len(m2) {
		t.Fatalf("matches = %+v", m1)
	}
	for i := range m1 {
		if m1[i] != m2[i] {
			t.Errorf("order not deterministic: %+v vs %+v", m1, m2)
		}
	}
	if len(t1) != len(t2) {
		t.Errorf("tags differ: %v vs %v", t1, t2)
	}
}

func TestExtractEmptyText(t *testing.T) {
	tg := NewTagger()
	matches, tags := tg.Extract("   ")
	if matches != nil || tags != nil {
		t.Errorf("blank text should extract nothing, got %+v %v", matches, tags)
	}
}
