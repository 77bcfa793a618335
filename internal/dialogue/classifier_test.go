package dialogue

import "testing"

func TestKeywordClassifier(t *testing.T) {
	k, err := NewKeywordClassifier([]string{`\bsiir\b`})
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	for _, in := range []string{"Selam", "iyi akşamlar :)", "What's up?", "HI", "bir şiir yaz", "Merhaba, nasılsın?", "selam bot", "hey there!"} {
		if !k.IsOutOfPolicy(in) {
			t.Fatalf("%q should be casual", in)
		}
	}
	for _, in := range []string{
		"son 30 gün", "ACME A.Ş.", "Hisar Gıda", "İstanbul", "2025-05-01 2025-05-31", "",
		"Selam Gıda A.Ş.", "Merhaba Turizm Ltd", "Hey Tekstil", "HI Teknoloji", "Bot Otomotiv",
	} {
		if k.IsOutOfPolicy(in) {
			t.Fatalf("%q should not be casual", in)
		}
	}
	if _, err := NewKeywordClassifier([]string{"("}); err == nil {
		t.Fatalf("expected error for bad pattern")
	}
}

func TestTokenSetFoldsInput(t *testing.T) {
	set := newTokenSet([]string{"sıfırla", "geç"})
	for _, in := range []string{"SIFIRLA", "sifirla", " Sıfırla. ", "gec", "GEÇ"} {
		if !set.has(in) {
			t.Fatalf("%q should match", in)
		}
	}
	if set.has("sıfırla lütfen") {
		t.Fatalf("tokens match whole inputs only")
	}
}
