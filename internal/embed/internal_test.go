package embed

import "testing"

func TestAdaptiveBatchSize_ClampsToBounds(t *testing.T) {
	cfg := Config{BatchMin: 4, BatchMax: 64, MemoryBudgetBytes: 8 << 20}

	longTexts := make([]string, 10)
	for i := range longTexts {
		longTexts[i] = string(make([]byte, 1<<20))
	}
	if got := adaptiveBatchSize(longTexts, cfg); got != cfg.BatchMin {
		t.Fatalf("long texts: got %d, want BatchMin %d", got, cfg.BatchMin)
	}

	shortTexts := make([]string, 10)
	for i := range shortTexts {
		shortTexts[i] = "hi"
	}
	if got := adaptiveBatchSize(shortTexts, cfg); got != cfg.BatchMax {
		t.Fatalf("short texts: got %d, want BatchMax %d", got, cfg.BatchMax)
	}

	if got := adaptiveBatchSize(nil, cfg); got != cfg.BatchMax {
		t.Fatalf("empty input: got %d, want BatchMax %d", got, cfg.BatchMax)
	}
}
