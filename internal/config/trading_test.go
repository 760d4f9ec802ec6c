package config

import (
	"path/filepath"
	"testing"
)

func validDocument() *TradingDocument {
	return &TradingDocument{
		Trading: TradingSection{
			InitialCapital:         200000,
			MinConfidence:          0.6,
			TradingIntervalMinutes: 5,
			Symbols:                []string{"BTC/JPY"},
		},
		RiskManagement: RiskManagementSection{
			StopLossPct:          10,
			TakeProfitFirst:      15,
			TakeProfitSecond:     25,
			MaxPositionSize:      0.5,
			MaxDrawdownPct:       20,
			MaxDailyLossPct:      5,
			MaxWeeklyLossPct:     15,
			MaxMonthlyLossPct:    30,
			ConsecutiveLossLimit: 5,
			MaxPositions:         5,
		},
		StrategyAllocation: StrategyAllocationSection{
			TrendRatio:         0.7,
			CointegrationRatio: 0.3,
		},
	}
}

func TestTradingDocumentValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TradingDocument)
		wantErr bool
	}{
		{"valid", func(d *TradingDocument) {}, false},
		{"zero capital", func(d *TradingDocument) { d.Trading.InitialCapital = 0 }, true},
		{"confidence out of range", func(d *TradingDocument) { d.Trading.MinConfidence = 1.5 }, true},
		{"zero interval", func(d *TradingDocument) { d.Trading.TradingIntervalMinutes = 0 }, true},
		{"no symbols", func(d *TradingDocument) { d.Trading.Symbols = nil }, true},
		{"bad symbol", func(d *TradingDocument) { d.Trading.Symbols = []string{"BTCJPY"} }, true},
		{"zero allocation", func(d *TradingDocument) {
			d.StrategyAllocation.TrendRatio = 0
			d.StrategyAllocation.CointegrationRatio = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := validDocument()
			tt.mutate(doc)
			err := doc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTradingDocumentClampAll(t *testing.T) {
	doc := validDocument()
	doc.RiskManagement.StopLossPct = 500
	doc.RiskManagement.MaxPositionSize = 0
	doc.RiskManagement.ConsecutiveLossLimit = 0
	doc.RiskManagement.MaxPositions = 99

	doc.clampAll()

	if doc.RiskManagement.StopLossPct != 50 {
		t.Errorf("StopLossPct = %v, want 50", doc.RiskManagement.StopLossPct)
	}
	if doc.RiskManagement.MaxPositionSize != 0.1 {
		t.Errorf("MaxPositionSize = %v, want 0.1", doc.RiskManagement.MaxPositionSize)
	}
	if doc.RiskManagement.ConsecutiveLossLimit != 1 {
		t.Errorf("ConsecutiveLossLimit = %v, want 1", doc.RiskManagement.ConsecutiveLossLimit)
	}
	if doc.RiskManagement.MaxPositions != 10 {
		t.Errorf("MaxPositions = %v, want 10", doc.RiskManagement.MaxPositions)
	}
}

func TestTradingDocumentSetStopLossRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trading.yaml")

	doc := validDocument()
	doc.Path = path
	if err := doc.save(); err != nil {
		t.Fatalf("save() error: %v", err)
	}

	if err := doc.SetStopLoss(18.5); err != nil {
		t.Fatalf("SetStopLoss() error: %v", err)
	}
	if doc.RiskManagement.StopLossPct != 18.5 {
		t.Errorf("StopLossPct = %v, want 18.5", doc.RiskManagement.StopLossPct)
	}

	reloaded, err := LoadTradingDocument(path)
	if err != nil {
		t.Fatalf("LoadTradingDocument() error: %v", err)
	}
	if reloaded.RiskManagement.StopLossPct != 18.5 {
		t.Errorf("reloaded StopLossPct = %v, want 18.5", reloaded.RiskManagement.StopLossPct)
	}

	matches, _ := filepath.Glob(path + ".bak.*")
	if len(matches) != 1 {
		t.Errorf("expected exactly one backup file, found %d", len(matches))
	}
}

func TestTradingDocumentSetStopLossValidation(t *testing.T) {
	doc := validDocument()
	doc.Path = filepath.Join(t.TempDir(), "trading.yaml")
	if err := doc.save(); err != nil {
		t.Fatalf("save() error: %v", err)
	}

	if err := doc.SetStopLoss(0.5); err == nil {
		t.Error("expected error for stop loss below 1.0")
	}
	if err := doc.SetStopLoss(31); err == nil {
		t.Error("expected error for stop loss above 30.0")
	}
}

func TestLoadTradingDocumentMissingFile(t *testing.T) {
	if _, err := LoadTradingDocument(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
