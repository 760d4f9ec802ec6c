package config

import (
	"fmt"
	"os"
	"time"

	"tradecore/internal/xerrors"
	"tradecore/pkg/utils"
)

// TradingDocument is the single YAML document recognized by the bot
// (§6 Configuration). Path is retained so SetStopLoss can rewrite the
// file it was loaded from, with a timestamped backup first.
type TradingDocument struct {
	Path string `yaml:"-"`

	Trading            TradingSection            `yaml:"trading"`
	RiskManagement     RiskManagementSection      `yaml:"risk_management"`
	PairTrading        PairTradingSection         `yaml:"pair_trading"`
	StrategyAllocation StrategyAllocationSection  `yaml:"strategy_allocation"`
	Reporting          ReportingSection           `yaml:"reporting"`
}

type TradingSection struct {
	InitialCapital         float64  `yaml:"initial_capital"`
	MinConfidence          float64  `yaml:"min_confidence"`
	TradingIntervalMinutes int      `yaml:"trading_interval_minutes"`
	Symbols                []string `yaml:"symbols"`
}

type RiskManagementSection struct {
	StopLossPct          float64 `yaml:"stop_loss_pct"`
	TakeProfitFirst      float64 `yaml:"take_profit_first"`
	TakeProfitSecond     float64 `yaml:"take_profit_second"`
	MaxPositionSize      float64 `yaml:"max_position_size"`
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"`
	MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct"`
	MaxWeeklyLossPct     float64 `yaml:"max_weekly_loss_pct"`
	MaxMonthlyLossPct    float64 `yaml:"max_monthly_loss_pct"`
	ConsecutiveLossLimit int     `yaml:"consecutive_loss_limit"`
	MaxPositions         int     `yaml:"max_positions"`
}

type PairTradingSection struct {
	ZScoreEntry     float64 `yaml:"z_score_entry"`
	ZScoreExit      float64 `yaml:"z_score_exit"`
	ZScoreStopLoss  float64 `yaml:"z_score_stop_loss"`
	MaxPairs        int     `yaml:"max_pairs"`
	PositionSizePct float64 `yaml:"position_size_pct"`
	LookbackPeriod  int     `yaml:"lookback_period"`
}

type StrategyAllocationSection struct {
	TrendRatio         float64 `yaml:"trend_ratio"`
	CointegrationRatio float64 `yaml:"cointegration_ratio"`
}

type ReportingSection struct {
	MorningReportTime string `yaml:"morning_report_time"`
	NoonReportTime    string `yaml:"noon_report_time"`
	EveningReportTime string `yaml:"evening_report_time"`
	WeeklyDay         string `yaml:"weekly_day"`
	WeeklyTime        string `yaml:"weekly_time"`
	MonthlyDay        int    `yaml:"monthly_day"`
	MonthlyTime       string `yaml:"monthly_time"`
}

// LoadTradingDocument reads and parses the trading YAML document at path.
func LoadTradingDocument(path string) (*TradingDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.NewConfigInvalid("trading_config", "cannot read "+path+": "+err.Error())
	}
	var doc TradingDocument
	if err := yamlUnmarshal(data, &doc); err != nil {
		return nil, xerrors.NewConfigInvalid("trading_config", "cannot parse "+path+": "+err.Error())
	}
	doc.Path = path
	return &doc, nil
}

// Validate runs the strict startup check: required keys must be present
// and sane, independent of clamping. Startup refuses to start on failure.
func (d *TradingDocument) Validate() error {
	if d.Trading.InitialCapital <= 0 {
		return xerrors.NewConfigInvalid("trading.initial_capital", "must be > 0")
	}
	if err := utils.ValidateConfidence(d.Trading.MinConfidence); err != nil {
		return xerrors.NewConfigInvalid("trading.min_confidence", err.Error())
	}
	if d.Trading.TradingIntervalMinutes <= 0 {
		return xerrors.NewConfigInvalid("trading.trading_interval_minutes", "must be > 0")
	}
	if len(d.Trading.Symbols) == 0 {
		return xerrors.NewConfigInvalid("trading.symbols", "must list at least one symbol")
	}
	for _, s := range d.Trading.Symbols {
		if err := utils.ValidateSymbol(s); err != nil {
			return xerrors.NewConfigInvalid("trading.symbols", err.Error())
		}
	}
	total := d.StrategyAllocation.TrendRatio + d.StrategyAllocation.CointegrationRatio
	if total <= 0 {
		return xerrors.NewConfigInvalid("strategy_allocation", "trend_ratio + cointegration_ratio must be > 0")
	}
	return nil
}

// clampAll forces every range-bound option into its documented range,
// logging a warning for each value that was out of range. Out-of-range
// values are clamped silently from the operator's perspective, only a
// warning log records it (§6 Configuration).
func (d *TradingDocument) clampAll() {
	rm := &d.RiskManagement
	clampField(&rm.StopLossPct, 1, 50, "risk_management.stop_loss_pct")
	clampField(&rm.TakeProfitFirst, 1, 200, "risk_management.take_profit_first")
	clampField(&rm.TakeProfitSecond, 1, 200, "risk_management.take_profit_second")
	clampField(&rm.MaxPositionSize, 0.1, 0.95, "risk_management.max_position_size")
	clampField(&rm.MaxDrawdownPct, 5, 50, "risk_management.max_drawdown_pct")
	clampField(&rm.MaxDailyLossPct, 0.1, 50, "risk_management.max_daily_loss_pct")
	clampField(&rm.MaxWeeklyLossPct, 0.1, 50, "risk_management.max_weekly_loss_pct")
	clampField(&rm.MaxMonthlyLossPct, 0.1, 50, "risk_management.max_monthly_loss_pct")

	consecutive := float64(rm.ConsecutiveLossLimit)
	clampField(&consecutive, 1, 20, "risk_management.consecutive_loss_limit")
	rm.ConsecutiveLossLimit = int(consecutive)

	maxPositions := float64(rm.MaxPositions)
	clampField(&maxPositions, 1, 10, "risk_management.max_positions")
	rm.MaxPositions = int(maxPositions)
}

func clampField(v *float64, min, max float64, field string) {
	clamped, wasClamped := utils.ClampWithFlag(*v, min, max)
	if wasClamped {
		utils.Warn("config value out of range, clamped",
			utils.String("field", field),
			utils.Float64("value", *v),
			utils.Float64("clamped_to", clamped))
	}
	*v = clamped
}

// save writes the document back to Path as YAML.
func (d *TradingDocument) save() error {
	data, err := yamlMarshal(d)
	if err != nil {
		return xerrors.NewConfigInvalid("trading_config", "marshal failed: "+err.Error())
	}
	if err := os.WriteFile(d.Path, data, 0o644); err != nil {
		return xerrors.NewConfigInvalid("trading_config", "write failed: "+err.Error())
	}
	return nil
}

// backup copies the current on-disk document to Path.bak.<timestamp>
// before any in-place rewrite, per the bot command interface's
// set_stop_loss contract ("writes back config with timestamped backup").
func (d *TradingDocument) backup() error {
	data, err := os.ReadFile(d.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.NewConfigInvalid("trading_config", "backup read failed: "+err.Error())
	}
	backupPath := fmt.Sprintf("%s.bak.%s", d.Path, time.Now().Format("20060102150405"))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return xerrors.NewConfigInvalid("trading_config", "backup write failed: "+err.Error())
	}
	return nil
}

// SetStopLoss validates pct against the command's documented bounds,
// backs up the current file, updates the in-memory document and persists
// it. The caller is responsible for pushing the new value into the live
// Risk Controller (internal/risk).
func (d *TradingDocument) SetStopLoss(pct float64) error {
	if pct < 1.0 || pct > 30.0 {
		return xerrors.NewConfigInvalid("stop_loss_pct", fmt.Sprintf("must be in [1.0,30.0], got %v", pct))
	}
	if err := d.backup(); err != nil {
		return err
	}
	d.RiskManagement.StopLossPct = pct
	return d.save()
}
