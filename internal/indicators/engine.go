package indicators

import "errors"

// Settings selects the periods the engine computes.
type Settings struct {
	ShortMA         int
	LongMA          int
	RSIPeriod       int
	BollingerPeriod int
	BollingerK      float64
	MACDFast        int
	MACDSlow        int
	MACDSignal      int
}

// DefaultSettings are the conventional periods.
func DefaultSettings() Settings {
	return Settings{
		ShortMA:         5,
		LongMA:          20,
		RSIPeriod:       14,
		BollingerPeriod: 20,
		BollingerK:      2,
		MACDFast:        12,
		MACDSlow:        26,
		MACDSignal:      9,
	}
}

// Snapshot is every indicator the engine could compute for one series.
// Names listed in Missing had too little data and carry no opinion.
type Snapshot struct {
	SMAShort float64    `json:"sma_short"`
	SMALong  float64    `json:"sma_long"`
	RSI      float64    `json:"rsi"`
	Bands    Bands      `json:"bollinger"`
	MACD     MACDResult `json:"macd"`
	Missing  []string   `json:"unavailable,omitempty"`
}

// Has reports whether the named indicator was computed.
func (s Snapshot) Has(name string) bool {
	for _, m := range s.Missing {
		if m == name {
			return false
		}
	}
	return true
}

// Engine calculates the core indicators with fixed settings.
type Engine struct {
	settings Settings
}

// NewEngine builds an indicator engine; zero periods take DefaultSettings values.
func NewEngine(settings Settings) *Engine {
	def := DefaultSettings()
	if settings.ShortMA <= 0 {
		settings.ShortMA = def.ShortMA
	}
	if settings.LongMA <= 0 {
		settings.LongMA = def.LongMA
	}
	if settings.RSIPeriod <= 0 {
		settings.RSIPeriod = def.RSIPeriod
	}
	if settings.BollingerPeriod <= 0 {
		settings.BollingerPeriod = def.BollingerPeriod
	}
	if settings.BollingerK <= 0 {
		settings.BollingerK = def.BollingerK
	}
	if settings.MACDFast <= 0 || settings.MACDSlow <= 0 || settings.MACDSignal <= 0 {
		settings.MACDFast, settings.MACDSlow, settings.MACDSignal = def.MACDFast, def.MACDSlow, def.MACDSignal
	}
	return &Engine{settings: settings}
}

// MinHistory is the series length at which no indicator is missing.
func (e *Engine) MinHistory() int {
	n := e.settings.MACDSlow + e.settings.MACDSignal
	for _, p := range []int{e.settings.LongMA, e.settings.RSIPeriod + 1, e.settings.BollingerPeriod} {
		if p > n {
			n = p
		}
	}
	return n
}

// Snapshot computes every configured indicator over values.
// Only errors other than ErrInsufficientData are returned.
func (e *Engine) Snapshot(values []float64) (Snapshot, error) {
	var snap Snapshot
	s := e.settings

	note := func(name string, err error) error {
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInsufficientData) {
			snap.Missing = append(snap.Missing, name)
			return nil
		}
		return err
	}

	var err error
	if snap.SMAShort, err = LastSMA(values, s.ShortMA); note("sma_short", err) != nil {
		return snap, err
	}
	if snap.SMALong, err = LastSMA(values, s.LongMA); note("sma_long", err) != nil {
		return snap, err
	}
	if snap.RSI, err = RSI(values, s.RSIPeriod); note("rsi", err) != nil {
		return snap, err
	}
	if snap.Bands, err = Bollinger(values, s.BollingerPeriod, s.BollingerK); note("bollinger", err) != nil {
		return snap, err
	}
	if snap.MACD, err = MACD(values, s.MACDFast, s.MACDSlow, s.MACDSignal); note("macd", err) != nil {
		return snap, err
	}
	return snap, nil
}
