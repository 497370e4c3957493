package indicator

import (
	"errors"
	"fmt"
	"math"
	"sync"

	talib "github.com/markcheno/go-talib"

	"trades-cli/internal/gateway"
)

// ErrNoBars 表示输入K线为空。
var ErrNoBars = errors.New("indicator: 输入K线为空")

// MACDResult 保存 MACD 关键值。
type MACDResult struct {
	Value     float64
	Signal    float64
	Histogram float64
}

// BollingerResult 保存布林带数据。
type BollingerResult struct {
	Upper     float64
	Middle    float64
	Lower     float64
	Bandwidth float64
	Position  float64
}

// ATRResult 保存 ATR 指标。
type ATRResult struct {
	Absolute float64
	Relative float64
}

// VolumeResult 保存成交量相关统计。
type VolumeResult struct {
	Current   float64
	Average20 float64
	Ratio     float64
}

// Summary 为一段历史K线的指标摘要，数据不足的指标为 NaN。
type Summary struct {
	Timeframe     string
	Bars          int
	Close         float64
	PreviousClose float64
	ChangePct     float64
	High          float64
	Low           float64
	SMA20         float64
	EMA12         float64
	EMA26         float64
	RSI           float64
	MACD          MACDResult
	Bollinger     BollingerResult
	ATR           ATRResult
	Volume        VolumeResult
}

type cacheEntry struct {
	key    string
	result Summary
}

// Calculator 提供技术指标计算并带有简单缓存。
type Calculator struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewCalculator 创建 Calculator。
func NewCalculator() *Calculator {
	return &Calculator{
		cache: make(map[string]cacheEntry),
	}
}

// Compute 依据给定K线计算常用技术指标，symbol 与 timeframe 共同作为缓存键。
func (c *Calculator) Compute(symbol, timeframe string, bars []gateway.Bar) (Summary, error) {
	if len(bars) == 0 {
		return Summary{}, ErrNoBars
	}

	series := NewSeries(bars)
	slot := symbol + ":" + timeframe
	cacheKey := fmt.Sprintf("%d:%d:%v", series.Len(), series.Timestamps[series.Len()-1].Unix(), Last(series.Close))

	c.mu.Lock()
	if entry, ok := c.cache[slot]; ok && entry.key == cacheKey {
		c.mu.Unlock()
		return entry.result, nil
	}
	c.mu.Unlock()

	result := calculate(timeframe, series)

	c.mu.Lock()
	c.cache[slot] = cacheEntry{key: cacheKey, result: result}
	c.mu.Unlock()

	return result, nil
}

func calculate(timeframe string, series Series) Summary {
	closes := series.Close
	n := series.Len()

	lastClose := Last(closes)
	prevClose := Prev(closes)

	result := Summary{
		Timeframe:     timeframe,
		Bars:          n,
		Close:         lastClose,
		PreviousClose: prevClose,
		ChangePct:     math.NaN(),
		High:          maxOf(series.High),
		Low:           minOf(series.Low),
		SMA20:         math.NaN(),
		EMA12:         math.NaN(),
		EMA26:         math.NaN(),
		RSI:           math.NaN(),
		MACD:          MACDResult{Value: math.NaN(), Signal: math.NaN(), Histogram: math.NaN()},
		Bollinger:     BollingerResult{Upper: math.NaN(), Middle: math.NaN(), Lower: math.NaN()},
		ATR:           ATRResult{Absolute: math.NaN(), Relative: math.NaN()},
	}
	if n >= 2 {
		result.ChangePct = SafeDivide(lastClose-closes[0], closes[0]) * 100
	}

	// 样本不足回看长度的指标保持 NaN。
	if n >= 20 {
		result.SMA20 = Last(talib.Sma(closes, 20))
		upper, middle, lower := talib.BBands(closes, 20, 2, 2, talib.SMA)
		result.Bollinger = buildBollinger(closes, upper, middle, lower)
	}
	if n >= 12 {
		result.EMA12 = Last(talib.Ema(closes, 12))
	}
	if n >= 26 {
		result.EMA26 = Last(talib.Ema(closes, 26))
	}
	if n > 14 {
		result.RSI = Last(talib.Rsi(closes, 14))
		atr := Last(talib.Atr(series.High, series.Low, closes, 14))
		result.ATR = ATRResult{Absolute: atr, Relative: SafeDivide(atr, lastClose)}
	}
	if n >= 34 {
		macd, signal, hist := talib.Macd(closes, 12, 26, 9)
		result.MACD = MACDResult{Value: Last(macd), Signal: Last(signal), Histogram: Last(hist)}
	}

	volumeAvg20 := average(SliceTail(series.Volume, 20))
	volumeCurrent := Last(series.Volume)
	result.Volume = VolumeResult{Current: volumeCurrent, Average20: volumeAvg20, Ratio: SafeDivide(volumeCurrent, volumeAvg20)}

	return result
}

func buildBollinger(close, upper, middle, lower []float64) BollingerResult {
	u := Last(upper)
	m := Last(middle)
	l := Last(lower)
	histWidth := u - l
	bandwidth := SafeDivide(histWidth, m)

	position := 0.0
	if histWidth > 0 {
		position = SafeDivide(Last(close)-l, histWidth)
	}

	// 将位置限制在[0,1]区间，便于后续使用。
	position = math.Max(0, math.Min(1, position))

	return BollingerResult{
		Upper:     u,
		Middle:    m,
		Lower:     l,
		Bandwidth: bandwidth,
		Position:  position,
	}
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
