package gateway

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultDuration 为历史数据默认回溯区间。
	DefaultDuration = "1 D"
	// DefaultBarSize 为历史数据默认K线周期。
	DefaultBarSize = "1 min"
	maxBars        = 5000
)

var durationUnits = map[string]time.Duration{
	"S": time.Second,
	"D": 24 * time.Hour,
	"W": 7 * 24 * time.Hour,
	"M": 30 * 24 * time.Hour,
	"Y": 365 * 24 * time.Hour,
}

var barUnits = map[string]time.Duration{
	"sec":   time.Second,
	"secs":  time.Second,
	"min":   time.Minute,
	"mins":  time.Minute,
	"hour":  time.Hour,
	"hours": time.Hour,
	"day":   24 * time.Hour,
	"days":  24 * time.Hour,
	"week":  7 * 24 * time.Hour,
	"weeks": 7 * 24 * time.Hour,
}

// ParseDuration 解析 "1 D"、"2 W"、"3600 S" 形式的回溯区间。
func ParseDuration(raw string) (time.Duration, error) {
	n, unit, err := splitAmount(raw)
	if err != nil {
		return 0, fmt.Errorf("gateway: 无法解析回溯区间 %q: %w", raw, err)
	}
	base, ok := durationUnits[strings.ToUpper(unit)]
	if !ok {
		return 0, fmt.Errorf("gateway: 无法解析回溯区间 %q: 未知单位 %s", raw, unit)
	}
	return time.Duration(n) * base, nil
}

// ParseBarSize 解析 "1 min"、"5 mins"、"1 hour"、"1 day" 形式的K线周期。
func ParseBarSize(raw string) (time.Duration, error) {
	n, unit, err := splitAmount(raw)
	if err != nil {
		return 0, fmt.Errorf("gateway: 无法解析K线周期 %q: %w", raw, err)
	}
	base, ok := barUnits[strings.ToLower(unit)]
	if !ok {
		return 0, fmt.Errorf("gateway: 无法解析K线周期 %q: 未知单位 %s", raw, unit)
	}
	return time.Duration(n) * base, nil
}

// Timeframe 将K线周期转换为 "1m"、"1h"、"1d" 形式。
func Timeframe(barSize time.Duration) string {
	switch {
	case barSize >= 7*24*time.Hour && barSize%(7*24*time.Hour) == 0:
		return fmt.Sprintf("%dw", barSize/(7*24*time.Hour))
	case barSize >= 24*time.Hour && barSize%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", barSize/(24*time.Hour))
	case barSize >= time.Hour && barSize%time.Hour == 0:
		return fmt.Sprintf("%dh", barSize/time.Hour)
	case barSize >= time.Minute && barSize%time.Minute == 0:
		return fmt.Sprintf("%dm", barSize/time.Minute)
	default:
		return fmt.Sprintf("%ds", barSize/time.Second)
	}
}

// Resolve 展开请求中的区间与周期，并给出需要的K线根数。
func (r HistoricalRequest) Resolve() (time.Duration, time.Duration, int, error) {
	durationRaw := r.Duration
	if strings.TrimSpace(durationRaw) == "" {
		durationRaw = DefaultDuration
	}
	barRaw := r.BarSize
	if strings.TrimSpace(barRaw) == "" {
		barRaw = DefaultBarSize
	}

	lookback, err := ParseDuration(durationRaw)
	if err != nil {
		return 0, 0, 0, err
	}
	barSize, err := ParseBarSize(barRaw)
	if err != nil {
		return 0, 0, 0, err
	}
	if barSize > lookback {
		return 0, 0, 0, fmt.Errorf("gateway: K线周期 %s 大于回溯区间 %s", barRaw, durationRaw)
	}

	count := int(lookback / barSize)
	if count > maxBars {
		count = maxBars
	}
	return lookback, barSize, count, nil
}

func splitAmount(raw string) (int64, string, error) {
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return 0, "", fmt.Errorf("格式应为 \"<数量> <单位>\"")
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || n <= 0 {
		return 0, "", fmt.Errorf("数量必须为正整数")
	}
	return n, fields[1], nil
}
