package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"trades-cli/internal/gateway"
)

// BarRecord 为K线的 Parquet 存储格式。
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"`
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// BarArchive 将历史K线按 <dir>/<SYMBOL>/<timeframe>/<YYYY-MM-DD>.parquet 归档。
type BarArchive struct {
	dir string
}

// NewBarArchive 创建K线归档。
func NewBarArchive(dir string) *BarArchive {
	return &BarArchive{dir: dir}
}

// WriteBars 按最后一根K线的日期写入文件，与已有记录按时间戳合并去重，返回文件路径。
func (a *BarArchive) WriteBars(symbol, timeframe string, bars []gateway.Bar) (string, error) {
	if len(bars) == 0 {
		return "", errors.New("store: 没有可归档的K线")
	}
	symbol = strings.ToUpper(symbol)

	last := bars[0].Time
	for _, bar := range bars[1:] {
		if bar.Time.After(last) {
			last = bar.Time
		}
	}
	path := a.path(symbol, timeframe, last)

	existing, err := readBarRecords(path)
	if err != nil {
		return "", err
	}
	incoming := make([]BarRecord, 0, len(bars))
	for _, bar := range bars {
		incoming = append(incoming, BarRecord{
			Symbol:    symbol,
			Timestamp: bar.Time.UnixMilli(),
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    bar.Volume,
		})
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("store: 创建目录失败: %w", err)
	}
	if err := parquet.WriteFile(path, mergeBarRecords(existing, incoming)); err != nil {
		return "", fmt.Errorf("store: 写入K线文件 %s 失败: %w", path, err)
	}
	return path, nil
}

// ReadBars 读取指定日期的归档K线，文件不存在时返回空切片。
func (a *BarArchive) ReadBars(symbol, timeframe string, day time.Time) ([]gateway.Bar, error) {
	records, err := readBarRecords(a.path(strings.ToUpper(symbol), timeframe, day))
	if err != nil {
		return nil, err
	}
	bars := make([]gateway.Bar, 0, len(records))
	for _, r := range records {
		bars = append(bars, gateway.Bar{
			Time:   time.UnixMilli(r.Timestamp).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	return bars, nil
}

func (a *BarArchive) path(symbol, timeframe string, t time.Time) string {
	return filepath.Join(a.dir, symbol, timeframe, t.UTC().Format("2006-01-02")+".parquet")
}

func readBarRecords(path string) ([]BarRecord, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	records, err := parquet.ReadFile[BarRecord](path)
	if err != nil {
		return nil, fmt.Errorf("store: 读取K线文件 %s 失败: %w", path, err)
	}
	return records, nil
}

// mergeBarRecords 按时间戳去重，新记录优先，结果按时间升序。
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	return merged
}
