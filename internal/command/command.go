// Package command 解析并分发交互式交易命令。
package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"trades-cli/internal/order"
)

var (
	// ErrEmpty 表示空行。
	ErrEmpty = errors.New("command: 空命令")
	// ErrUnknownCommand 表示无法识别的命令。
	ErrUnknownCommand = errors.New("command: 未知命令")
)

const (
	CmdFetchBalance     = "fetch_balance"
	CmdIsMarketOpen     = "is_market_open"
	CmdFetchPositions   = "fetch_positions"
	CmdGetPrice         = "get_price"
	CmdFetchHistorical  = "fetch_historical"
	CmdBidAskSpread     = "bid_ask_spread"
	CmdPlaceMarketOrder = "place_market_order"
	CmdPlaceLimitOrder  = "place_limit_order"
	CmdPlaceBatchOrders = "place_batch_orders"
	CmdChangeLimitPrice = "change_limit_price"
	CmdGetOrderStatus   = "get_order_status"
	CmdCancelOrder      = "cancel_order"
	CmdSetStopLoss      = "set_stop_loss"
	CmdCalculatePosSize = "calculate_pos_size"
	CmdTestOrder        = "test_order"
	CmdOpenOrders       = "open_orders"
	CmdOrders           = "orders"
	CmdHelp             = "help"
	CmdExit             = "exit"
)

type definition struct {
	name    string
	aliases []string
	usage   string
	summary string
	minArgs int
	maxArgs int // -1 为不限
}

var definitions = []definition{
	{name: CmdFetchBalance, aliases: []string{"balance"}, usage: "fetch_balance [currency]", summary: "查询账户现金余额", maxArgs: 1},
	{name: CmdIsMarketOpen, usage: "is_market_open <symbol>", summary: "查询标的交易时段与开盘状态", minArgs: 1, maxArgs: 1},
	{name: CmdFetchPositions, aliases: []string{"positions"}, usage: "fetch_positions", summary: "查询当前持仓"},
	{name: CmdGetPrice, aliases: []string{"quote"}, usage: "get_price <symbol>", summary: "查询实时价格 (例: get_price AAPL)", minArgs: 1, maxArgs: 1},
	{name: CmdFetchHistorical, aliases: []string{"historical"}, usage: "fetch_historical <symbol> [duration] [bar_size]", summary: "查询历史K线 (例: fetch_historical AAPL 1D 5min)", minArgs: 1, maxArgs: 5},
	{name: CmdBidAskSpread, aliases: []string{"spread"}, usage: "bid_ask_spread <symbol>", summary: "查询买卖价差 (例: bid_ask_spread AAPL)", minArgs: 1, maxArgs: 1},
	{name: CmdPlaceMarketOrder, usage: "place_market_order <symbol> <quantity> <side>", summary: "市价下单 (例: place_market_order AAPL 10 BUY)", minArgs: 3, maxArgs: 3},
	{name: CmdPlaceLimitOrder, usage: "place_limit_order <symbol> <quantity> <price> <side>", summary: "限价下单 (例: place_limit_order AAPL 10 150.0 BUY)", minArgs: 4, maxArgs: 4},
	{name: CmdPlaceBatchOrders, usage: "place_batch_orders <symbol,quantity,price,side> ...", summary: "批量限价下单 (例: place_batch_orders AAPL,10,150.0,BUY TSLA,5,700.0,SELL)", minArgs: 0, maxArgs: -1},
	{name: CmdChangeLimitPrice, aliases: []string{"modify"}, usage: "change_limit_price <order_id> <new_price>", summary: "修改限价单价格 (撤单后重下)", minArgs: 2, maxArgs: 2},
	{name: CmdGetOrderStatus, aliases: []string{"status"}, usage: "get_order_status <order_id>", summary: "查询订单状态", minArgs: 1, maxArgs: 1},
	{name: CmdCancelOrder, aliases: []string{"cancel"}, usage: "cancel_order <order_id>", summary: "撤销挂单", minArgs: 1, maxArgs: 1},
	{name: CmdSetStopLoss, usage: "set_stop_loss <symbol> <quantity> <stop_price>", summary: "设置止损卖单", minArgs: 3, maxArgs: 3},
	{name: CmdCalculatePosSize, aliases: []string{"size"}, usage: "calculate_pos_size <balance> <risk%> <entry> <stop_loss>", summary: "按账户余额与风险比例计算仓位", minArgs: 4, maxArgs: 4},
	{name: CmdTestOrder, usage: "test_order <symbol> <quantity> <side>", summary: "试算订单的保证金影响", minArgs: 3, maxArgs: 3},
	{name: CmdOpenOrders, usage: "open_orders", summary: "同步并列出网关上的挂单"},
	{name: CmdOrders, usage: "orders", summary: "列出本次会话跟踪的订单"},
	{name: CmdHelp, usage: "help", summary: "显示可用命令"},
	{name: CmdExit, aliases: []string{"quit"}, usage: "exit", summary: "退出"},
}

var lookup = func() map[string]*definition {
	m := make(map[string]*definition, len(definitions)*2)
	for i := range definitions {
		def := &definitions[i]
		m[def.name] = def
		for _, alias := range def.aliases {
			m[alias] = def
		}
	}
	return m
}()

// Command 为解析后的一行输入。
type Command struct {
	Name string
	Args []string
	Raw  string
}

// Parse 解析一行输入并校验参数个数，别名会被还原为正式命令名。
func Parse(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, ErrEmpty
	}

	def, ok := lookup[strings.ToLower(fields[0])]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s，输入 help 查看可用命令", ErrUnknownCommand, fields[0])
	}

	args := fields[1:]
	if len(args) < def.minArgs || (def.maxArgs >= 0 && len(args) > def.maxArgs) {
		return Command{}, &order.ValidationError{
			Command: def.name,
			Field:   "args",
			Value:   strings.Join(args, " "),
			Reason:  "用法: " + def.usage,
		}
	}
	return Command{Name: def.name, Args: args, Raw: strings.TrimSpace(line)}, nil
}

// BatchEntry 为批量下单中解析成功的一笔。
type BatchEntry struct {
	Raw     string
	Request order.Request
}

// ParseBatch 解析 symbol,quantity,price,side 元组，格式错误的元组被跳过并返回诊断信息。
func ParseBatch(tokens []string) ([]BatchEntry, []string) {
	var (
		entries     []BatchEntry
		diagnostics []string
	)
	for _, raw := range tokens {
		req, err := parseTuple(raw)
		if err != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("%s: %v，已跳过", raw, err))
			continue
		}
		entries = append(entries, BatchEntry{Raw: raw, Request: req})
	}
	return entries, diagnostics
}

func parseTuple(raw string) (order.Request, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return order.Request{}, &order.ValidationError{
			Command: CmdPlaceBatchOrders,
			Field:   "order",
			Value:   raw,
			Reason:  "格式应为 <symbol,quantity,price,side>",
		}
	}
	symbol, err := parseSymbol(CmdPlaceBatchOrders, parts[0])
	if err != nil {
		return order.Request{}, err
	}
	qty, err := parseQuantity(CmdPlaceBatchOrders, parts[1])
	if err != nil {
		return order.Request{}, err
	}
	price, err := parsePrice(CmdPlaceBatchOrders, "price", parts[2])
	if err != nil {
		return order.Request{}, err
	}
	side, err := parseSide(CmdPlaceBatchOrders, parts[3])
	if err != nil {
		return order.Request{}, err
	}
	return order.Request{
		Instrument: order.Stock(symbol),
		Side:       side,
		Quantity:   qty,
		Kind:       order.KindLimit,
		LimitPrice: price,
	}, nil
}

func parseSymbol(cmd, raw string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	if symbol == "" {
		return "", &order.ValidationError{Command: cmd, Field: "symbol", Reason: "不能为空"}
	}
	for _, r := range symbol {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune("./-", r) {
			return "", &order.ValidationError{Command: cmd, Field: "symbol", Value: raw, Reason: "包含非法字符"}
		}
	}
	return symbol, nil
}

func parseQuantity(cmd, raw string) (int64, error) {
	qty, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, &order.ValidationError{Command: cmd, Field: "quantity", Value: raw, Reason: "必须为整数"}
	}
	if qty <= 0 {
		return 0, &order.ValidationError{Command: cmd, Field: "quantity", Value: raw, Reason: "必须大于0"}
	}
	return qty, nil
}

func parsePrice(cmd, field, raw string) (float64, error) {
	price, err := parseNumber(cmd, field, raw)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, &order.ValidationError{Command: cmd, Field: field, Value: raw, Reason: "必须大于0"}
	}
	return price, nil
}

func parseNumber(cmd, field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &order.ValidationError{Command: cmd, Field: field, Value: raw, Reason: "必须为有效数字"}
	}
	return v, nil
}

func parseSide(cmd, raw string) (order.Side, error) {
	side, ok := order.ParseSide(raw)
	if !ok {
		return "", &order.ValidationError{Command: cmd, Field: "side", Value: raw, Reason: "必须为 BUY 或 SELL"}
	}
	return side, nil
}

func parseOrderID(cmd, raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", &order.ValidationError{Command: cmd, Field: "order_id", Reason: "不能为空"}
	}
	return id, nil
}

// parseHistoricalArgs 支持 "1D 5min" 紧凑写法与 "1 D 5 min" 分开写法。
func parseHistoricalArgs(args []string) (duration, barSize string, err error) {
	switch len(args) {
	case 0:
		return "", "", nil
	case 1:
		return spaced(args[0]), "", nil
	case 2:
		if isUnit(args[1]) {
			return args[0] + " " + args[1], "", nil
		}
		return spaced(args[0]), spaced(args[1]), nil
	case 3:
		if isUnit(args[1]) {
			return args[0] + " " + args[1], spaced(args[2]), nil
		}
		return spaced(args[0]), args[1] + " " + args[2], nil
	case 4:
		return args[0] + " " + args[1], args[2] + " " + args[3], nil
	}
	return "", "", &order.ValidationError{Command: CmdFetchHistorical, Field: "args", Value: strings.Join(args, " "), Reason: "参数过多"}
}

func spaced(raw string) string {
	i := strings.IndexFunc(raw, func(r rune) bool { return !unicode.IsDigit(r) })
	if i <= 0 {
		return raw
	}
	return raw[:i] + " " + raw[i:]
}

func isUnit(raw string) bool {
	return raw != "" && strings.IndexFunc(raw, unicode.IsDigit) < 0
}
