package deribit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func positionPayload() []map[string]any {
	return []map[string]any{
		{
			"instrument_name": "BTC-26DEC26-60000-C",
			"kind":            "option",
			"size":            -2.0,
			"gamma":           -0.0004,
			"vega":            -12.5,
			"delta":           0.3,
		},
		{
			"instrument_name": "BTC-26DEC26-70000-C",
			"kind":            "option",
			"size":            0.0, // 应被过滤
			"gamma":           0.001,
		},
		{
			// 顶层 greeks 为零, 回退到嵌套对象
			"instrument_name": "ETH-26DEC26-3000-P",
			"kind":            "option",
			"size":            1.0,
			"greeks": map[string]any{
				"gamma": 0.0002,
				"vega":  8.0,
			},
		},
	}
}

func TestPositionsNormalization(t *testing.T) {
	exchange := newFakeExchange()
	exchange.handle("public/auth", authOK("tok"))
	exchange.handle("private/get_positions", func(w http.ResponseWriter, id int64, _ string) {
		writeResult(w, id, positionPayload())
	})

	srv := httptest.NewServer(exchange)
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	c.opts.GreeksSource = GreeksPosition

	positions, err := c.Positions(context.Background(), "BTC", "option")
	if err != nil {
		t.Fatalf("获取持仓失败: %v", err)
	}

	if len(positions) != 2 {
		t.Fatalf("零持仓应被过滤, 期望 2 个, 实际 %d", len(positions))
	}

	short := positions[0]
	if short.Direction != "sell" {
		t.Fatalf("负持仓方向应为 sell, 实际 %q", short.Direction)
	}
	if short.Size != 2.0 {
		t.Fatalf("持仓量应取绝对值, 实际 %v", short.Size)
	}
	if short.Gamma != 0.0004 || short.Vega != 12.5 {
		t.Fatalf("position 策略下应取记录字段绝对值, 实际 gamma=%v vega=%v", short.Gamma, short.Vega)
	}

	fallback := positions[1]
	if fallback.Gamma != 0.0002 || fallback.Vega != 8.0 {
		t.Fatalf("顶层字段为零时应回退到嵌套 greeks, 实际 gamma=%v vega=%v", fallback.Gamma, fallback.Vega)
	}
	if fallback.Direction != "buy" {
		t.Fatalf("正持仓方向应为 buy, 实际 %q", fallback.Direction)
	}
}

func TestPositionsOrderBookPolicy(t *testing.T) {
	exchange := newFakeExchange()
	exchange.handle("public/auth", authOK("tok"))
	exchange.handle("private/get_positions", func(w http.ResponseWriter, id int64, _ string) {
		writeResult(w, id, []map[string]any{{
			"instrument_name": "BTC-26DEC26-60000-C",
			"kind":            "option",
			"size":            -3.0,
			"gamma":           0.009, // 记录字段应被盘口值覆盖
			"vega":            99.0,
		}})
	})
	exchange.handle("public/get_order_book", func(w http.ResponseWriter, id int64, _ string) {
		writeResult(w, id, map[string]any{
			"instrument_name": "BTC-26DEC26-60000-C",
			"greeks":          map[string]any{"gamma": -0.0002, "vega": 4.0},
		})
	})

	srv := httptest.NewServer(exchange)
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	c.opts.GreeksSource = GreeksOrderBook

	positions, err := c.Positions(context.Background(), "BTC", "option")
	if err != nil {
		t.Fatalf("获取持仓失败: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("期望 1 个持仓, 实际 %d", len(positions))
	}

	// 每张合约敏感度绝对值 × 持仓量
	pos := positions[0]
	if pos.Gamma != 0.0002*3 {
		t.Fatalf("order_book 策略 gamma 应为 |每张|×数量, 实际 %v", pos.Gamma)
	}
	if pos.Vega != 4.0*3 {
		t.Fatalf("order_book 策略 vega 应为 |每张|×数量, 实际 %v", pos.Vega)
	}
}

func TestPositionsOrderBookFallbackOnError(t *testing.T) {
	exchange := newFakeExchange()
	exchange.handle("public/auth", authOK("tok"))
	exchange.handle("private/get_positions", func(w http.ResponseWriter, id int64, _ string) {
		writeResult(w, id, []map[string]any{{
			"instrument_name": "BTC-26DEC26-60000-C",
			"kind":            "option",
			"size":            1.0,
			"gamma":           -0.0006,
			"vega":            -15.0,
		}})
	})
	exchange.handle("public/get_order_book", func(w http.ResponseWriter, id int64, _ string) {
		writeError(w, id, 10004, "instrument not found")
	})

	srv := httptest.NewServer(exchange)
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	c.opts.GreeksSource = GreeksOrderBook

	positions, err := c.Positions(context.Background(), "BTC", "option")
	if err != nil {
		t.Fatalf("盘口失败不应使整轮失败: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("期望 1 个持仓, 实际 %d", len(positions))
	}
	if positions[0].Gamma != 0.0006 || positions[0].Vega != 15.0 {
		t.Fatalf("盘口不可用时应回退到持仓记录绝对值, 实际 gamma=%v vega=%v",
			positions[0].Gamma, positions[0].Vega)
	}
}

func TestPositionsSingleObjectResult(t *testing.T) {
	exchange := newFakeExchange()
	exchange.handle("public/auth", authOK("tok"))
	exchange.handle("private/get_positions", func(w http.ResponseWriter, id int64, _ string) {
		// 个别端点对单元素结果返回对象而非数组
		writeResult(w, id, map[string]any{
			"instrument_name": "BTC-26DEC26-60000-C",
			"kind":            "option",
			"size":            1.0,
			"gamma":           0.0002,
		})
	})

	srv := httptest.NewServer(exchange)
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)
	c.opts.GreeksSource = GreeksPosition

	positions, err := c.Positions(context.Background(), "BTC", "option")
	if err != nil {
		t.Fatalf("获取持仓失败: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("单对象结果应按单元素列表处理, 实际 %d", len(positions))
	}
}
