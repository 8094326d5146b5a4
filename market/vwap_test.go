package market

import (
	"math"
	"testing"
	"time"
)

func windowUpdate(w *VWAPWindow, price, volume float64, minute int) {
	ts := time.Date(2024, 3, 4, 10, minute, 0, 0, time.UTC)
	w.Update(price, volume, price, price, ts)
}

func TestVWAPCumulative(t *testing.T) {
	t.Run("等量样本的VWAP是算术平均", func(t *testing.T) {
		w := NewVWAPWindow(0)
		for i, p := range []float64{100, 100, 100, 95} {
			windowUpdate(w, p, 1000, i)
		}
		v, ok := w.Value()
		if !ok {
			t.Fatal("有成交量后 VWAP 应有定义")
		}
		if math.Abs(v-98.75) > 1e-9 {
			t.Fatalf("VWAP = %v, want 98.75", v)
		}
	})

	t.Run("成交量加权", func(t *testing.T) {
		w := NewVWAPWindow(0)
		windowUpdate(w, 100, 3000, 0)
		windowUpdate(w, 90, 1000, 1)
		v, _ := w.Value()
		// (100*3000 + 90*1000) / 4000 = 97.5
		if math.Abs(v-97.5) > 1e-9 {
			t.Fatalf("VWAP = %v, want 97.5", v)
		}
	})

	t.Run("零成交量时未定义", func(t *testing.T) {
		w := NewVWAPWindow(0)
		if _, ok := w.Value(); ok {
			t.Fatal("空窗口 VWAP 不应有定义")
		}
		windowUpdate(w, 100, 0, 0)
		if _, ok := w.Value(); ok {
			t.Fatal("累计成交量为0时 VWAP 不应有定义")
		}
	})

	t.Run("Reset后重新累计", func(t *testing.T) {
		w := NewVWAPWindow(0)
		windowUpdate(w, 100, 1000, 0)
		w.Reset()
		if _, ok := w.Value(); ok {
			t.Fatal("Reset 后 VWAP 不应有定义")
		}
		windowUpdate(w, 50, 1000, 1)
		v, _ := w.Value()
		if v != 50 {
			t.Fatalf("Reset后 VWAP = %v, want 50（旧样本不应残留）", v)
		}
	})
}

func TestVWAPRolling(t *testing.T) {
	t.Run("积满前未定义", func(t *testing.T) {
		w := NewVWAPWindow(3)
		windowUpdate(w, 100, 1000, 0)
		windowUpdate(w, 101, 1000, 1)
		if _, ok := w.Value(); ok {
			t.Fatal("样本数不足 period 时 VWAP 不应有定义")
		}
		windowUpdate(w, 102, 1000, 2)
		if _, ok := w.Value(); !ok {
			t.Fatal("积满后 VWAP 应有定义")
		}
	})

	t.Run("逐出与累计量同步维护", func(t *testing.T) {
		w := NewVWAPWindow(3)
		for i, p := range []float64{100, 101, 102, 103, 104} {
			windowUpdate(w, p, 1000, i)
		}
		if w.Len() != 3 {
			t.Fatalf("Len = %d, want 3", w.Len())
		}
		v, _ := w.Value()
		// 只剩 [102,103,104]
		if math.Abs(v-103) > 1e-9 {
			t.Fatalf("VWAP = %v, want 103", v)
		}
	})

	t.Run("长序列下增量值与全量重算一致", func(t *testing.T) {
		const period = 10
		w := NewVWAPWindow(period)
		prices := make([]float64, 100)
		for i := range prices {
			prices[i] = 100 + float64(i%7) - float64(i%3)
			windowUpdate(w, prices[i], 1000+float64(i), i)
		}

		tail := prices[len(prices)-period:]
		pv, vol := 0.0, 0.0
		for i, p := range tail {
			v := 1000 + float64(len(prices)-period+i)
			pv += p * v
			vol += v
		}
		want := pv / vol

		got, ok := w.Value()
		if !ok || math.Abs(got-want) > 1e-9 {
			t.Fatalf("增量VWAP = %v, 全量重算 = %v", got, want)
		}
	})
}

func TestVWAPDeviation(t *testing.T) {
	w := NewVWAPWindow(0)
	windowUpdate(w, 100, 1000, 0)

	dev, ok := w.Deviation(95)
	if !ok || math.Abs(dev-(-0.05)) > 1e-9 {
		t.Fatalf("Deviation = (%v, %v), want (-0.05, true)", dev, ok)
	}

	if !w.IsBelow(95) || w.IsAbove(95) {
		t.Error("95 应在 VWAP=100 下方")
	}
	if w.IsBelow(100) || w.IsAbove(100) {
		t.Error("价格等于 VWAP 时既不在上方也不在下方")
	}

	empty := NewVWAPWindow(0)
	if _, ok := empty.Deviation(95); ok {
		t.Error("VWAP 未定义时 Deviation 不应有定义")
	}
	if empty.IsBelow(95) || empty.IsAbove(95) {
		t.Error("VWAP 未定义时方向判断应为 false")
	}
}

func TestVWAPHistory(t *testing.T) {
	w := NewVWAPWindow(0)
	windowUpdate(w, 100, 1000, 0)
	windowUpdate(w, 102, 1000, 1)

	hist := w.VWAPHistory()
	if len(hist) != 2 {
		t.Fatalf("len = %d, want 2", len(hist))
	}
	// 每个样本记录的是它插入后的瞬时VWAP
	if hist[0] != 100 || math.Abs(hist[1]-101) > 1e-9 {
		t.Fatalf("history = %v, want [100 101]", hist)
	}
}
