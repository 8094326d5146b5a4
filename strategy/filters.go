package strategy

import (
	"time"

	"scalper/config"
	"scalper/market"
)

// 过滤器标识，写入 Result.FilterBlocked 供观测使用
const (
	filterSession = "session_window"
	filterVolume  = "relative_volume"
	filterATR     = "min_atr"
	filterChop    = "choppiness"
	filterRSI     = "rsi_undefined"
)

// sessionWindow 交易时段与收盘强平窗口，构造时解析完毕。
type sessionWindow struct {
	loc        *time.Location
	start      config.Clock
	end        config.Clock
	forceExit  config.Clock
	hasForce   bool
	allDay     bool
}

func newSessionWindow(cfg config.Config) (sessionWindow, error) {
	loc, err := cfg.Location()
	if err != nil {
		return sessionWindow{}, err
	}
	start, err := config.ParseClock(cfg.SessionStart)
	if err != nil {
		return sessionWindow{}, err
	}
	end, err := config.ParseClock(cfg.SessionEnd)
	if err != nil {
		return sessionWindow{}, err
	}
	w := sessionWindow{
		loc:    loc,
		start:  start,
		end:    end,
		allDay: start.Minutes() == end.Minutes(),
	}
	if cfg.ForceExitStart != "" {
		fe, err := config.ParseClock(cfg.ForceExitStart)
		if err != nil {
			return sessionWindow{}, err
		}
		w.forceExit = fe
		w.hasForce = true
	}
	return w, nil
}

// inSession 当前时刻是否允许新开仓。
func (w sessionWindow) inSession(now time.Time) bool {
	if w.allDay {
		return true
	}
	m := clockMinutes(now, w.loc)
	return minutesInRange(m, w.start.Minutes(), w.end.Minutes())
}

// inForceExit 当前时刻是否处于收盘强平窗口。
func (w sessionWindow) inForceExit(now time.Time) bool {
	if !w.hasForce {
		return false
	}
	m := clockMinutes(now, w.loc)
	if w.allDay {
		// 全天交易时，强平窗口从起点持续到当日结束
		return m >= w.forceExit.Minutes()
	}
	return minutesInRange(m, w.forceExit.Minutes(), w.end.Minutes())
}

func clockMinutes(now time.Time, loc *time.Location) int {
	local := now.In(loc)
	return local.Hour()*60 + local.Minute()
}

// minutesInRange 判断 m 是否落在 [start, end)，支持跨零点的时段。
func minutesInRange(m, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

// entryFilters 依次执行入场过滤器，返回第一个未通过的过滤器名。
// 任何一个失败都只是压制本轮入场，没有副作用。阈值为0的过滤器视为禁用。
func (e *Engine) entryFilters(tick market.Tick, window *market.VWAPWindow) string {
	if !e.session.inSession(tick.Timestamp) {
		return filterSession
	}

	samples := window.Samples()

	if e.cfg.VolumeMultiplier > 0 {
		rv := market.RelativeVolume(samples, e.cfg.VolumeLookback)
		if rv < e.cfg.VolumeMultiplier {
			return filterVolume
		}
	}

	if e.cfg.MinATRPct > 0 && tick.Price > 0 {
		atr, ok := market.ATR(samples, e.cfg.ATRPeriod)
		if !ok || atr/tick.Price < e.cfg.MinATRPct {
			return filterATR
		}
	}

	if e.cfg.ChopPeriod > 0 && e.cfg.ChopThreshold > 0 {
		if market.IsChoppy(window.Prices(), window.VWAPHistory(), e.cfg.ChopPeriod, e.cfg.ChopThreshold) {
			return filterChop
		}
	}

	return ""
}
