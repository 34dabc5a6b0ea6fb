package realism

import (
	"fmt"
	"math"
	"time"

	"github.com/balwinderxcode-ai/activity-tracker/internal/analytics"
	"github.com/balwinderxcode-ai/activity-tracker/internal/session"
)

// Benchmark 人类行为基准区间。落在[Min, Max]内视为自然，
// 偏离越远扣分越多。
type Benchmark struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	// Weight 该指标在总分中的扣分权重
	Weight float64 `json:"weight"`
}

// Metrics 从运行汇总提取的行为指标
type Metrics struct {
	ActiveRatio        float64       `json:"active_ratio"`
	IdleRatio          float64       `json:"idle_ratio"`
	PausedRatio        float64       `json:"paused_ratio"`
	EventsPerActiveMin float64       `json:"events_per_active_min"`
	ScrollShare        float64       `json:"scroll_share"`
	PausesPerHour      float64       `json:"pauses_per_hour"`
	AvgSessionLength   time.Duration `json:"avg_session_length"`
}

// Issue 发现的问题
type Issue struct {
	Severity    string `json:"severity"` // "high", "medium", "low"
	Metric      string `json:"metric"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Suggestion 配置调整建议
type Suggestion struct {
	Priority    string `json:"priority"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Report 真实度评估报告
type Report struct {
	RunID       string        `json:"run_id"`
	Score       float64       `json:"score"`
	Grade       string        `json:"grade"`
	Metrics     *Metrics      `json:"metrics"`
	Issues      []*Issue      `json:"issues"`
	Suggestions []*Suggestion `json:"suggestions"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// 默认基准，来自对真实办公行为样本的观察区间
var defaultBenchmarks = []Benchmark{
	{Name: "active_ratio", Min: 0.35, Max: 0.85, Weight: 25},
	{Name: "idle_ratio", Min: 0.05, Max: 0.45, Weight: 20},
	{Name: "paused_ratio", Min: 0.01, Max: 0.30, Weight: 15},
	{Name: "events_per_active_min", Min: 0.5, Max: 40, Weight: 20},
	{Name: "scroll_share", Min: 0.05, Max: 0.60, Weight: 10},
	{Name: "pauses_per_hour", Min: 0.2, Max: 8, Weight: 10},
}

// Analyze 对一次运行的汇总做真实度评估。
// 空运行（没有定稿会话）直接判0分，不强行外推指标。
func Analyze(sum *analytics.RunSummary) *Report {
	report := &Report{
		RunID:       sum.RunID,
		GeneratedAt: time.Now(),
	}

	if sum.SessionCount == 0 || sum.TotalSessionTime <= 0 {
		report.Score = 0
		report.Grade = "F"
		report.Issues = append(report.Issues, &Issue{
			Severity:    "high",
			Metric:      "session_count",
			Title:       "没有可评估的会话",
			Description: "运行未产生任何定稿会话，无法评估行为真实度",
		})
		return report
	}

	report.Metrics = extractMetrics(sum)
	report.Score = 100.0

	for _, bm := range defaultBenchmarks {
		value := report.Metrics.value(bm.Name)
		penalty := deviationPenalty(value, bm)
		if penalty <= 0 {
			continue
		}
		report.Score -= penalty

		severity := "low"
		if penalty >= bm.Weight*0.8 {
			severity = "high"
		} else if penalty >= bm.Weight*0.4 {
			severity = "medium"
		}
		report.Issues = append(report.Issues, &Issue{
			Severity: severity,
			Metric:   bm.Name,
			Title:    fmt.Sprintf("%s超出自然区间", bm.Name),
			Description: fmt.Sprintf("实测 %.3f，自然区间 [%.3f, %.3f]",
				value, bm.Min, bm.Max),
		})
		report.Suggestions = append(report.Suggestions, suggestionFor(bm.Name, value, bm))
	}

	if report.Score < 0 {
		report.Score = 0
	}
	report.Grade = assignGrade(report.Score)
	return report
}

// extractMetrics 从汇总推导指标
func extractMetrics(sum *analytics.RunSummary) *Metrics {
	total := sum.TotalSessionTime.Seconds()
	m := &Metrics{
		AvgSessionLength: sum.AverageSessionLength,
	}
	if total > 0 {
		m.ActiveRatio = sum.TotalActiveTime.Seconds() / total
		m.IdleRatio = sum.TotalIdleTime.Seconds() / total
		m.PausedRatio = sum.TotalPausedTime.Seconds() / total
	}

	activeMin := sum.TotalActiveTime.Minutes()
	activeEvents := sum.EventCounts[session.EventInputBurst] + sum.EventCounts[session.EventScroll]
	if activeMin > 0 {
		m.EventsPerActiveMin = float64(activeEvents) / activeMin
	}
	if activeEvents > 0 {
		m.ScrollShare = float64(sum.EventCounts[session.EventScroll]) / float64(activeEvents)
	}

	hours := sum.TotalSessionTime.Hours()
	if hours > 0 {
		m.PausesPerHour = float64(sum.EventCounts[session.EventPause]) / hours
	}
	return m
}

func (m *Metrics) value(name string) float64 {
	switch name {
	case "active_ratio":
		return m.ActiveRatio
	case "idle_ratio":
		return m.IdleRatio
	case "paused_ratio":
		return m.PausedRatio
	case "events_per_active_min":
		return m.EventsPerActiveMin
	case "scroll_share":
		return m.ScrollShare
	case "pauses_per_hour":
		return m.PausesPerHour
	default:
		return 0
	}
}

// deviationPenalty 区间内不扣分，区间外按相对偏离线性扣到权重上限
func deviationPenalty(value float64, bm Benchmark) float64 {
	var deviation float64
	switch {
	case value < bm.Min:
		span := bm.Min
		if span <= 0 {
			span = 1
		}
		deviation = (bm.Min - value) / span
	case value > bm.Max:
		deviation = (value - bm.Max) / bm.Max
	default:
		return 0
	}
	return math.Min(deviation, 1.0) * bm.Weight
}

func suggestionFor(name string, value float64, bm Benchmark) *Suggestion {
	low := value < bm.Min
	s := &Suggestion{Priority: "medium"}
	switch name {
	case "active_ratio":
		if low {
			s.Title = "提高活跃占比"
			s.Description = "降低idle_probability或缩短idle_delay区间"
		} else {
			s.Title = "降低活跃占比"
			s.Description = "提高idle_probability或加入更长的idle_delay"
		}
	case "idle_ratio":
		if low {
			s.Title = "增加空闲间隙"
			s.Description = "真人不会持续不断地输入，提高idle_probability"
		} else {
			s.Title = "减少空闲间隙"
			s.Description = "空闲时间过长会显得像挂机，缩短idle_delay区间"
		}
	case "paused_ratio":
		if low {
			s.Title = "增加休息"
			s.Description = "提高break_probability或缩短max_continuous_active"
		} else {
			s.Title = "减少休息"
			s.Description = "降低break_probability或缩短paused_duration区间"
		}
	case "events_per_active_min":
		if low {
			s.Title = "提高事件频率"
			s.Description = "缩短activity_rate区间"
		} else {
			s.Title = "降低事件频率"
			s.Description = "事件过密不像真人操作，拉长activity_rate区间"
		}
	case "scroll_share":
		s.Title = "调整事件权重"
		s.Description = "修改event_weights使滚动与输入的比例更接近真实使用"
	case "pauses_per_hour":
		s.Title = "调整休息频率"
		s.Description = "调整break_probability与max_continuous_active的组合"
	default:
		s.Title = "检查配置"
		s.Description = "该指标偏离自然区间"
	}
	return s
}

// assignGrade 按分数评级
func assignGrade(score float64) string {
	switch {
	case score >= 95:
		return "A+"
	case score >= 90:
		return "A"
	case score >= 85:
		return "B+"
	case score >= 80:
		return "B"
	case score >= 75:
		return "C+"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}
