package dashboard

import (
	"math"

	"github.com/hitoshi/talentstrike/internal/model"
)

// FunnelStage はファネルの1段階を表す。
type FunnelStage struct {
	Stage          model.ApplicationStatus `json:"stage"`
	Count          int                     `json:"count"`
	Percentage     float64                 `json:"percentage"`
	ConversionRate *float64                `json:"conversion_rate"`
	Bottleneck     bool                    `json:"bottleneck"`
}

// BuildFunnel は現在の選考段階ごとの応募数からファネルを組み立てる。
//
// 各段階の件数はその段階以降に到達した応募数の累計。rejected/withdrawnは
// どこで離脱したか分からないため最初の段階にだけ数える。
// Percentageは最初の段階に対する割合、ConversionRateは直前の段階からの通過率で、
// 最初の段階はnil。通過率が最も低い段階（同率なら後ろの段階）をBottleneckとする。
func BuildFunnel(counts map[model.ApplicationStatus]int) []FunnelStage {
	stages := model.FunnelStages
	reached := make([]int, len(stages))
	running := 0
	for i := len(stages) - 1; i >= 0; i-- {
		running += counts[stages[i]]
		reached[i] = running
	}
	reached[0] += counts[model.ApplicationRejected] + counts[model.ApplicationWithdrawn]

	funnel := make([]FunnelStage, len(stages))
	bottleneck := -1
	var lowest float64
	for i, stage := range stages {
		fs := FunnelStage{Stage: stage, Count: reached[i]}
		if reached[0] > 0 {
			fs.Percentage = round1(float64(reached[i]) * 100 / float64(reached[0]))
		}
		if i > 0 && reached[i-1] > 0 {
			rate := round1(float64(reached[i]) * 100 / float64(reached[i-1]))
			fs.ConversionRate = &rate
			if bottleneck < 0 || rate <= lowest {
				bottleneck, lowest = i, rate
			}
		}
		funnel[i] = fs
	}
	if bottleneck >= 0 {
		funnel[bottleneck].Bottleneck = true
	}
	return funnel
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
