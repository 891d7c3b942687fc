package run

import (
	"time"

	"github.com/John-Robertt/moviepages/internal/config"
	"github.com/John-Robertt/moviepages/internal/domain"
)

// Observer 用于把“运行进度/阶段/条目结果”从核心执行流程中解耦出来。
//
// 约束：run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// 事件全部在调用 Execute 的 goroutine 上按顺序发出。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束时调用：parse / template / clean / write。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在每条记录写入（或写入失败）后调用。
	OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration)
}
