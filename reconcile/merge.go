package reconcile

import (
	"sort"
	"time"

	"sudooom.im.client/model"
)

// DedupWindow 内容去重时间窗
// 服务端回显可能在 API 响应分配最终 Id 之前就到达，
// 此时只能靠内容 + 发送者 + 时间接近度识别重复
const DedupWindow = 5000 * time.Millisecond

// Merge 将一条入站消息合并进既有消息列表
// 纯函数：不修改 existing 中的元素，返回合并后的列表与是否发生变化。
// 幂等：同一条消息合并两次，结果只包含一个条目。
//
// 规则：
//  1. Id 精确匹配视为重复，丢弃；
//  2. 已确认消息会替换掉同发送者、同内容的乐观条目（保证一条消息
//     不会同时以 sending 和 sent 两种形态出现）；
//  3. 内容 + 发送者匹配且 CreatedAt 相差不超过 5000ms 视为重复，丢弃；
//  4. 插入后按 CreatedAt 升序稳定排序（乱序到达是常态，例如兜底
//     传输与 API 回显竞速）
func Merge(existing []*model.Message, incoming *model.Message) ([]*model.Message, bool) {
	if incoming == nil {
		return existing, false
	}

	// Id 精确去重
	if incoming.Persisted() {
		for _, m := range existing {
			if m.Id == incoming.Id {
				return existing, false
			}
		}
	} else if incoming.LocalId != "" {
		for _, m := range existing {
			if m.LocalId != "" && m.LocalId == incoming.LocalId {
				return existing, false
			}
		}
	}

	out := make([]*model.Message, 0, len(existing)+1)
	replaced := false

	for _, m := range existing {
		// 乐观替换：已确认的回显吸收对应的本地乐观条目
		if incoming.Persisted() && m.Optimistic() &&
			m.SenderId == incoming.SenderId && m.Content == incoming.Content {
			replaced = true
			continue
		}
		out = append(out, m)
	}

	// 时间窗去重：只针对非乐观的既有条目（乐观条目走上面的替换分支）
	if !replaced {
		for _, m := range out {
			if m.Optimistic() {
				continue
			}
			if m.SenderId == incoming.SenderId && m.Content == incoming.Content &&
				absDuration(m.CreatedAt.Sub(incoming.CreatedAt)) <= DedupWindow {
				return existing, false
			}
		}
	}

	out = append(out, incoming)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
