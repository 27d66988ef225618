package policy

import "fmt"

// Mode 决定非 block 的 Verdict 如何解释
type Mode string

const (
	// ModeStrict 仅放行 benign 分类（默认）
	ModeStrict Mode = "strict"
	// ModeActionOnly 信任 oracle 的 allow
	ModeActionOnly Mode = "action_only"
)

// ParseMode 解析配置中的裁决模式，空字符串返回 ModeStrict
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeStrict:
		return ModeStrict, nil
	case ModeActionOnly:
		return ModeActionOnly, nil
	default:
		return "", fmt.Errorf("unknown decision mode %q (want %q or %q)", s, ModeStrict, ModeActionOnly)
	}
}

// Reason 描述拒绝原因
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonActionBlock   Reason = "action_block"
	ReasonNotBenign     Reason = "category_not_benign"
	ReasonUnknownAction Reason = "unknown_action"
)

// Decision 是 Decide 的结果
type Decision struct {
	Allowed bool
	Reason  Reason
}

// Decide 是唯一的共享裁决函数。
// block 一票否决；其余按 mode 解释。无法识别的 action 按拒绝处理。
func Decide(v Verdict, mode Mode) Decision {
	switch v.Action {
	case ActionBlock:
		return Decision{Reason: ReasonActionBlock}
	case ActionAllow:
	default:
		return Decision{Reason: ReasonUnknownAction}
	}

	if mode == ModeActionOnly {
		return Decision{Allowed: true}
	}
	if !v.IsBenign() {
		return Decision{Reason: ReasonNotBenign}
	}
	return Decision{Allowed: true}
}
