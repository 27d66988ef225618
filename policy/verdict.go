package policy

import "fmt"

// Role 标识被评估文本的来源
type Role string

const (
	RolePrompt   Role = "prompt"
	RoleResponse Role = "response"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RolePrompt || r == RoleResponse
}

// Action 是 oracle 给出的处置建议
type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
)

// CategoryBenign 是 oracle 对无害内容的分类
const CategoryBenign = "benign"

// Verdict 是 oracle 对单个 Fragment 的评估结果。值类型，创建后不再修改。
type Verdict struct {
	Category      string   `json:"category"`
	Action        Action   `json:"action"`
	ReportID      string   `json:"report_id,omitempty"`
	ScanID        string   `json:"scan_id,omitempty"`
	TransactionID string   `json:"tr_id,omitempty"`
	Findings      []string `json:"findings,omitempty"`
}

// IsBenign reports whether the oracle classified the content as benign.
func (v Verdict) IsBenign() bool {
	return v.Category == CategoryBenign
}

// Fragment 是一段待评估文本
type Fragment struct {
	Text  string
	Role  Role
	Model string
}

func (f Fragment) String() string {
	// 不输出文本内容
	return fmt.Sprintf("fragment(role=%s, model=%s, len=%d)", f.Role, f.Model, len(f.Text))
}
