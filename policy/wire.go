package policy

// scanRequest 是 POST /v1/scan/sync/request 的请求体
type scanRequest struct {
	TrID      string        `json:"tr_id"`
	AIProfile aiProfile     `json:"ai_profile"`
	Metadata  scanMetadata  `json:"metadata"`
	Contents  []scanContent `json:"contents"`
}

type aiProfile struct {
	ProfileName string `json:"profile_name"`
}

type scanMetadata struct {
	AppName string `json:"app_name"`
	AppUser string `json:"app_user"`
	AIModel string `json:"ai_model"`
}

// scanContent 只能设置 Prompt 或 Response 之一
type scanContent struct {
	Prompt   *string `json:"prompt,omitempty"`
	Response *string `json:"response,omitempty"`
}

type scanResponse struct {
	ReportID         string            `json:"report_id"`
	ScanID           string            `json:"scan_id"`
	TrID             string            `json:"tr_id"`
	ProfileID        string            `json:"profile_id"`
	ProfileName      string            `json:"profile_name"`
	Category         string            `json:"category"`
	Action           string            `json:"action"`
	PromptDetected   *promptDetected   `json:"prompt_detected,omitempty"`
	ResponseDetected *responseDetected `json:"response_detected,omitempty"`
	CreatedAt        string            `json:"created_at"`
	CompletedAt      string            `json:"completed_at"`
}

type promptDetected struct {
	URLCats       bool `json:"url_cats"`
	DLP           bool `json:"dlp"`
	Injection     bool `json:"injection"`
	ToxicContent  bool `json:"toxic_content"`
	MaliciousCode bool `json:"malicious_code"`
}

type responseDetected struct {
	URLCats       bool `json:"url_cats"`
	DLP           bool `json:"dlp"`
	DBSecurity    bool `json:"db_security"`
	ToxicContent  bool `json:"toxic_content"`
	MaliciousCode bool `json:"malicious_code"`
}

func (r *scanResponse) findings() []string {
	var out []string
	add := func(on bool, name string) {
		if on {
			out = append(out, name)
		}
	}
	if p := r.PromptDetected; p != nil {
		add(p.URLCats, "prompt.url_cats")
		add(p.DLP, "prompt.dlp")
		add(p.Injection, "prompt.injection")
		add(p.ToxicContent, "prompt.toxic_content")
		add(p.MaliciousCode, "prompt.malicious_code")
	}
	if d := r.ResponseDetected; d != nil {
		add(d.URLCats, "response.url_cats")
		add(d.DLP, "response.dlp")
		add(d.DBSecurity, "response.db_security")
		add(d.ToxicContent, "response.toxic_content")
		add(d.MaliciousCode, "response.malicious_code")
	}
	return out
}
