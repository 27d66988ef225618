package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/BaSui01/guardproxy/relay"
	"go.uber.org/zap"
)

// =============================================================================
// 🌊 NDJSON 流式输出
// =============================================================================

// ContentTypeNDJSON Ollama 流式响应的内容类型
const ContentTypeNDJSON = "application/x-ndjson"

// StreamRelay 把 Relay 放行的单元逐行写给客户端。
// 响应头在第一个单元放行时才提交，所以首个单元即被阻断时仍可返回正确的状态码；
// 流中途终止时写出一行带 done:true 的错误对象后结束响应。
func StreamRelay(w http.ResponseWriter, r *http.Request, rel *relay.Relay, logger *zap.Logger) {
	defer rel.Close()

	ctx := r.Context()
	rc := http.NewResponseController(w)
	started := false

	for {
		chunk, err := rel.Next(ctx)
		if err != nil {
			finishStream(w, r, rc, started, err, logger)
			return
		}

		if !started {
			w.Header().Set("Content-Type", ContentTypeNDJSON)
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			started = true
		}

		if err := writeLine(w, rc, chunk); err != nil {
			logger.Debug("client write failed, stopping stream",
				zap.Int("released", rel.Released()),
				zap.Error(err),
			)
			return
		}
	}
}

func finishStream(w http.ResponseWriter, r *http.Request, rc *http.ResponseController, started bool, err error, logger *zap.Logger) {
	if errors.Is(err, io.EOF) {
		if !started {
			w.Header().Set("Content-Type", ContentTypeNDJSON)
			w.WriteHeader(http.StatusOK)
		}
		return
	}

	if !started {
		WriteError(w, r, err, logger)
		return
	}

	if r.Context().Err() != nil {
		// 客户端已断开，无处可写
		return
	}

	status, body := ErrorBody(r, err)
	logError(logger, status, body, err)
	body.Done = true

	line, mErr := json.Marshal(body)
	if mErr != nil {
		return
	}
	_ = writeLine(w, rc, line)
}

func writeLine(w http.ResponseWriter, rc *http.ResponseController, line []byte) error {
	if _, err := w.Write(line); err != nil {
		return err
	}
	if _, err := w.Write([]byte{'\n'}); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
