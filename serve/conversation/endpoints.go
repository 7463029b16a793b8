package conversation

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/favbox/gptdb/internal/httpx"
	"github.com/favbox/gptdb/serve/core"
)

type handlers struct {
	svc *Service
}

func queryRequest(r *http.Request) *ServeRequest {
	q := r.URL.Query()
	return &ServeRequest{
		ChatMode: q.Get("chat_mode"),
		UserName: q.Get("user_name"),
		SysCode:  q.Get("sys_code"),
	}
}

func (h *handlers) create(r *http.Request) (any, error) {
	return h.svc.NewConversation(r.Context(), queryRequest(r))
}

func (h *handlers) list(r *http.Request) (any, error) {
	page, size, err := core.PageParams(r)
	if err != nil {
		return nil, err
	}
	return h.svc.List(r.Context(), queryRequest(r), page, size)
}

func (h *handlers) messages(r *http.Request) (any, error) {
	return h.svc.Messages(r.Context(), r.PathValue("conv_uid"))
}

func (h *handlers) delete(r *http.Request) (any, error) {
	return h.svc.Delete(r.Context(), r.PathValue("conv_uid"))
}

// completions stream 为 true 时以 SSE 输出，文本中的换行转义为 \n，最后发送 [DONE]。
func (h *handlers) completions(w http.ResponseWriter, r *http.Request) {
	req, err := core.DecodeJSON[CompletionRequest](r)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	if !req.Stream {
		out, err := h.svc.Complete(r.Context(), req)
		if err != nil {
			core.WriteError(w, r, err)
			return
		}
		core.WriteJSON(w, http.StatusOK, core.Succ(out))
		return
	}

	convUID, sr, err := h.svc.CompleteStream(r.Context(), req)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	defer sr.Close()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Conv-Uid", convUID)
	w.WriteHeader(http.StatusOK)
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			_ = httpx.WriteSSE(w, "[DONE]")
			return
		}
		if err != nil {
			_ = httpx.WriteSSE(w, "[ERROR] "+err.Error())
			return
		}
		if err = httpx.WriteSSE(w, strings.ReplaceAll(chunk.Text, "\n", "\\n")); err != nil {
			return
		}
	}
}
