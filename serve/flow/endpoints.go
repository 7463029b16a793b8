package flow

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/favbox/gptdb/internal/httpx"
	"github.com/favbox/gptdb/internal/logging"
	"github.com/favbox/gptdb/schema"
	"github.com/favbox/gptdb/serve/core"
)

type handlers struct {
	svc *Service
}

func (h *handlers) create(r *http.Request) (any, error) {
	req, err := core.DecodeJSON[FlowPanel](r)
	if err != nil {
		return nil, err
	}
	return h.svc.CreateAndSaveDAG(r.Context(), req)
}

func (h *handlers) update(r *http.Request) (any, error) {
	req, err := core.DecodeJSON[FlowPanel](r)
	if err != nil {
		return nil, err
	}
	return h.svc.UpdateFlow(r.Context(), req)
}

func (h *handlers) get(r *http.Request) (any, error) {
	return h.svc.Get(r.Context(), r.PathValue("uid"))
}

func (h *handlers) delete(r *http.Request) (any, error) {
	return h.svc.Delete(r.Context(), r.PathValue("uid"))
}

func (h *handlers) page(r *http.Request) (any, error) {
	page, size, err := core.PageParams(r)
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	filter := &FlowPanel{
		Owner:    q.Get("owner"),
		UserName: q.Get("user_name"),
		SysCode:  q.Get("sys_code"),
		Name:     q.Get("name"),
		State:    q.Get("state"),
	}
	return h.svc.GetListByPage(r.Context(), filter, page, size)
}

func (h *handlers) nodes(r *http.Request) (any, error) {
	return h.svc.Nodes(r.URL.Query().Get("category"))
}

// run 请求体作为调用数据；stream=true 时以 SSE 逐块输出。
func (h *handlers) run(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	var input any
	if len(body) > 0 {
		if err = sonic.Unmarshal(body, &input); err != nil {
			core.WriteError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err))
			return
		}
	}

	stream, _ := strconv.ParseBool(r.URL.Query().Get("stream"))
	if !stream {
		out, err := h.svc.Run(r.Context(), uid, input)
		if err != nil {
			core.WriteError(w, r, err)
			return
		}
		core.WriteJSON(w, http.StatusOK, core.Succ(out))
		return
	}

	sr, err := h.svc.Stream(r.Context(), uid, input)
	if err != nil {
		core.WriteError(w, r, err)
		return
	}
	defer sr.Close()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			_ = httpx.WriteSSE(w, "[ERROR] "+err.Error())
			return
		}
		data, err := sseData(chunk)
		if err != nil {
			logging.FromContext(r.Context()).Warn("encode stream chunk", slog.Any("error", err))
			continue
		}
		if err = httpx.WriteSSE(w, data); err != nil {
			return
		}
	}
}

func sseData(chunk any) (string, error) {
	switch v := chunk.(type) {
	case string:
		return v, nil
	case *schema.ModelOutput:
		return v.Text, nil
	}
	return sonic.MarshalString(chunk)
}
