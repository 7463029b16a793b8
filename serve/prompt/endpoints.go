package prompt

import (
	"net/http"

	"github.com/favbox/gptdb/serve/core"
)

type handlers struct {
	svc *Service
}

func (h *handlers) create(r *http.Request) (any, error) {
	req, err := core.DecodeJSON[ServeRequest](r)
	if err != nil {
		return nil, err
	}
	return h.svc.Create(r.Context(), req)
}

func (h *handlers) update(r *http.Request) (any, error) {
	req, err := core.DecodeJSON[ServeRequest](r)
	if err != nil {
		return nil, err
	}
	return h.svc.Update(r.Context(), req)
}

func (h *handlers) query(r *http.Request) (any, error) {
	req, err := core.DecodeJSON[ServeRequest](r)
	if err != nil {
		return nil, err
	}
	return h.svc.Get(r.Context(), req)
}

func (h *handlers) list(r *http.Request) (any, error) {
	req, err := core.DecodeJSON[ServeRequest](r)
	if err != nil {
		return nil, err
	}
	return h.svc.GetList(r.Context(), req)
}

// page 查询参数中的 sys_code、user_name、chat_scene、prompt_name 作为过滤条件。
func (h *handlers) page(r *http.Request) (any, error) {
	page, size, err := core.PageParams(r)
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	req := &ServeRequest{
		SysCode:    q.Get("sys_code"),
		UserName:   q.Get("user_name"),
		ChatScene:  q.Get("chat_scene"),
		PromptName: q.Get("prompt_name"),
	}
	return h.svc.GetListByPage(r.Context(), req, page, size)
}

func (h *handlers) get(r *http.Request) (any, error) {
	id, err := core.PathInt(r, "id")
	if err != nil {
		return nil, err
	}
	return h.svc.GetByID(r.Context(), id)
}

func (h *handlers) delete(r *http.Request) (any, error) {
	id, err := core.PathInt(r, "id")
	if err != nil {
		return nil, err
	}
	return h.svc.DeleteByID(r.Context(), id)
}

func (h *handlers) render(r *http.Request) (any, error) {
	req, err := core.DecodeJSON[RenderRequest](r)
	if err != nil {
		return nil, err
	}
	text, err := h.svc.Render(r.Context(), req)
	if err != nil {
		return nil, err
	}
	return map[string]string{"content": text}, nil
}
