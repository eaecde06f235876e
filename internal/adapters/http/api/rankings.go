package api

import (
	"net/http"
	"strings"

	"github.com/okian/reelrank/internal/domain/model"
	"github.com/okian/reelrank/internal/domain/types"
)

// RankingsHandler serves one user's ranked partitions.
type RankingsHandler struct {
	deps Dependencies
}

// NewRankingsHandler creates a new rankings handler.
func NewRankingsHandler(deps Dependencies) *RankingsHandler {
	return &RankingsHandler{deps: deps}
}

// partition reads the user and content type path values.
func partition(r *http.Request) (string, model.ContentType, error) {
	user := strings.TrimSpace(r.PathValue("user"))
	if user == "" {
		return "", "", ErrBadRequest
	}
	ct, err := model.ParseContentType(r.PathValue("type"))
	if err != nil {
		return "", "", err
	}
	return user, ct, nil
}

// HandleList handles GET /v1/users/{user}/rankings/{type}.
func (h *RankingsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_rankings"
	user, ct, err := partition(r)
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	list, err := h.deps.Rankings(r.Context(), user, ct)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, types.RankingList{
		UserID:      user,
		ContentType: string(ct),
		Items:       types.FromList(list),
	})
}

// HandleAppend handles POST /v1/users/{user}/rankings/{type}.
func (h *RankingsHandler) HandleAppend(w http.ResponseWriter, r *http.Request) {
	const op = "api.append_ranking"
	user, ct, err := partition(r)
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	var req types.AppendRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	dup, err := h.deps.Append(r.Context(), r.Header.Get(types.RequestIDHeader), user, model.RankedItem{
		ItemID:       req.ItemID,
		DisplayScore: req.Score,
		ContentType:  ct,
		Metadata: model.Metadata{
			Title:      req.Title,
			PosterPath: req.PosterPath,
			Year:       req.Year,
		},
	})
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	status := http.StatusCreated
	if dup {
		status = http.StatusOK
	}
	writeAck(w, status, dup)
}

// HandleReorder handles POST /v1/users/{user}/rankings/{type}/reorder.
func (h *RankingsHandler) HandleReorder(w http.ResponseWriter, r *http.Request) {
	const op = "api.reorder"
	user, ct, err := partition(r)
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	var req types.ReorderRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	dup, err := h.deps.Reorder(r.Context(), r.Header.Get(types.RequestIDHeader), user, ct, *req.FromIndex, *req.ToIndex)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeAck(w, http.StatusOK, dup)
}

// HandleDelete handles DELETE /v1/users/{user}/rankings/{type}/items/{item}.
func (h *RankingsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_ranking"
	user, ct, err := partition(r)
	if err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	item := strings.TrimSpace(r.PathValue("item"))
	if item == "" {
		writeError(w, NewKind(op, ErrBadRequest))
		return
	}
	dup, err := h.deps.Delete(r.Context(), r.Header.Get(types.RequestIDHeader), user, ct, item)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeAck(w, http.StatusOK, dup)
}

func writeAck(w http.ResponseWriter, status int, dup bool) {
	ack := types.Ack{Status: "ok", Duplicate: dup}
	if dup {
		ack.Status = "duplicate"
	}
	writeJSON(w, status, ack)
}
