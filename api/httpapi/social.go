package httpapi

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"progresskit/core"
)

// entryRef addresses the entry in the route; the owner is the path user.
func entryRef(r *http.Request) core.EntryRef {
	return core.EntryRef{Owner: userParam(r), EntryID: chi.URLParam(r, "entryID")}
}

// actor is the user acting on someone's entry, taken from ?user= and
// defaulting to the entry owner.
func actor(r *http.Request) core.UserID {
	if u := r.URL.Query().Get("user"); u != "" {
		return core.UserID(u)
	}
	return userParam(r)
}

type contentRequest struct {
	Content string `json:"content"`
}

func (a *api) listComments(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.Comments(r.Context(), entryRef(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (a *api) addComment(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := a.svc.AddComment(r.Context(), entryRef(r), actor(r), req.Content)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, c)
}

func (a *api) updateComment(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := a.svc.UpdateComment(r.Context(), entryRef(r), actor(r), chi.URLParam(r, "commentID"), req.Content)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, c)
}

func (a *api) deleteComment(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteComment(r.Context(), entryRef(r), actor(r), chi.URLParam(r, "commentID")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listReactions(w http.ResponseWriter, r *http.Request) {
	groups, err := a.svc.Reactions(r.Context(), entryRef(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, groups)
}

type reactionRequest struct {
	Type string `json:"type"`
}

// addReaction answers 201 for a new reaction and 200 when it already existed.
func (a *api) addReaction(w http.ResponseWriter, r *http.Request) {
	var req reactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rc, inserted, err := a.svc.React(r.Context(), entryRef(r), actor(r), req.Type)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
	}
	writeJSONStatus(w, status, map[string]any{"reaction": rc, "inserted": inserted})
}

func (a *api) removeReaction(w http.ResponseWriter, r *http.Request) {
	typ := chi.URLParam(r, "type")
	if unescaped, err := url.PathUnescape(typ); err == nil {
		typ = unescaped
	}
	removed, err := a.svc.Unreact(r.Context(), entryRef(r), actor(r), typ)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"removed": removed})
}

func (a *api) listTodos(w http.ResponseWriter, r *http.Request) {
	todos, err := a.svc.ListTodos(r.Context(), userParam(r), r.URL.Query().Get("status"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, todos)
}

func (a *api) createTodo(w http.ResponseWriter, r *http.Request) {
	var in core.TodoInput
	if !decodeBody(w, r, &in) {
		return
	}
	t, err := a.svc.CreateTodo(r.Context(), userParam(r), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, t)
}

func (a *api) getTodo(w http.ResponseWriter, r *http.Request) {
	t, err := a.svc.GetTodo(r.Context(), userParam(r), chi.URLParam(r, "todoID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, t)
}

func (a *api) updateTodo(w http.ResponseWriter, r *http.Request) {
	var p core.TodoPatch
	if !decodeBody(w, r, &p) {
		return
	}
	t, err := a.svc.UpdateTodo(r.Context(), userParam(r), chi.URLParam(r, "todoID"), p)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, t)
}

func (a *api) deleteTodo(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteTodo(r.Context(), userParam(r), chi.URLParam(r, "todoID")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
