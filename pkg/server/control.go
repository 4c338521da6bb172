package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alexliesenfeld/httpmock/internal/matching"
	"github.com/alexliesenfeld/httpmock/pkg/api"
	"github.com/alexliesenfeld/httpmock/pkg/httputil"
	"github.com/alexliesenfeld/httpmock/pkg/registry"
	"github.com/alexliesenfeld/httpmock/pkg/rule"
)

// controlMux wires the control API. It shares the instance listener with
// mocked traffic, so remote consumers need no second port.
func (c *Core) controlMux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+ControlPrefix+"/health", c.handleHealth)
	mux.HandleFunc("POST "+ControlPrefix+"/rules", c.handleCreateRule)
	mux.HandleFunc("GET "+ControlPrefix+"/rules", c.handleListRules)
	mux.HandleFunc("DELETE "+ControlPrefix+"/rules", c.handleDeleteAllRules)
	mux.HandleFunc("GET "+ControlPrefix+"/rules/{id}", c.handleGetRule)
	mux.HandleFunc("DELETE "+ControlPrefix+"/rules/{id}", c.handleDeleteRule)
	mux.HandleFunc("GET "+ControlPrefix+"/rules/{id}/hits", c.handleHits)
	mux.HandleFunc("GET "+ControlPrefix+"/rules/{id}/closest", c.handleClosest)
	mux.HandleFunc("GET "+ControlPrefix+"/history", c.handleHistory)
	mux.HandleFunc("DELETE "+ControlPrefix+"/history", c.handleClearHistory)
	mux.HandleFunc("POST "+ControlPrefix+"/reset", c.handleReset)

	return mux
}

func (c *Core) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteOK(w, map[string]string{"status": "ok"})
}

func (c *Core) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var spec api.RuleSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		httputil.WriteBadRequest(w, "invalid_body", "request body is not a valid rule: "+err.Error())
		return
	}

	built, err := spec.Build()
	if err != nil {
		var cfgErr *rule.ConfigurationError
		if errors.As(err, &cfgErr) {
			httputil.WriteBadRequest(w, "invalid_rule", cfgErr.Error())
			return
		}
		httputil.WriteBadRequest(w, "invalid_rule", err.Error())
		return
	}

	id, err := c.registry.Add(built)
	if err != nil {
		if errors.Is(err, registry.ErrDuplicateID) {
			httputil.WriteError(w, http.StatusConflict, "duplicate_rule", err.Error())
			return
		}
		httputil.WriteInternalError(w, "install_failed", err.Error())
		return
	}

	c.log.Debug("rule installed via control api", "rule_id", id)
	httputil.WriteCreated(w, map[string]string{"id": id})
}

// handleListRules returns the installed rules in match order. Rules holding
// in-process predicates cannot be serialized and are listed by ID only.
func (c *Core) handleListRules(w http.ResponseWriter, _ *http.Request) {
	rules := c.registry.List()
	specs := make([]*api.RuleSpec, 0, len(rules))
	for _, r := range rules {
		spec, err := api.FromRule(r)
		if err != nil {
			spec = &api.RuleSpec{ID: r.ID, Name: r.Name}
		}
		specs = append(specs, spec)
	}
	httputil.WriteOK(w, specs)
}

func (c *Core) handleDeleteAllRules(w http.ResponseWriter, _ *http.Request) {
	c.registry.Reset()
	httputil.WriteNoContent(w)
}

func (c *Core) handleGetRule(w http.ResponseWriter, r *http.Request) {
	installed, err := c.registry.Get(r.PathValue("id"))
	if err != nil {
		httputil.WriteNotFound(w, "rule_not_found", err.Error())
		return
	}
	spec, err := api.FromRule(installed)
	if err != nil {
		spec = &api.RuleSpec{ID: installed.ID, Name: installed.Name}
	}
	httputil.WriteOK(w, spec)
}

func (c *Core) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := c.registry.Remove(r.PathValue("id")); err != nil {
		httputil.WriteNotFound(w, "rule_not_found", err.Error())
		return
	}
	httputil.WriteNoContent(w)
}

func (c *Core) handleHits(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	hits, err := c.registry.Hits(id)
	if err != nil {
		httputil.WriteNotFound(w, "rule_not_found", err.Error())
		return
	}
	httputil.WriteOK(w, map[string]any{"id": id, "hits": hits})
}

// handleClosest explains why a rule did not match, using the request
// history. Remote assertion failures render this report.
func (c *Core) handleClosest(w http.ResponseWriter, r *http.Request) {
	installed, err := c.registry.Get(r.PathValue("id"))
	if err != nil {
		httputil.WriteNotFound(w, "rule_not_found", err.Error())
		return
	}
	httputil.WriteOK(w, matching.Explain(installed, c.history.List()))
}

func (c *Core) handleHistory(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteOK(w, c.history.List())
}

func (c *Core) handleClearHistory(w http.ResponseWriter, _ *http.Request) {
	c.history.Clear()
	httputil.WriteNoContent(w)
}

func (c *Core) handleReset(w http.ResponseWriter, _ *http.Request) {
	c.Reset()
	httputil.WriteNoContent(w)
}
