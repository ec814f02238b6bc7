package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-fluent/internal/items"
)

func (s *Server) handleListRules(w http.ResponseWriter, _ *http.Request) {
	list := s.rules.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.rules.Get(chi.URLParam(r, "uid"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleEnableRule(w http.ResponseWriter, r *http.Request) {
	s.setRuleEnabled(w, r, true)
}

func (s *Server) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	s.setRuleEnabled(w, r, false)
}

// setRuleEnabled enables or disables a rule. A toggleable rule is switched
// through its switch item so the choice is persisted and survives restarts.
func (s *Server) setRuleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	uid := chi.URLParam(r, "uid")
	rule, err := s.rules.Get(uid)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if rule.Toggleable && rule.SwitchItem != "" {
		command := items.StateOff
		if enabled {
			command = items.StateOn
		}
		if err := s.items.SendCommand(r.Context(), rule.SwitchItem, command); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	if err := s.rules.SetEnabled(uid, enabled); err != nil {
		writeDomainError(w, err)
		return
	}

	rule, err = s.rules.Get(uid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.logger.Info("rule toggled via API", "uid", uid, "enabled", enabled)
	writeJSON(w, http.StatusOK, rule)
}
