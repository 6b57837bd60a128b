package registry

import "github.com/Secineralyr/Cotonestrum/internal/domain"

// Stats are the dashboard counters over the cached emojis.
type Stats struct {
	Emojis        int `json:"emojis"`
	DeletedEmojis int `json:"deleted_emojis"`
	Users         int `json:"users"`
	Risks         int `json:"risks"`
	Reasons       int `json:"reasons"`

	NeedCheck   int `json:"need_check"`
	Checked     int `json:"checked"`
	NeedRecheck int `json:"need_recheck"`

	LevelUnset  int `json:"level_unset"`
	LevelLow    int `json:"level_low"`
	LevelMedium int `json:"level_medium"`
	LevelHigh   int `json:"level_high"`
	LevelDanger int `json:"level_danger"`
}

// Stats computes the dashboard counters. An emoji whose risk is not cached
// counts as need_check with an unset level.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Emojis:        len(r.emojis),
		DeletedEmojis: len(r.deleted),
		Users:         len(r.users),
		Risks:         len(r.risks),
		Reasons:       len(r.reasons),
	}

	for _, e := range r.emojis {
		var risk domain.Risk
		found := false
		if e.RiskID != nil {
			risk, found = r.risks[*e.RiskID]
		}

		status := domain.CheckStatusNeedCheck
		var level *domain.RiskLevel
		if found {
			status = risk.Checked
			level = risk.Level
		}

		switch status {
		case domain.CheckStatusNeedCheck:
			s.NeedCheck++
		case domain.CheckStatusChecked:
			s.Checked++
		case domain.CheckStatusNeedRecheck:
			s.NeedRecheck++
		}

		if level == nil {
			s.LevelUnset++
			continue
		}
		switch *level {
		case domain.RiskLevelLow:
			s.LevelLow++
		case domain.RiskLevelMedium:
			s.LevelMedium++
		case domain.RiskLevelHigh:
			s.LevelHigh++
		case domain.RiskLevelDanger:
			s.LevelDanger++
		}
	}

	return s
}
