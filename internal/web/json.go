package web

import (
	"encoding/json"
	"time"

	"github.com/sweeney/brew-controller/internal/brew"
)

// ShotListJSON is the response body of /shots.
type ShotListJSON struct {
	Shots []ShotSummaryJSON `json:"shots"`
}

// ShotSummaryJSON describes a stored shot without its tick records.
type ShotSummaryJSON struct {
	ID       string           `json:"id"`
	Profile  string           `json:"profile"`
	Result   string           `json:"result"`
	Error    string           `json:"error,omitempty"`
	Started  string           `json:"started"`
	Finished string           `json:"finished"`
	Summary  brew.SummaryJSON `json:"summary"`
}

func formatShotList(shots []brew.Shot) []byte {
	list := ShotListJSON{Shots: make([]ShotSummaryJSON, 0, len(shots))}
	for _, s := range shots {
		list.Shots = append(list.Shots, ShotSummaryJSON{
			ID:       s.ID,
			Profile:  s.Log.Profile,
			Result:   string(s.Result),
			Error:    s.Err,
			Started:  s.Log.Started.UTC().Format(time.RFC3339),
			Finished: s.Finished.UTC().Format(time.RFC3339),
			Summary:  brew.FormatSummary(s.Log.Summary()),
		})
	}

	data, _ := json.MarshalIndent(list, "", "  ")
	return data
}
